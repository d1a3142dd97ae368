package config

// DefaultConfigYAML is written by `quorum-analyzer init`. Values not listed
// here fall back to the loader defaults.
const DefaultConfigYAML = `# quorum-analyzer configuration
#
# Environment variables override file values: QANALYZER_<SECTION>_<KEY>,
# e.g. QANALYZER_COMPLETION_MODEL=gpt-4o.

log:
  level: info
  format: auto

# Completion backend used by every specialist.
#   openai: OpenAI-compatible HTTP API (set base_url for local gateways)
#   cli:    external command reading the prompt on stdin
#   static: fixed response, for dry runs
completion:
  provider: openai
  model: gpt-4o-mini
  api_key_env: OPENAI_API_KEY
  timeout: 120s
  temperature: 0

# Sliding window per specialty.
rate_limit:
  capacity: 5
  window: 60s

resilience:
  max_attempts: 3
  base_delay: 1s
  max_delay: 30s
  call_timeout: 90s
  failure_threshold: 5
  cool_down: 60s

orchestration:
  # Empty runs every registered specialty.
  specialties: []
  min_successful_agents: 1

consensus:
  dedup_threshold: 0.6
  conflict_penalty: 0.75

determinism:
  run_count: 5
  delay_between_runs: 2s
  consistency_threshold: 0.70

ground_truth:
  min_match_confidence: 60
  severity_tolerance: 1
  line_tolerance: 5
  count_partial_matches: true

store:
  path: .quorum-analyzer/reports.db

server:
  addr: 127.0.0.1:8089
`
