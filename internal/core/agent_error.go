package core

import (
	"errors"
	"math"
	"time"
)

// ErrorConverter turns a specialist failure into an actionable
// AgentErrorResult. The mapping is deterministic: the same failure category
// always yields the same code, remediation steps and retry hint.
type ErrorConverter struct {
	RateLimitDelay time.Duration
	TimeoutDelay   time.Duration
	NetworkDelay   time.Duration
}

// DefaultErrorConverter returns the converter used by the coordinator.
func DefaultErrorConverter() ErrorConverter {
	return ErrorConverter{
		RateLimitDelay: 60 * time.Second,
		TimeoutDelay:   30 * time.Second,
		NetworkDelay:   10 * time.Second,
	}
}

// ToAgentError converts err for the given specialty.
func (c ErrorConverter) ToAgentError(specialty Specialty, err error) AgentErrorResult {
	res := AgentErrorResult{
		Specialty: specialty,
		Message:   err.Error(),
	}

	var coe *CircuitOpenError
	if errors.As(err, &coe) {
		res.ErrorCode = CodeCircuitOpen
		res.Retryable = true
		res.RetryDelaySeconds = ceilSeconds(coe.RetryAfter)
		res.RemediationSteps = stepsFor(ErrCatCircuitOpen)
		return res
	}

	cat := GetCategory(err)
	res.RemediationSteps = stepsFor(cat)
	switch cat {
	case ErrCatTimeout:
		res.ErrorCode = CodeTimeout
		res.Retryable = true
		res.RetryDelaySeconds = ceilSeconds(c.TimeoutDelay)
	case ErrCatNetwork:
		res.ErrorCode = CodeTransport
		res.Retryable = true
		res.RetryDelaySeconds = ceilSeconds(c.NetworkDelay)
	case ErrCatRateLimit:
		res.ErrorCode = CodeRateLimited
		res.Retryable = true
		res.RetryDelaySeconds = ceilSeconds(c.RateLimitDelay)
	case ErrCatAuth:
		res.ErrorCode = CodeUnauthorized
	case ErrCatValidation:
		res.ErrorCode = CodeInvalidConfig
	case ErrCatCancelled:
		res.ErrorCode = CodeCancelled
		res.Retryable = true
	case ErrCatParse:
		res.ErrorCode = CodeParseFailed
		res.Retryable = true
	case ErrCatExecution:
		res.ErrorCode = CodeAgentFailed
		res.RemediationSteps = stepsFor(ErrCatInternal)
	default:
		res.ErrorCode = CodeUnknown
		res.RemediationSteps = stepsFor(ErrCatInternal)
	}
	return res
}

func stepsFor(cat ErrorCategory) []string {
	return append([]string(nil), remediation[cat]...)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

var remediation = map[ErrorCategory][]string{
	ErrCatTimeout: {
		"Retry the analysis; the completion service may be under load.",
		"Reduce the number or size of submitted files.",
		"Increase resilience.call_timeout if timeouts persist.",
	},
	ErrCatNetwork: {
		"Check network connectivity to the completion service.",
		"Verify completion.base_url and any proxy settings.",
		"Retry once connectivity is restored.",
	},
	ErrCatRateLimit: {
		"Wait for the provider rate-limit window to reset before retrying.",
		"Lower rate_limit.capacity or run fewer specialties at once.",
		"Check the account quota with the provider.",
	},
	ErrCatAuth: {
		"Verify the API key referenced by completion.api_key_env is set and valid.",
		"Confirm the account has access to the configured model.",
	},
	ErrCatValidation: {
		"Review the configuration reported in the error message.",
		"Run 'quorum-analyzer config validate' to list all configuration problems.",
	},
	ErrCatCircuitOpen: {
		"The completion service failed repeatedly; wait for the cool-down to elapse.",
		"Check the provider status page before retrying.",
	},
	ErrCatCancelled: {
		"The analysis was cancelled before this agent finished; rerun it if needed.",
	},
	ErrCatParse: {
		"The model returned output that was not valid analysis JSON; retry the analysis.",
		"Consider a model with stronger JSON adherence.",
	},
	ErrCatInternal: {
		"Retry the analysis.",
		"Run with --log-level debug and report the error if it persists.",
	},
}
