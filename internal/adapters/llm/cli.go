package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/logging"
)

// CLIConfig configures a CLICompleter.
type CLIConfig struct {
	Command string   // executable, may contain leading arguments ("gh copilot")
	Args    []string // appended after Command
	WorkDir string
	Timeout time.Duration // zero means no limit beyond ctx
	Env     map[string]string
}

// CLICompleter runs an external command with the prompt on stdin and returns
// its stdout.
type CLICompleter struct {
	cfg    CLIConfig
	logger *logging.Logger
}

// NewCLICompleter creates a command-backed completer.
func NewCLICompleter(cfg CLIConfig, logger *logging.Logger) (*CLICompleter, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "cli command not configured")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CLICompleter{cfg: cfg, logger: logger}, nil
}

// commandResult holds the captured output of one execution.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Complete implements core.Completer.
func (c *CLICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", core.ErrValidation(core.CodeEmptyPrompt, "prompt is empty")
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	parts := strings.Fields(c.cfg.Command)
	args := append(append([]string(nil), parts[1:]...), c.cfg.Args...)

	// #nosec G204 -- command and args come from validated config
	cmd := exec.CommandContext(ctx, parts[0], args...)
	configureProcAttr(cmd)
	cmd.WaitDelay = time.Second
	cmd.Dir = c.cfg.WorkDir
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "QANALYZER_MANAGED=true")
	for k, v := range c.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	c.logger.Debug("cli: executing command", "path", parts[0], "args", args, "stdin_length", len(prompt))
	start := time.Now()
	err := cmd.Run()
	result := &commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		c.logger.Warn("cli: command timeout", "path", parts[0], "duration", result.Duration)
		return "", core.ErrTimeout(fmt.Sprintf("command timed out after %v", result.Duration.Round(time.Millisecond)))
	case errors.Is(ctx.Err(), context.Canceled):
		return "", core.ErrCancelled("command cancelled")
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			c.logger.Warn("cli: command failed",
				"path", parts[0],
				"exit_code", result.ExitCode,
				"stderr", truncate(result.Stderr, 500))
			return "", classifyCommandError(result)
		}
		return "", core.ErrExecution(core.CodeAgentFailed, fmt.Sprintf("executing command: %v", err)).WithCause(err)
	}

	out := strings.TrimSpace(result.Stdout)
	if out == "" {
		return "", core.ErrParse("command produced no output")
	}
	c.logger.Debug("cli: command completed", "path", parts[0], "duration", result.Duration, "stdout_length", len(out))
	return out, nil
}

// classifyCommandError turns a non-zero exit into a domain error.
func classifyCommandError(result *commandResult) error {
	msg := strings.TrimSpace(result.Stderr)
	if msg == "" {
		msg = errorFromOutput(result.Stdout)
	}
	if msg == "" {
		msg = "(no error message captured)"
	}

	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "rate limit", "too many requests", "429", "quota"):
		return core.ErrRateLimit(msg)
	case containsAny(lower, "unauthorized", "authentication", "api key", "forbidden"):
		return core.ErrAuth(msg)
	case containsAny(lower, "timed out", "timeout", "deadline"):
		return core.ErrTimeout(msg)
	case containsAny(lower, "connection", "network", "unreachable", "no such host"):
		return core.ErrTransport(msg)
	}
	return core.ErrExecution(core.CodeAgentFailed,
		fmt.Sprintf("command failed with exit code %d: %s", result.ExitCode, msg))
}

// errorFromOutput finds an error message in stdout. Many CLIs print JSON
// error objects there, usually at the end.
func errorFromOutput(stdout string) string {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if msg, ok := obj["error"].(string); ok && msg != "" {
			return msg
		}
		if errObj, ok := obj["error"].(map[string]any); ok {
			if msg, ok := errObj["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" && !strings.HasPrefix(line, "{") {
			return truncate(line, 200)
		}
	}
	return ""
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
