package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/valet/internal/sandbox"
)

// Commands refused outright, no matter where they run. The executor is
// opaque; this filter is the gateway's own line of defense.
var execDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[a-z]*[rf]`),
	regexp.MustCompile(`\bmkfs\b|\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\b(curl|wget)\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bbase64\s+-d\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bsudo\b|\bsu\s+-`),
	regexp.MustCompile(`\b(mount|umount|nsenter|unshare)\b`),
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`/var/run/docker\.sock`),
	regexp.MustCompile(`\bchmod\s+[0-7]{3,4}\s+/`),
	regexp.MustCompile(`\bchown\b.*\s+/`),
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`/dev/tcp/`),
	regexp.MustCompile(`\bmkfifo\b`),
	regexp.MustCompile(`\b(killall|pkill)\b`),
	regexp.MustCompile(`^\s*env\s*($|\|)|\bprintenv\b`),
	regexp.MustCompile(`>\s*~?/?\.(bashrc|bash_profile|profile|zshrc)`),
}

// ExecTool runs shell commands through the configured executor.
type ExecTool struct {
	executor   sandbox.Executor
	workingDir string
	timeout    time.Duration
}

func NewExecTool(executor sandbox.Executor, workingDir string, timeout time.Duration) *ExecTool {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ExecTool{executor: executor, workingDir: workingDir, timeout: timeout}
}

func (t *ExecTool) Name() string { return "exec" }
func (t *ExecTool) Description() string {
	return "Execute a shell command and return its output"
}
func (t *ExecTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to run",
			},
			"timeout_seconds": map[string]any{
				"type":        "number",
				"description": "Optional timeout override in seconds",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) *Result {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}

	for _, pattern := range execDenyPatterns {
		if pattern.MatchString(command) {
			return ErrorResult(fmt.Sprintf("command rejected by safety policy: matches %s", pattern.String()))
		}
	}

	timeout := t.timeout
	if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	res, err := t.executor.Exec(ctx, command, t.workingDir, nil, timeout)
	if err != nil {
		return ErrorResult(fmt.Sprintf("exec failed: %v", err)).WithError(err)
	}

	var b strings.Builder
	if res.Stdout != "" {
		b.WriteString(res.Stdout)
	}
	if res.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("stderr:\n")
		b.WriteString(res.Stderr)
	}
	if res.TimedOut {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "command timed out after %s", timeout)
		return ErrorResult(b.String())
	}
	if res.ExitCode != 0 {
		fmt.Fprintf(&b, "\nexit code %d", res.ExitCode)
		return ErrorResult(strings.TrimSpace(b.String()))
	}
	if b.Len() == 0 {
		return NewResult("(no output)")
	}
	return NewResult(b.String())
}
