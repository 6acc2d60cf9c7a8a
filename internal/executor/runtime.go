package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Runtime describes the shell an execution runs under. A fresh script
// file and command are constructed per execution; nothing is reused
// across runs.
type Runtime struct {
	// Shell is the interpreter binary, e.g. "pwsh".
	Shell string
	// Args precede the script path.
	Args []string
	// Constrained enables the restricted language mode. It is a security
	// boundary: when it cannot be enforced the execution must not start.
	Constrained bool
	// Version is reported on execution records.
	Version string
}

// guardExit is the exit code the constrained-mode preamble uses when the
// runtime failed to enter the restricted language mode.
const guardExit = 199

const constrainedGuard = `if ($ExecutionContext.SessionState.LanguageMode -ne 'ConstrainedLanguage') {
	[Console]::Error.WriteLine('constrained language mode is not active, refusing to run')
	exit 199
}
`

var errConstraintUnsupported = errors.New("constrained mode requires a PowerShell runtime")

// buildCommand writes the script to a per-execution temp file and
// returns the command plus a cleanup func. With Constrained set, the
// lockdown policy is forced through the environment and a guard preamble
// aborts the run if the runtime did not honor it (fail-closed).
func (rt Runtime) buildCommand(ctx context.Context, id, scriptText string, params map[string]string) (*exec.Cmd, func(), error) {
	if rt.Constrained && !rt.isPowerShell() {
		return nil, nil, errConstraintUnsupported
	}

	body := scriptText
	ext := ".sh"
	if rt.isPowerShell() {
		ext = ".ps1"
		if rt.Constrained {
			body = constrainedGuard + body
		}
	}

	dir, err := os.MkdirTemp("", "scriptforge-"+id)
	if err != nil {
		return nil, nil, fmt.Errorf("create execution dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	scriptPath := filepath.Join(dir, "script"+ext)
	if err := os.WriteFile(scriptPath, []byte(body), 0700); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("write script: %w", err)
	}

	args := append(append([]string{}, rt.Args...), scriptPath)
	cmd := exec.CommandContext(ctx, rt.Shell, args...)
	cmd.Dir = dir

	// The script runs in its own process group so cancellation reaches
	// child processes too; killing only the shell would leave children
	// holding the output pipes and block Wait until they exit.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = 3 * time.Second

	cmd.Env = os.Environ()
	if rt.Constrained {
		// Forces ConstrainedLanguage in PowerShell; the guard preamble
		// verifies it took effect.
		cmd.Env = append(cmd.Env, "__PSLockdownPolicy=4")
	}
	for name, value := range params {
		cmd.Env = append(cmd.Env, "SCRIPT_PARAM_"+strings.ToUpper(name)+"="+value)
	}

	return cmd, cleanup, nil
}

func (rt Runtime) isPowerShell() bool {
	base := strings.ToLower(filepath.Base(rt.Shell))
	return base == "pwsh" || base == "powershell" || base == "pwsh.exe" || base == "powershell.exe"
}

// commandCount approximates the number of commands in a script: lines
// that are neither blank nor comments.
func commandCount(scriptText string) int {
	count := 0
	for _, line := range strings.Split(scriptText, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		count++
	}
	return count
}
