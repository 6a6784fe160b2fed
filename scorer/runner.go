package scorer

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/medguard-ai/medguard/logger"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec. The process is killed when ctx ends.
type ExecRunner struct {
	Dir    string
	Env    []string
	Logger logger.Logger
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.WaitDelay = 2 * time.Second
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if r.Logger != nil {
		fields := map[string]interface{}{
			"cmd":         name,
			"args":        strings.Join(args, " "),
			"duration_ms": dur.Milliseconds(),
		}
		if err != nil {
			fields["error"] = err.Error()
			fields["stderr"] = tail(errb.String(), 8<<10)
			r.Logger.Error(ctx, "scorer process failed", fields)
		} else {
			fields["stdout_bytes"] = out.Len()
			r.Logger.Debug(ctx, "scorer process finished", fields)
		}
	}

	return out.Bytes(), errb.Bytes(), err
}

// tail keeps the last max bytes of s.
func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "...(truncated)" + s[len(s)-max:]
}
