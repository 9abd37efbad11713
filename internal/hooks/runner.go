package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
)

// DefaultTimeout applies to hooks whose definition sets none.
const DefaultTimeout = 30 * time.Second

// Environment variables exported to hook subprocesses.
const (
	EnvEvent       = "TASKFORGE_EVENT"
	EnvHookID      = "TASKFORGE_HOOK_ID"
	EnvProjectRoot = "TASKFORGE_PROJECT_ROOT"
	EnvHooksDir    = "TASKFORGE_HOOKS_DIR"
)

// runner launches hook subprocesses: payload JSON on stdin, env extended
// with event context, entire stdout read after exit. Hooks run synchronously
// and block the caller until exit or timeout.
type runner struct {
	projectRoot string
	logger      zerolog.Logger
}

func (r *runner) run(ctx context.Context, def Definition, p Payload) (Payload, error) {
	input, err := p.Encode()
	if err != nil {
		return p, &tferrors.HookError{HookID: def.ID, Event: p.Event(), Err: err}
	}

	timeout := DefaultTimeout
	if def.TimeoutSeconds != nil {
		timeout = time.Duration(*def.TimeoutSeconds * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, def.Command[0], def.Command[1:]...)
	cmd.Dir = r.projectRoot
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = append(os.Environ(),
		EnvEvent+"="+p.Event(),
		EnvHookID+"="+def.ID,
		EnvProjectRoot+"="+r.projectRoot,
		EnvHooksDir+"="+HooksDir(r.projectRoot),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug().Str("hook", def.ID).Str("event", p.Event()).Msg("running hook")
	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if stderr.Len() > 0 {
		r.logger.Debug().Str("hook", def.ID).Str("stderr", stderr.String()).Msg("hook stderr")
	}

	if ctx.Err() == context.DeadlineExceeded {
		return p, &tferrors.HookError{
			HookID: def.ID, Event: p.Event(), Timeout: true,
			Err: fmt.Errorf("killed after %s", elapsed.Round(time.Millisecond)),
		}
	}
	if err != nil {
		return p, &tferrors.HookError{
			HookID: def.ID, Event: p.Event(),
			Err: fmt.Errorf("%v (stderr: %s)", err, bytes.TrimSpace(stderr.Bytes())),
		}
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		// Empty output leaves the payload unchanged.
		return p, nil
	}

	var rewritten map[string]any
	if err := json.Unmarshal(out, &rewritten); err != nil {
		return p, &tferrors.HookError{
			HookID: def.ID, Event: p.Event(),
			Err: fmt.Errorf("stdout is not a JSON object: %w", err),
		}
	}
	// "null" unmarshals into a nil map without error; that is not an object
	// and must not wipe the payload.
	if rewritten == nil {
		return p, &tferrors.HookError{
			HookID: def.ID, Event: p.Event(),
			Err: fmt.Errorf("stdout is not a JSON object: got null"),
		}
	}
	return p.WithData(rewritten), nil
}
