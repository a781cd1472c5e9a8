package executors

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// stderrTail bounds how much tool output is kept in an error message.
const stderrTail = 400

// commandError classifies a failed external command. marker applies when
// the tool ran and rejected its input; missing tools are permanent and
// timeouts transient.
func commandError(ctx context.Context, marker error, stage domain.Stage, tool string, res Result, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return domain.Wrap(domain.ErrTransient, stage, tool, "timed out", context.DeadlineExceeded)
	case errors.Is(ctx.Err(), context.Canceled):
		return domain.Wrap(domain.ErrTransient, stage, tool, "cancelled", context.Canceled)
	case errors.Is(err, exec.ErrNotFound):
		return domain.Wrap(domain.ErrPermanent, stage, tool, "not installed", err)
	}
	msg := fmt.Sprintf("exit code %d", res.ExitCode)
	if tail := tail(res.Stderr); tail != "" {
		msg += ": " + tail
	}
	return domain.Wrap(marker, stage, tool, msg, err)
}

// storeError wraps an artifact store failure. Store errors keep their own
// classification (throttling, denied access). A missing input artifact
// will not reappear on retry and fails the unit; anything else is retried.
func storeError(stage domain.Stage, op, key string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Wrap(domain.ErrPermanent, stage, op, "missing artifact "+key, err)
	}
	return domain.Wrap(domain.ErrTransient, stage, op, key, err)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= stderrTail {
		return s
	}
	return "..." + s[len(s)-stderrTail:]
}
