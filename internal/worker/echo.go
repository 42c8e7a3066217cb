package worker

import (
	"context"
	"strings"

	"github.com/noteflowhq/noteflow/internal/event"
)

// EchoExecutor is the built-in stand-in for a real execution sandbox: it
// streams the cell source back as output. Useful for exercising the full
// coordination path without a Python or SQL runtime attached.
type EchoExecutor struct{}

func (EchoExecutor) Execute(_ context.Context, spec ExecSpec) ([]Fragment, error) {
	if strings.TrimSpace(spec.Source) == "" {
		return nil, nil
	}
	return []Fragment{
		{
			OutputType: event.OutputTypeStream,
			Data:       map[string]string{"text/plain": spec.Source},
		},
	}, nil
}
