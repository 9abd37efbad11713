package hooks

import (
	"context"

	"github.com/rs/zerolog"
)

// Bus holds a project's hooks grouped by event and runs them as a chain.
// Hooks for one event run strictly in manifest order, sequentially; a hook
// program can assume no concurrent invocation for the same event within one
// action.
type Bus struct {
	projectRoot string
	byEvent     map[string][]Definition
	runner      *runner
	logger      zerolog.Logger
}

// NewBus builds a bus from a loaded manifest. A nil manifest yields an empty
// bus whose Mutate and Emit are fast no-ops.
func NewBus(manifest *Manifest, projectRoot string, logger zerolog.Logger) *Bus {
	logger = logger.With().Str("component", "hooks.bus").Logger()
	b := &Bus{
		projectRoot: projectRoot,
		byEvent:     make(map[string][]Definition),
		runner:      &runner{projectRoot: projectRoot, logger: logger},
		logger:      logger,
	}
	if manifest != nil {
		for _, h := range manifest.Hooks {
			b.byEvent[h.Event] = append(b.byEvent[h.Event], h)
		}
	}
	return b
}

// HasHooks reports whether any hook is registered for event.
func (b *Bus) HasHooks(event string) bool { return len(b.byEvent[event]) > 0 }

// Mutate runs the pre-event chain: each hook may rewrite the payload data,
// and the possibly-rewritten data is returned for the caller to validate and
// act on. A failure (unless the hook declares continue_on_error) aborts the
// chain and must block the enclosing action.
func (b *Bus) Mutate(ctx context.Context, event string, data map[string]any) (map[string]any, error) {
	p, err := b.runChain(ctx, event, data)
	if err != nil {
		return nil, err
	}
	return p.Data(), nil
}

// Emit runs the post-event chain. Hooks observe only: their output still
// feeds the next hook in the chain, but the final payload is discarded and
// never applied to already-persisted state.
func (b *Bus) Emit(ctx context.Context, event string, data map[string]any) error {
	_, err := b.runChain(ctx, event, data)
	return err
}

func (b *Bus) runChain(ctx context.Context, event string, data map[string]any) (Payload, error) {
	p := NewPayload(event, b.projectRoot, data)
	defs := b.byEvent[event]
	if len(defs) == 0 {
		return p, nil
	}

	for _, def := range defs {
		next, err := b.runner.run(ctx, def, p)
		if err != nil {
			if def.ContinueOnError {
				b.logger.Warn().Str("hook", def.ID).Str("event", event).Err(err).
					Msg("hook failed, continuing")
				continue
			}
			return p, err
		}
		p = next
	}
	return p, nil
}

// noopBus is the hookless implementation used when no bus is injected.
type noopBus struct{}

func (noopBus) Mutate(_ context.Context, _ string, data map[string]any) (map[string]any, error) {
	return data, nil
}

func (noopBus) Emit(context.Context, string, map[string]any) error { return nil }

// Pipeline is the capability the orchestrator depends on. *Bus implements
// it; NoopPipeline supplies the hookless behavior.
type Pipeline interface {
	Mutate(ctx context.Context, event string, data map[string]any) (map[string]any, error)
	Emit(ctx context.Context, event string, data map[string]any) error
}

// NoopPipeline returns a pipeline that behaves as if hooks did not exist.
func NoopPipeline() Pipeline { return noopBus{} }

var _ Pipeline = (*Bus)(nil)
