package inference

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/visage/internal/resilience"
)

// LoadWithFallback loads model with opts. If opts asks for acceleration and
// that load fails, it retries exactly once on the CPU. A load that was not
// accelerated to begin with is not retried.
func LoadWithFallback(ctx context.Context, l Loader, model []byte, opts LoadOptions) (Session, error) {
	if !opts.PreferAccelerated {
		sess, err := l.Load(ctx, model, opts)
		if err != nil {
			return nil, fmt.Errorf("inference: load: %w", err)
		}
		return sess, nil
	}

	fg := resilience.NewFallbackGroup(opts, "accelerated", resilience.FallbackConfig{})
	fg.AddFallback("cpu", opts.CPUOnly())

	sess, err := resilience.ExecuteWithResult(ctx, fg, func(ctx context.Context, o LoadOptions) (Session, error) {
		s, err := l.Load(ctx, model, o)
		if err != nil && o.PreferAccelerated {
			slog.Warn("accelerated model load failed, retrying on cpu", "provider", o.Provider, "err", err)
		}
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("inference: load: %w", err)
	}
	return sess, nil
}
