package googleauth

import (
	"context"

	"go.uber.org/zap"
)

// AcquireFunc performs one token request in the given mode.
type AcquireFunc func(ctx context.Context, interactive bool) (string, error)

// AcquisitionPolicy decides how token request modes are combined.
type AcquisitionPolicy interface {
	Acquire(ctx context.Context, request AcquireFunc) (string, error)
}

// SilentThenInteractive tries a silent refresh first and falls back to the
// interactive consent flow on any silent failure. Silent refresh routinely
// fails once the browser session has fully expired; interactive consent is
// the recovery path, and callers should not implement the fallback
// themselves.
type SilentThenInteractive struct {
	Logger *zap.Logger
}

// Acquire runs the two-tier strategy.
func (policy SilentThenInteractive) Acquire(ctx context.Context, request AcquireFunc) (string, error) {
	token, silentErr := request(ctx, false)
	if silentErr == nil {
		return token, nil
	}
	if policy.Logger != nil {
		policy.Logger.Warn("silent token request failed, falling back to consent",
			zap.String("code", "googleauth.policy.silent_fallback"),
			zap.Error(silentErr))
	}
	return request(ctx, true)
}
