package calendar

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mprlab/meeagent/internal/extract"
)

// TokenSupplier is the slice of the auth service the adder needs.
type TokenSupplier interface {
	EnsureToken(ctx context.Context) (string, error)
	GetTokenSilent(ctx context.Context) (string, error)
}

// ActivityRecorder captures one completed add for the recent-activity log.
type ActivityRecorder interface {
	AppendActivity(ctx context.Context, title string, at time.Time) error
}

// Adder runs the add-to-calendar flow: shape the payload, ensure a token,
// create, and recover an expired token exactly once.
type Adder struct {
	client   *Client
	tokens   TokenSupplier
	activity ActivityRecorder
	logger   *zap.Logger
}

// NewAdder wires the add flow.
func NewAdder(client *Client, tokens TokenSupplier, activity ActivityRecorder, logger *zap.Logger) *Adder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adder{
		client:   client,
		tokens:   tokens,
		activity: activity,
		logger:   logger,
	}
}

// Add creates the event on the user's calendar. An expired-token answer from
// the proxy triggers exactly one silent refresh and one retry; a second
// expiry surfaces to the caller rather than escalating to a consent prompt.
func (adder *Adder) Add(ctx context.Context, event extract.EventLite, calendarID string) (CreateResult, error) {
	payload, shapeErr := PayloadFrom(event, DefaultEventDuration)
	if shapeErr != nil {
		return CreateResult{}, shapeErr
	}

	accessToken, tokenErr := adder.tokens.EnsureToken(ctx)
	if tokenErr != nil {
		return CreateResult{}, tokenErr
	}

	result, createErr := adder.client.CreateEvent(ctx, accessToken, calendarID, payload)
	if errors.Is(createErr, ErrTokenExpired) {
		adder.logger.Warn("proxy reported expired token, refreshing once",
			zap.String("code", "calendar.add.token_refresh"))
		freshToken, refreshErr := adder.tokens.GetTokenSilent(ctx)
		if refreshErr != nil {
			return CreateResult{}, refreshErr
		}
		result, createErr = adder.client.CreateEvent(ctx, freshToken, calendarID, payload)
	}
	if createErr != nil {
		return CreateResult{}, createErr
	}

	if adder.activity != nil {
		if recordErr := adder.activity.AppendActivity(ctx, payload.Summary, time.Now().UTC()); recordErr != nil {
			adder.logger.Warn("activity append failed",
				zap.String("code", "calendar.add.activity_failed"),
				zap.Error(recordErr))
		}
	}
	return result, nil
}
