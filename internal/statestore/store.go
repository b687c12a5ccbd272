package statestore

import (
	"context"
	"time"

	"github.com/mprlab/meeagent/internal/googleauth"
)

// DensityKey is the settings key holding the panel density/scale choice.
const DensityKey = "ui.density"

// ActivityLimit bounds the recent-activity log.
const ActivityLimit = 8

// ActivityEntry is one line of the recent-activity log, newest first.
type ActivityEntry struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	At    time.Time `json:"at"`
}

// Store is the durable local state of the agent: the mirrored auth token,
// panel settings, and the bounded recent-activity log.
type Store interface {
	googleauth.TokenPersistence

	SaveSetting(ctx context.Context, key string, value string) error
	LoadSetting(ctx context.Context, key string) (string, error)

	AppendActivity(ctx context.Context, title string, at time.Time) error
	RecentActivity(ctx context.Context) ([]ActivityEntry, error)
}
