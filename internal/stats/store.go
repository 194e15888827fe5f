package stats

import (
	"context"
	"time"

	"github.com/matst80/smtpstrip/internal/obs"
)

// Record is what a finished session contributes to the counters.
// Credential content never reaches a Store, only how many were seen.
type Record struct {
	ClientToRemote   int64
	RemoteToClient   int64
	StartTLSStripped bool
	Credentials      int
	Failed           bool
}

// Snapshot is the aggregated view served on /api/stats.
type Snapshot struct {
	Active         int64  `json:"active"`
	Sessions       int64  `json:"sessions"`
	Failed         int64  `json:"failed"`
	Stripped       int64  `json:"starttls_stripped"`
	Credentials    int64  `json:"credentials"`
	ClientToRemote int64  `json:"bytes_client_to_remote"`
	RemoteToClient int64  `json:"bytes_remote_to_client"`
	Now            string `json:"now"`
}

// Store keeps session counters. The Redis implementation lets several relay
// instances share one view.
type Store interface {
	SessionOpened(ctx context.Context) error
	SessionClosed(ctx context.Context, r Record) error
	Snapshot(ctx context.Context) (Snapshot, error)
	Close() error
}

// New returns an in-memory store, or a Redis-backed one when redisAddr is set.
func New(ctx context.Context, redisAddr, redisPassword string, redisDB int, log *obs.Logger) (Store, error) {
	if redisAddr == "" {
		log.Info("stats.backend", obs.Fields{"type": "in-memory"})
		return NewMemory(), nil
	}
	log.Info("stats.backend", obs.Fields{"type": "redis", "addr": redisAddr})
	return NewRedis(ctx, redisAddr, redisPassword, redisDB)
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
