package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const statsKey = "smtpstrip:stats"

// Hash fields of statsKey.
const (
	fieldActive         = "active"
	fieldSessions       = "sessions"
	fieldFailed         = "failed"
	fieldStripped       = "starttls_stripped"
	fieldCredentials    = "credentials"
	fieldClientToRemote = "bytes_client_to_remote"
	fieldRemoteToClient = "bytes_remote_to_client"
)

type redisStore struct {
	client *redis.Client
}

// NewRedis connects to Redis and returns a Store kept in a single hash.
func NewRedis(ctx context.Context, addr, password string, db int) (Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &redisStore{client: rdb}, nil
}

var _ Store = (*redisStore)(nil)

func (r *redisStore) SessionOpened(ctx context.Context) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, statsKey, fieldActive, 1)
		p.HIncrBy(ctx, statsKey, fieldSessions, 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis session opened: %w", err)
	}
	return nil
}

func (r *redisStore) SessionClosed(ctx context.Context, rec Record) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, statsKey, fieldActive, -1)
		if rec.Failed {
			p.HIncrBy(ctx, statsKey, fieldFailed, 1)
		}
		if rec.StartTLSStripped {
			p.HIncrBy(ctx, statsKey, fieldStripped, 1)
		}
		if rec.Credentials > 0 {
			p.HIncrBy(ctx, statsKey, fieldCredentials, int64(rec.Credentials))
		}
		p.HIncrBy(ctx, statsKey, fieldClientToRemote, rec.ClientToRemote)
		p.HIncrBy(ctx, statsKey, fieldRemoteToClient, rec.RemoteToClient)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis session closed: %w", err)
	}
	return nil
}

func (r *redisStore) Snapshot(ctx context.Context) (Snapshot, error) {
	vals, err := r.client.HGetAll(ctx, statsKey).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis snapshot: %w", err)
	}
	var s Snapshot
	for field, dst := range map[string]*int64{
		fieldActive:         &s.Active,
		fieldSessions:       &s.Sessions,
		fieldFailed:         &s.Failed,
		fieldStripped:       &s.Stripped,
		fieldCredentials:    &s.Credentials,
		fieldClientToRemote: &s.ClientToRemote,
		fieldRemoteToClient: &s.RemoteToClient,
	} {
		v, ok := vals[field]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("redis snapshot field %s: %w", field, err)
		}
		*dst = n
	}
	s.Now = now()
	return s, nil
}

func (r *redisStore) Close() error { return r.client.Close() }
