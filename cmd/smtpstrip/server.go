package main

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matst80/smtpstrip/internal/obs"
	"github.com/matst80/smtpstrip/internal/relay"
	"github.com/matst80/smtpstrip/internal/stats"
)

// server accepts clients and runs one relay session per connection.
type server struct {
	relay *relay.Relay
	store stats.Store
	log   *obs.Logger

	wg      sync.WaitGroup
	ready   atomic.Bool
	closing atomic.Bool
}

// serve accepts until ln is closed or ctx is done, then waits for live sessions.
func (s *server) serve(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		s.closing.Store(true)
		_ = ln.Close()
	}()
	s.ready.Store(true)
	defer s.wg.Wait()
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				obs.ErrorsTotal.WithLabelValues("accept").Inc()
				s.log.Error("accept.timeout", obs.Fields{"err": err.Error()})
				continue
			}
			s.log.Error("accept", obs.Fields{"err": err.Error()})
			obs.ErrorsTotal.WithLabelValues("accept").Inc()
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleSession(ctx, c)
		}()
	}
}

// handleSession runs one session and logs its outcome. Errors never leave here.
func (s *server) handleSession(ctx context.Context, c net.Conn) {
	if err := s.store.SessionOpened(ctx); err != nil {
		s.log.Error("stats.opened", obs.Fields{"err": err.Error()})
	}
	sum, err := s.relay.Run(ctx, c)
	fields := obs.Fields{
		"session":          sum.ID,
		"client":           sum.Client,
		"remote":           sum.Remote,
		"duration_ms":      sum.Duration.Milliseconds(),
		"client_to_remote": sum.ClientToRemote,
		"remote_to_client": sum.RemoteToClient,
		"starttls_strip":   sum.StartTLSStripped,
		"credentials":      sum.Credentials,
	}
	kind := relay.ErrorKind(err)
	switch kind {
	case "":
		s.log.Info("session.closed", fields)
	case "shutdown":
		s.log.Info("session.shutdown", fields)
	default:
		fields["err"] = err.Error()
		fields["type"] = kind
		s.log.Error("session.error", fields)
		obs.ErrorsTotal.WithLabelValues(kind).Inc()
	}

	rec := stats.Record{
		ClientToRemote:   sum.ClientToRemote,
		RemoteToClient:   sum.RemoteToClient,
		StartTLSStripped: sum.StartTLSStripped,
		Credentials:      sum.Credentials,
		Failed:           kind != "" && kind != "shutdown",
	}
	// ctx may already be cancelled on shutdown; the final count must still land.
	storeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.SessionClosed(storeCtx, rec); err != nil {
		s.log.Error("stats.closed", obs.Fields{"err": err.Error()})
	}
}
