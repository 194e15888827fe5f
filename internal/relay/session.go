package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"sync/atomic"
	"time"

	"github.com/matst80/smtpstrip/internal/obs"
)

// Relay runs sessions between accepted clients and one fixed SMTP server.
type Relay struct {
	remote string
	dialer Dialer
	log    *obs.Logger
}

// New returns a Relay dialing remote (host:port) through dialer.
func New(remote string, dialer Dialer, log *obs.Logger) *Relay {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if log == nil {
		log = obs.Nop()
	}
	return &Relay{remote: remote, dialer: dialer, log: log}
}

// Remote returns the upstream address.
func (r *Relay) Remote() string { return r.remote }

// Summary describes a finished session. It never carries captured credentials.
type Summary struct {
	ID               string
	Client           string
	Remote           string
	Started          time.Time
	Duration         time.Duration
	ClientToRemote   int64
	RemoteToClient   int64
	StartTLSStripped bool
	Credentials      int
}

type record struct {
	id          string
	client      string
	started     time.Time
	bytes       [2]atomic.Int64
	stripped    atomic.Bool
	credentials atomic.Int32
}

func (rec *record) summary(remote string) Summary {
	return Summary{
		ID:               rec.id,
		Client:           rec.client,
		Remote:           remote,
		Started:          rec.started,
		Duration:         time.Since(rec.started),
		ClientToRemote:   rec.bytes[clientToRemote.idx].Load(),
		RemoteToClient:   rec.bytes[remoteToClient.idx].Load(),
		StartTLSStripped: rec.stripped.Load(),
		Credentials:      int(rec.credentials.Load()),
	}
}

// Run relays client to the remote server until both directions reach EOF or
// one of them fails. The first failure is returned and the other direction is
// abandoned. Both connections are closed when Run returns. If the remote
// cannot be reached, nothing is read from or written to client.
func (r *Relay) Run(ctx context.Context, client net.Conn) (Summary, error) {
	defer client.Close()
	rec := &record{id: newSessionID(), client: client.RemoteAddr().String(), started: time.Now()}

	remote, err := r.dialer.DialContext(ctx, "tcp", r.remote)
	if err != nil {
		return rec.summary(r.remote), &ConnectError{Addr: r.remote, Err: err}
	}
	defer remote.Close()

	if err := r.setNoDelay(remote, "remote"); err != nil {
		return rec.summary(r.remote), err
	}
	if err := r.setNoDelay(client, "client"); err != nil {
		return rec.summary(r.remote), err
	}

	obs.SessionsTotal.Inc()
	obs.ActiveSessions.Inc()
	defer func() {
		obs.ActiveSessions.Dec()
		obs.SessionDurationSeconds.Observe(time.Since(rec.started).Seconds())
	}()
	r.log.Info("session.open", obs.Fields{"session": rec.id, "client": rec.client, "remote": r.remote})

	// Buffered so an abandoned pump can still report after Run has returned.
	errc := make(chan error, 2)
	go func() {
		errc <- r.forward(pump{dir: clientToRemote, log: r.log, rec: rec}, client, remote)
	}()
	go func() {
		errc <- r.forward(pump{dir: remoteToClient, log: r.log, rec: rec}, remote, client)
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errc:
			if err != nil {
				return rec.summary(r.remote), err
			}
		case <-ctx.Done():
			return rec.summary(r.remote), ctx.Err()
		}
	}
	return rec.summary(r.remote), nil
}

// forward runs p and then half-closes dst so the peer sees EOF.
func (r *Relay) forward(p pump, src, dst net.Conn) error {
	if err := p.run(src, dst); err != nil {
		return err
	}
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return &IOError{Dir: p.dir.label, Op: "shutdown", Err: err}
		}
	}
	return nil
}

func (r *Relay) setNoDelay(c net.Conn, side string) error {
	nd, ok := c.(interface{ SetNoDelay(bool) error })
	if !ok {
		r.log.Debug("session.nodelay.unsupported", obs.Fields{"side": side})
		return nil
	}
	if err := nd.SetNoDelay(true); err != nil {
		return &SocketConfigError{Side: side, Err: err}
	}
	return nil
}

func newSessionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}
