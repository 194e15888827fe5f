package relay

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/matst80/smtpstrip/internal/obs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type readResult struct {
	data []byte
	err  error
}

// scriptedReader returns one scripted result per Read, then io.EOF.
type scriptedReader struct{ reads []readResult }

func (r *scriptedReader) Read(p []byte) (int, error) {
	if len(r.reads) == 0 {
		return 0, io.EOF
	}
	next := r.reads[0]
	r.reads = r.reads[1:]
	n := copy(p, next.data)
	return n, next.err
}

func reads(chunks ...string) *scriptedReader {
	r := &scriptedReader{}
	for _, c := range chunks {
		r.reads = append(r.reads, readResult{data: []byte(c)})
	}
	return r
}

// recordingWriter keeps every Write call separately.
type recordingWriter struct {
	writes [][]byte
	limit  int // accept at most limit bytes per write when > 0
	err    error
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n := len(p)
	if w.limit > 0 && n > w.limit {
		n = w.limit
	}
	w.writes = append(w.writes, append([]byte(nil), p[:n]...))
	return n, nil
}

func (w *recordingWriter) all() string {
	return string(bytes.Join(w.writes, nil))
}

func newTestPump(dir direction, logs io.Writer) (pump, *record) {
	rec := &record{id: "test"}
	return pump{dir: dir, log: obs.New(logs, true), rec: rec}, rec
}

func TestPumpPassesUnrecognisedTrafficUnchanged(t *testing.T) {
	in := []string{"220 mx.example.com ESMTP\r\n", "MAIL FROM:<a@example.com>\r\n", "250 OK\r\n"}
	w := &recordingWriter{}
	p, rec := newTestPump(clientToRemote, io.Discard)

	require.NoError(t, p.run(reads(in...), w))

	require.Len(t, w.writes, 3)
	for i := range in {
		assert.Equal(t, in[i], string(w.writes[i]))
	}
	assert.Equal(t, int64(len(strings.Join(in, ""))), rec.bytes[clientToRemote.idx].Load())
	assert.False(t, rec.stripped.Load())
}

func TestPumpStripsStartTLS(t *testing.T) {
	var logs syncBuffer
	w := &recordingWriter{}
	p, rec := newTestPump(remoteToClient, &logs)

	require.NoError(t, p.run(reads("250-mx.example.com\r\n250-PIPELINING\r\n250 STARTTLS\r\n"), w))

	require.Len(t, w.writes, 1)
	assert.Equal(t, "250-mx.example.com\r\n250-PIPELINING\r\n250 AUTH PLAIN\r\n", string(w.writes[0]))
	assert.True(t, rec.stripped.Load())
	// Original segment is logged before the rewrite, the rewritten one when forwarded.
	assert.Contains(t, logs.String(), "250 STARTTLS<CR><LF>")
	assert.Contains(t, logs.String(), "250 AUTH PLAIN<CR><LF>")
	assert.Contains(t, logs.String(), "pump.starttls.strip")
}

func TestPumpCapturesAuthPlain(t *testing.T) {
	var logs syncBuffer
	cmd := "AUTH PLAIN " + base64.StdEncoding.EncodeToString([]byte("\x00user\x00pass")) + "\r\n"
	w := &recordingWriter{}
	p, rec := newTestPump(clientToRemote, &logs)

	require.NoError(t, p.run(reads(cmd), w))

	assert.Equal(t, cmd, w.all())
	assert.Equal(t, int32(1), rec.credentials.Load())
	assert.Contains(t, logs.String(), `"credentials":"\u0000user\u0000pass"`)
	assert.Contains(t, logs.String(), `"username":"user"`)
}

func TestPumpCredentialDecodeFailuresAreNotFatal(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		want string
	}{
		{"not base64", "AUTH PLAIN !!!notbase64!!!\r\n", "credentials are not base64 decodable"},
		{"not utf8", "AUTH PLAIN " + base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0x00}) + "\r\n", "credentials are not utf8 decodable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs syncBuffer
			w := &recordingWriter{}
			p, rec := newTestPump(clientToRemote, &logs)

			require.NoError(t, p.run(reads(tt.cmd, "QUIT\r\n"), w))

			require.Len(t, w.writes, 2)
			assert.Equal(t, tt.cmd, string(w.writes[0]))
			assert.Equal(t, "QUIT\r\n", string(w.writes[1]))
			assert.Contains(t, logs.String(), tt.want)
			assert.Zero(t, rec.credentials.Load())
		})
	}
}

func TestPumpWipesDecodedCredentials(t *testing.T) {
	var wiped []byte
	defer func(orig func([]byte)) { wipe = orig }(wipe)
	wipe = func(b []byte) {
		wiped = b
		for i := range b {
			b[i] = 0
		}
	}
	cmd := "AUTH PLAIN " + base64.StdEncoding.EncodeToString([]byte("\x00user\x00pass")) + "\r\n"
	w := &recordingWriter{}
	p, _ := newTestPump(clientToRemote, io.Discard)

	require.NoError(t, p.run(reads(cmd), w))

	assert.Equal(t, cmd, w.all())
	assert.Equal(t, make([]byte, len("\x00user\x00pass")), wiped)
}

func TestPumpCredentialPanicStaysLocal(t *testing.T) {
	defer func(orig func([]byte)) { wipe = orig }(wipe)
	wipe = func([]byte) { panic("could not acquire lock, limit reached?") }
	var logs syncBuffer
	cmd := "AUTH PLAIN " + base64.StdEncoding.EncodeToString([]byte("\x00user\x00pass")) + "\r\n"
	w := &recordingWriter{}
	p, _ := newTestPump(clientToRemote, &logs)

	require.NoError(t, p.run(reads(cmd, "QUIT\r\n"), w))

	require.Len(t, w.writes, 2)
	assert.Equal(t, cmd, string(w.writes[0]))
	assert.Equal(t, "QUIT\r\n", string(w.writes[1]))
	assert.Contains(t, logs.String(), "limit reached?")
}

func TestPumpSkipsInspectionForBinarySegments(t *testing.T) {
	var logs syncBuffer
	seg := "250 STARTTLS\r\n\xc3\xa9"
	w := &recordingWriter{}
	p, rec := newTestPump(remoteToClient, &logs)

	require.NoError(t, p.run(reads(seg), w))

	assert.Equal(t, seg, w.all())
	assert.False(t, rec.stripped.Load())
	assert.Contains(t, logs.String(), `"raw":"[50 53 48`)
}

func TestPumpFullChunkIsNotABoundary(t *testing.T) {
	full := strings.Repeat("a", chunkSize)
	w := &recordingWriter{}
	p, _ := newTestPump(clientToRemote, io.Discard)

	require.NoError(t, p.run(reads(full, "b\r\n", "c\r\n"), w))

	require.Len(t, w.writes, 2)
	assert.Equal(t, full+"b\r\n", string(w.writes[0]))
	assert.Equal(t, "c\r\n", string(w.writes[1]))
}

func TestPumpStartTLSAcrossFullChunkIsRewrittenLate(t *testing.T) {
	// The match sits in the second read; the segment only ends after the short read.
	full := strings.Repeat("x", chunkSize-5) + "\r\n250"
	w := &recordingWriter{}
	p, rec := newTestPump(remoteToClient, io.Discard)

	require.NoError(t, p.run(reads(full[:chunkSize], " STARTTLS\r\n"), w))

	require.Len(t, w.writes, 1)
	assert.True(t, strings.HasSuffix(string(w.writes[0]), "\r\n250 AUTH PLAIN\r\n"))
	assert.True(t, rec.stripped.Load())
}

func TestPumpFlushesBufferedDataOnEOF(t *testing.T) {
	full := strings.Repeat("z", chunkSize)
	w := &recordingWriter{}
	p, _ := newTestPump(clientToRemote, io.Discard)

	require.NoError(t, p.run(reads(full), w))

	require.Len(t, w.writes, 1)
	assert.Equal(t, full, string(w.writes[0]))
}

func TestPumpDataWithEOF(t *testing.T) {
	r := &scriptedReader{reads: []readResult{{data: []byte("QUIT\r\n"), err: io.EOF}}}
	w := &recordingWriter{}
	p, _ := newTestPump(clientToRemote, io.Discard)

	require.NoError(t, p.run(r, w))
	assert.Equal(t, "QUIT\r\n", w.all())
}

func TestPumpReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := &scriptedReader{reads: []readResult{{data: []byte("EHLO x\r\n")}, {err: boom}}}
	w := &recordingWriter{}
	p, _ := newTestPump(clientToRemote, io.Discard)

	err := p.run(r, w)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "EHLO x\r\n", w.all(), "data before the failure is forwarded")
}

func TestPumpWriteErrors(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		p, _ := newTestPump(remoteToClient, io.Discard)
		err := p.run(reads("220 hi\r\n"), &recordingWriter{err: io.ErrClosedPipe})
		var ioErr *IOError
		require.ErrorAs(t, err, &ioErr)
		assert.Equal(t, "write", ioErr.Op)
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	})
	t.Run("partial", func(t *testing.T) {
		p, _ := newTestPump(remoteToClient, io.Discard)
		err := p.run(reads("220 hi\r\n"), &recordingWriter{limit: 3})
		assert.ErrorIs(t, err, io.ErrShortWrite)
	})
}

func TestEscapeLines(t *testing.T) {
	assert.Equal(t, "EHLO test<CR><LF>", escapeLines([]byte("EHLO test\r\n")))
}

func TestIsASCII(t *testing.T) {
	assert.True(t, isASCII([]byte("250 OK\r\n")))
	assert.True(t, isASCII(nil))
	assert.False(t, isASCII([]byte{'a', 0x80}))
}
