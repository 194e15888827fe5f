package obs

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"time"
)

type Fields map[string]any

// Logger writes one JSON object per line. Verbosity is fixed when the logger is built.
type Logger struct {
	base  *log.Logger
	debug bool
}

// New returns a logger writing to w. Debug entries are dropped unless debug is set.
func New(w io.Writer, debug bool) *Logger {
	return &Logger{base: log.New(w, "", 0), debug: debug}
}

// Nop returns a logger that discards everything.
func Nop() *Logger { return New(io.Discard, false) }

// DebugEnabled reports whether Debug entries are written.
func (l *Logger) DebugEnabled() bool { return l.debug }

func (l *Logger) logWith(level, msg string, f Fields) {
	entry := make(Fields, len(f)+3)
	for k, v := range f {
		entry[k] = v
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["msg"] = msg
	// Traffic dumps carry <CR>/<LF> markers and "->" labels; keep them readable.
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entry); err != nil {
		l.base.Printf("{\"level\":\"error\",\"msg\":\"log marshal failure\",\"err\":%q}", err.Error())
		return
	}
	l.base.Print(b.String())
}

func (l *Logger) Info(msg string, f Fields)  { l.logWith("info", msg, f) }
func (l *Logger) Error(msg string, f Fields) { l.logWith("error", msg, f) }
func (l *Logger) Debug(msg string, f Fields) {
	if l.debug {
		l.logWith("debug", msg, f)
	}
}
