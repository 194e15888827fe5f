package proto

import "bytes"

var (
	// StartTLSCapability is the last EHLO capability line when the server offers STARTTLS.
	StartTLSCapability = []byte("250 STARTTLS\r\n")
	// AuthPlainCommand prefixes a client AUTH PLAIN command.
	AuthPlainCommand = []byte("AUTH PLAIN")
)

// StripStartTLS rewrites the first STARTTLS capability line in seg to advertise
// AUTH PLAIN instead. The CRLF of the matched line is kept. It returns a new
// slice and true when a rewrite happened, seg itself otherwise.
func StripStartTLS(seg []byte) ([]byte, bool) {
	i := bytes.Index(seg, StartTLSCapability)
	if i < 0 {
		return seg, false
	}
	tail := seg[i+len(StartTLSCapability)-2:]
	out := make([]byte, 0, len(seg)+2)
	out = append(out, seg[:i]...)
	out = append(out, "250 "...)
	out = append(out, AuthPlainCommand...)
	out = append(out, tail...)
	return out, true
}

// AuthPlainPayload returns the initial response of an AUTH PLAIN command at the
// start of seg: everything between "AUTH PLAIN " and the trailing CRLF.
func AuthPlainPayload(seg []byte) ([]byte, bool) {
	if !bytes.HasPrefix(seg, AuthPlainCommand) || len(seg) <= len(AuthPlainCommand)+3 {
		return nil, false
	}
	return seg[len(AuthPlainCommand)+1 : len(seg)-2], true
}
