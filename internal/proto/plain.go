package proto

import "strings"

// Plain is a decoded SASL PLAIN message: authzid NUL authcid NUL passwd.
type Plain struct {
	Identity string
	Username string
	Password string
}

// ParsePlain splits a decoded PLAIN message. It reports false when the message
// does not carry exactly two NUL separators.
func ParsePlain(msg string) (Plain, bool) {
	parts := strings.Split(msg, "\x00")
	if len(parts) != 3 {
		return Plain{}, false
	}
	return Plain{Identity: parts[0], Username: parts[1], Password: parts[2]}, true
}
