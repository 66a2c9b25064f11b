package transfer

import (
	"fmt"
	"strings"
)

// Method is the HTTP method of a transfer.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPut    Method = "PUT"
	MethodHead   Method = "HEAD"
	MethodDelete Method = "DELETE"
)

// ParseMethod parses a method name from a manifest. Names are case-insensitive.
// Known methods map to their constants; any other valid HTTP token is kept as an
// extension method and issued without a body.
func ParseMethod(s string) (Method, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	switch Method(up) {
	case MethodGet, MethodPut, MethodHead, MethodDelete:
		return Method(up), nil
	}
	if !isToken(up) {
		return "", fmt.Errorf("transfer: invalid method %q", s)
	}
	return Method(up), nil
}

// Known reports whether m is one of GET, PUT, HEAD or DELETE.
func (m Method) Known() bool {
	switch m {
	case MethodGet, MethodPut, MethodHead, MethodDelete:
		return true
	default:
		return false
	}
}

func (m Method) String() string {
	return string(m)
}

// isToken reports whether s is a non-empty RFC 7230 token.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("!#$%&'*+-.^_`|~", r):
		default:
			return false
		}
	}
	return true
}
