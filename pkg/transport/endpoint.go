package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint schemes.
const (
	SchemeTCP = "tcp"
	SchemeIPC = "ipc"
)

// ErrInvalidEndpoint indicates a malformed endpoint address.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Endpoint is a parsed camera control address.
type Endpoint struct {
	// Scheme is SchemeTCP or SchemeIPC.
	Scheme string

	// Address is host:port for tcp and the socket path for ipc.
	Address string
}

// ParseEndpoint parses a dial address, "tcp://host:port" or
// "ipc:///path/to/socket". Surrounding whitespace is ignored.
func ParseEndpoint(s string) (Endpoint, error) {
	return parseEndpoint(s, 1)
}

// ParseListenEndpoint parses a listen address. It differs from
// ParseEndpoint only in accepting tcp port 0, which lets the system pick a
// free port.
func ParseListenEndpoint(s string) (Endpoint, error) {
	return parseEndpoint(s, 0)
}

func parseEndpoint(s string, minPort int) (Endpoint, error) {
	raw := strings.TrimSpace(s)

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %q: missing scheme", ErrInvalidEndpoint, s)
	}

	switch scheme {
	case SchemeTCP:
		host, port, err := net.SplitHostPort(rest)
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, s, err)
		}
		if host == "" || host == "*" {
			return Endpoint{}, fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, s)
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < minPort || n > 65535 {
			return Endpoint{}, fmt.Errorf("%w: %q: bad port %q", ErrInvalidEndpoint, s, port)
		}
		return Endpoint{Scheme: SchemeTCP, Address: net.JoinHostPort(host, port)}, nil

	case SchemeIPC:
		if rest == "" {
			return Endpoint{}, fmt.Errorf("%w: %q: missing path", ErrInvalidEndpoint, s)
		}
		return Endpoint{Scheme: SchemeIPC, Address: rest}, nil

	default:
		return Endpoint{}, fmt.Errorf("%w: %q: unsupported scheme %q", ErrInvalidEndpoint, s, scheme)
	}
}

// MustParseEndpoint is like ParseEndpoint but panics on error.
// Intended for tests and constants.
func MustParseEndpoint(s string) Endpoint {
	ep, err := ParseEndpoint(s)
	if err != nil {
		panic(err)
	}
	return ep
}

// MustParseListenEndpoint is like ParseListenEndpoint but panics on error.
func MustParseListenEndpoint(s string) Endpoint {
	ep, err := ParseListenEndpoint(s)
	if err != nil {
		panic(err)
	}
	return ep
}

// Network returns the net package network name.
func (e Endpoint) Network() string {
	if e.Scheme == SchemeIPC {
		return "unix"
	}
	return "tcp"
}

// String returns the endpoint in URL form.
func (e Endpoint) String() string {
	if e.Scheme == "" {
		return ""
	}
	return e.Scheme + "://" + e.Address
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.Scheme == "" && e.Address == ""
}
