package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Transport names understood by the endpoint parser
const (
	TransportTCP  = "tcp"
	TransportUnix = "unix"
)

// Endpoint describes one address a remote object can be reached at.
//
// String form:
//
//	tcp -h <host> -p <port>
//	unix -p <path>
type Endpoint struct {
	Transport string `json:"transport"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Path      string `json:"path,omitempty"`
}

// Address returns the address used to dial or listen on the endpoint
func (e Endpoint) Address() string {
	if e.Transport == TransportUnix {
		return e.Path
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	if e.Transport == TransportUnix {
		return fmt.Sprintf("unix -p %s", e.Path)
	}
	return fmt.Sprintf("%s -h %s -p %d", e.Transport, e.Host, e.Port)
}

// ParseEndpoint parses a single endpoint in its string form
func ParseEndpoint(s string) (Endpoint, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Endpoint{}, fmt.Errorf("empty endpoint")
	}

	ep := Endpoint{Transport: strings.ToLower(fields[0])}
	if ep.Transport != TransportTCP && ep.Transport != TransportUnix {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: unknown transport %s", s, fields[0])
	}

	// options come in pairs: -h host, -p port
	for i := 1; i < len(fields); i += 2 {
		if i+1 >= len(fields) {
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: option %s needs an argument", s, fields[i])
		}
		opt, arg := fields[i], fields[i+1]

		switch {
		case opt == "-h" && ep.Transport == TransportTCP:
			ep.Host = arg
		case opt == "-p" && ep.Transport == TransportTCP:
			port, err := strconv.Atoi(arg)
			if err != nil || port < 0 || port > 65535 {
				return Endpoint{}, fmt.Errorf("invalid endpoint %q: bad port %s", s, arg)
			}
			ep.Port = port
		case opt == "-p" && ep.Transport == TransportUnix:
			ep.Path = arg
		default:
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: unknown option %s", s, opt)
		}
	}

	if ep.Transport == TransportTCP && ep.Host == "" {
		ep.Host = "localhost"
	}
	if ep.Transport == TransportUnix && ep.Path == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: missing socket path", s)
	}
	return ep, nil
}

// ParseEndpoints parses a colon separated list of endpoints
func ParseEndpoints(s string) ([]Endpoint, error) {
	var endpoints []Endpoint
	for _, part := range strings.Split(s, ":") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		ep, err := ParseEndpoint(part)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// EndpointsString renders a list of endpoints, the result is accepted by ParseEndpoints
func EndpointsString(endpoints []Endpoint) string {
	parts := make([]string, len(endpoints))
	for i, ep := range endpoints {
		parts[i] = ep.String()
	}
	return strings.Join(parts, ":")
}

// EqualEndpoints compares two endpoint lists by value and order
func EqualEndpoints(a, b []Endpoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
