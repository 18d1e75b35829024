package udp

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/postalsys/pppoat-udp/internal/metrics"
	"github.com/postalsys/pppoat-udp/internal/poll"
	"github.com/postalsys/pppoat-udp/internal/resolve"
)

// Historic fixed endpoints of the two-node private deployment.
const (
	DefaultPort          uint16 = 0xc001
	DefaultInitiatorHost        = "192.168.4.1"
	DefaultResponderHost        = "192.168.4.10"
)

const (
	// DefaultMaxDatagramSize is the link read chunk and receive buffer size.
	DefaultMaxDatagramSize = 4096

	// MaxUDPPayload is the largest payload a UDP datagram over IPv4 can carry.
	MaxUDPPayload = 65507
)

// OptionServer is the configuration key that selects the initiator role.
const OptionServer = "server"

// Role selects which endpoint triple a transport uses.
type Role int

const (
	// RoleResponder is the default role.
	RoleResponder Role = iota
	// RoleInitiator is selected by a truthy "server" option.
	RoleInitiator
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Options is the plugin configuration surface consulted at init.
type Options interface {
	Get(key string) (string, bool)
}

// MapOptions is an Options backed by a map.
type MapOptions map[string]string

// Get implements Options.
func (m MapOptions) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// SelectRole returns RoleInitiator when the "server" option is truthy and
// RoleResponder otherwise, including when opts is nil.
func SelectRole(opts Options) Role {
	if opts == nil {
		return RoleResponder
	}
	if v, ok := opts.Get(OptionServer); ok && IsTrue(v) {
		return RoleInitiator
	}
	return RoleResponder
}

// IsTrue reports whether s is a boolean-like true value: "true", "1", "yes"
// or "on", case-insensitively.
func IsTrue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// IsBoolLike reports whether s is recognised by IsTrue as true or is one of
// the matching false spellings. The empty string counts as false.
func IsBoolLike(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on", "false", "0", "no", "off", "":
		return true
	default:
		return false
	}
}

// Endpoints is the (local port, remote host, remote port) triple of a role.
type Endpoints struct {
	// LocalPort is bound on the wildcard address. Zero picks an ephemeral port.
	LocalPort uint16

	// RemoteHost is a host name or IP literal.
	RemoteHost string

	// RemotePort is the peer's port.
	RemotePort uint16
}

func (e Endpoints) validate() error {
	if e.RemoteHost == "" {
		return fmt.Errorf("remote host is required")
	}
	if e.RemotePort == 0 {
		return fmt.Errorf("remote port is required")
	}
	return nil
}

// Config holds transport settings.
type Config struct {
	// Initiator is used when the "server" option is truthy.
	Initiator Endpoints

	// Responder is used otherwise.
	Responder Endpoints

	// MaxDatagramSize bounds a single link read and a single receive.
	MaxDatagramSize int

	// ValidateSender drops datagrams whose source is not the remote endpoint.
	ValidateSender bool

	// Resolver resolves endpoints. Nil uses resolve.New().
	Resolver *resolve.Resolver

	// Waiter is the readiness-wait primitive. Nil uses a new poll.Poller.
	// A Waiter must not be shared by transports running concurrently.
	Waiter poll.Waiter

	// Metrics receives traffic counters. Nil uses metrics.Default().
	Metrics *metrics.Metrics

	// Logger receives lifecycle events. Nil discards them.
	Logger *slog.Logger
}

// DefaultConfig returns the historic fixed endpoints with sender validation
// enabled.
func DefaultConfig() Config {
	return Config{
		Initiator: Endpoints{
			LocalPort:  DefaultPort,
			RemoteHost: DefaultResponderHost,
			RemotePort: DefaultPort,
		},
		Responder: Endpoints{
			LocalPort:  DefaultPort,
			RemoteHost: DefaultInitiatorHost,
			RemotePort: DefaultPort,
		},
		MaxDatagramSize: DefaultMaxDatagramSize,
		ValidateSender:  true,
	}
}

// Endpoints returns the triple for role.
func (c Config) Endpoints(role Role) Endpoints {
	if role == RoleInitiator {
		return c.Initiator
	}
	return c.Responder
}

// Validate checks the endpoint triples and datagram size.
func (c *Config) Validate() error {
	if err := c.Initiator.validate(); err != nil {
		return fmt.Errorf("initiator: %w", err)
	}
	if err := c.Responder.validate(); err != nil {
		return fmt.Errorf("responder: %w", err)
	}
	if c.MaxDatagramSize < 1 || c.MaxDatagramSize > MaxUDPPayload {
		return fmt.Errorf("max datagram size %d out of range 1..%d", c.MaxDatagramSize, MaxUDPPayload)
	}
	return nil
}
