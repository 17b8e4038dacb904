// Package nas holds the connection identity of a NAS and the result envelope
// shared by every operation that talks to one.
package nas

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

const (
	// DefaultWakeOnLanPort is the UDP port magic packets are sent to unless overridden.
	DefaultWakeOnLanPort = 9

	// GraphQLPath is the API path on the NAS origin.
	GraphQLPath = "graphql"

	broadcastHostOctet = "255"
)

// Descriptor identifies one NAS connection.
// ID is zero until the descriptor has been persisted.
type Descriptor struct {
	ID               int64  `json:"id"`
	Address          string `json:"address"`
	BroadcastAddress string `json:"broadcastAddress"`
	Credential       string `json:"-"` // API key, never serialized
	BaseURL          string `json:"baseUrl"`
	MACAddress       string `json:"macAddress,omitempty"`
	WakeOnLanPort    int    `json:"wakeOnLanPort"`
	Active           bool   `json:"active"`
}

// NewDescriptor builds a not-yet-persisted descriptor for address with the
// default broadcast address, base URL and wake port.
func NewDescriptor(address, credential string) Descriptor {
	address = strings.TrimSpace(address)
	return Descriptor{
		Address:          address,
		BroadcastAddress: DefaultBroadcastAddress(address),
		Credential:       credential,
		BaseURL:          DefaultBaseURL(address),
		WakeOnLanPort:    DefaultWakeOnLanPort,
		Active:           true,
	}
}

// DefaultBroadcastAddress keeps the first three octets of address and sets the
// host octet to 255, e.g. 10.0.0.5 -> 10.0.0.255.
func DefaultBroadcastAddress(address string) string {
	parts := strings.Split(strings.TrimSpace(address), ".")
	if len(parts) < 2 {
		return address
	}
	parts[len(parts)-1] = broadcastHostOctet
	return strings.Join(parts, ".")
}

// DefaultBaseURL is the request origin used before any redirect was followed.
func DefaultBaseURL(address string) string {
	return "http://" + strings.TrimSpace(address)
}

// Redirected reports whether BaseURL has moved away from the origin derived from Address.
func (d Descriptor) Redirected() bool {
	return d.BaseURL != DefaultBaseURL(d.Address)
}

// WithRedirect returns a copy of d whose requests go to baseURL.
func (d Descriptor) WithRedirect(baseURL string) Descriptor {
	d.BaseURL = baseURL
	return d
}

// Port returns the wake port, falling back to the default when unset.
func (d Descriptor) Port() int {
	if d.WakeOnLanPort <= 0 {
		return DefaultWakeOnLanPort
	}
	return d.WakeOnLanPort
}

// String omits the credential so descriptors can be logged.
func (d Descriptor) String() string {
	return fmt.Sprintf("Descriptor{id=%d address=%s broadcast=%s baseUrl=%s mac=%s port=%d active=%t}",
		d.ID, d.Address, d.BroadcastAddress, d.BaseURL, d.MACAddress, d.WakeOnLanPort, d.Active)
}

// ValidIPv4 reports whether s is a dotted-quad IPv4 address.
func ValidIPv4(s string) bool {
	s = strings.TrimSpace(s)
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil && strings.Count(s, ".") == 3
}

// ParseMAC parses six colon-separated two-digit hex octets.
func ParseMAC(s string) (net.HardwareAddr, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 6 {
		return nil, fmt.Errorf("%w: want 6 octets, got %d", ErrInvalidMAC, len(parts))
	}

	mac := make(net.HardwareAddr, 0, 6)
	for _, p := range parts {
		if len(p) != 2 {
			return nil, fmt.Errorf("%w: octet %q", ErrInvalidMAC, p)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("%w: octet %q", ErrInvalidMAC, p)
		}
		mac = append(mac, b[0])
	}
	return mac, nil
}

// ValidMAC reports whether s is accepted by ParseMAC.
func ValidMAC(s string) bool {
	_, err := ParseMAC(s)
	return err == nil
}
