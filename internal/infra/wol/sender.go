// Package wol sends Wake-on-LAN magic packets.
package wol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/nas-companion/internal/domain/nas"
)

const (
	// PacketSize is the length of a magic packet.
	PacketSize = syncStreamLength + macRepetitions*macLength

	syncStreamLength = 6
	macRepetitions   = 16
	macLength        = 6
)

// ErrInvalidPort is returned for ports outside 1-65535.
var ErrInvalidPort = errors.New("invalid port")

// MagicPacket builds the 102-byte payload: six 0xFF bytes followed by the MAC
// address repeated sixteen times.
func MagicPacket(mac net.HardwareAddr) ([]byte, error) {
	if len(mac) != macLength {
		return nil, fmt.Errorf("%w: %d bytes", nas.ErrInvalidMAC, len(mac))
	}

	packet := make([]byte, 0, PacketSize)
	for i := 0; i < syncStreamLength; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < macRepetitions; i++ {
		packet = append(packet, mac...)
	}
	return packet, nil
}

// ListenFunc opens the packet connection the magic packet is written to.
type ListenFunc func(ctx context.Context) (net.PacketConn, error)

// Sender transmits magic packets over UDP broadcast.
type Sender struct {
	listen ListenFunc
}

// Option is a functional option for configuring the sender.
type Option func(*Sender)

// WithListener replaces how the UDP socket is opened (useful for testing).
func WithListener(fn ListenFunc) Option {
	return func(s *Sender) {
		s.listen = fn
	}
}

// NewSender creates a sender that opens a broadcast-enabled UDP socket per packet.
func NewSender(opts ...Option) *Sender {
	s := &Sender{listen: listenBroadcast}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send parses macAddress, then sends one magic packet to broadcastAddress:port.
// Malformed input fails before any socket is opened.
func (s *Sender) Send(ctx context.Context, macAddress, broadcastAddress string, port int) nas.Result[struct{}] {
	packet, dst, err := prepare(macAddress, broadcastAddress, port)
	if err != nil {
		log.Warn().Err(err).Str("mac", macAddress).Msg("Wake-on-LAN input rejected")
		return nas.Fail[struct{}](nas.InternalError)
	}

	if err := s.send(ctx, packet, dst); err != nil {
		log.Error().Err(err).Str("dst", dst).Msg("Failed to send Wake-on-LAN packet")
		return nas.Fail[struct{}](nas.ConnectionError)
	}

	log.Info().Str("mac", macAddress).Str("dst", dst).Msg("Wake-on-LAN packet sent")
	return nas.Ok(struct{}{})
}

func prepare(macAddress, broadcastAddress string, port int) ([]byte, string, error) {
	mac, err := nas.ParseMAC(macAddress)
	if err != nil {
		return nil, "", err
	}
	if port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	packet, err := MagicPacket(mac)
	if err != nil {
		return nil, "", err
	}
	return packet, net.JoinHostPort(broadcastAddress, strconv.Itoa(port)), nil
}

func (s *Sender) send(ctx context.Context, packet []byte, dst string) error {
	addr, err := net.ResolveUDPAddr("udp4", dst)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dst, err)
	}

	conn, err := s.listen(ctx)
	if err != nil {
		return fmt.Errorf("open socket: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}

	log.Debug().Str("dst", addr.String()).Int("bytes", len(packet)).Msg("Sending magic packet")
	if _, err := conn.WriteTo(packet, addr); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func listenBroadcast(ctx context.Context) (net.PacketConn, error) {
	lc := net.ListenConfig{Control: enableBroadcast}
	return lc.ListenPacket(ctx, "udp4", ":0")
}
