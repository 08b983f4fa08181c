package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/skypro1111/ccs-service/internal/protocol"
)

// DefaultTimeout bounds the wait for a reply when ctx has no deadline
const DefaultTimeout = 5 * time.Second

// ErrNotFound is returned when no service answered before the deadline
var ErrNotFound = errors.New("no CCS service answered the discovery probe")

// BroadcastAddresses returns the IPv4 broadcast address of every up, broadcast-capable
// interface, followed by the limited broadcast address.
func BroadcastAddresses() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	seen := make(map[string]bool)
	var addrs []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		ifAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range ifAddrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if bcast := broadcastOf(ipNet); bcast != nil && !seen[bcast.String()] {
				seen[bcast.String()] = true
				addrs = append(addrs, bcast)
			}
		}
	}

	if !seen[net.IPv4bcast.String()] {
		addrs = append(addrs, net.IPv4bcast)
	}
	return addrs, nil
}

// broadcastOf computes the directed broadcast address of an IPv4 network
func broadcastOf(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil || len(n.Mask) != net.IPv4len {
		return nil
	}
	bcast := make(net.IP, net.IPv4len)
	for i := range ip {
		bcast[i] = ip[i] | ^n.Mask[i]
	}
	return bcast
}

// Discover sends the probe to every target on port and returns the address of the
// first sender that replies with the discovery reply.
func Discover(ctx context.Context, logger *slog.Logger, port int, targets []net.IP) (*net.UDPAddr, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no discovery targets")
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open discovery socket: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	// Unblock the read if ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	sent := 0
	for _, ip := range targets {
		dst := &net.UDPAddr{IP: ip, Port: port}
		if _, err := conn.WriteToUDP([]byte(protocol.DiscoverProbe), dst); err != nil {
			logger.Warn("Failed to send discovery probe",
				slog.String("target", dst.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent++
		logger.Debug("Discovery probe sent", slog.String("target", dst.String()))
	}
	if sent == 0 {
		return nil, fmt.Errorf("discovery probe could not be sent to any target")
	}

	buffer := make([]byte, 1024)
	for {
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to read discovery reply: %w", err)
		}

		if string(buffer[:n]) == protocol.DiscoverReply {
			return from, nil
		}
		logger.Debug("Ignoring unexpected discovery reply", slog.String("from", from.String()))
	}
}
