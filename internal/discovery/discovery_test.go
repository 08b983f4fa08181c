package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/ccs-service/internal/config"
	"github.com/skypro1111/ccs-service/internal/metrics"
	"github.com/skypro1111/ccs-service/internal/server"
	"github.com/skypro1111/ccs-service/internal/stats"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startResponder(t *testing.T) *net.UDPAddr {
	t.Helper()

	cfg := config.Default()
	cfg.Server.BindAddress = "127.0.0.1"

	udp := server.NewUDPServer(&cfg.Server, &cfg.Discovery, testLogger(), stats.NewCounters(), metrics.NewMetrics())
	require.NoError(t, udp.Start())
	t.Cleanup(func() { _ = udp.Stop() })

	return udp.Addr().(*net.UDPAddr)
}

func TestDiscoverFindsResponder(t *testing.T) {
	addr := startResponder(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	found, err := Discover(ctx, testLogger(), addr.Port, []net.IP{net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	assert.Equal(t, addr.Port, found.Port)
	assert.True(t, found.IP.IsLoopback())
}

func TestDiscoverNotFound(t *testing.T) {
	// Reserve a port with nothing answering on it
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = Discover(ctx, testLogger(), port, []net.IP{net.IPv4(127, 0, 0, 1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound) || errors.Is(err, context.DeadlineExceeded), "unexpected error: %v", err)
}

func TestDiscoverCancelled(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	port := conn.LocalAddr().(*net.UDPAddr).Port

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	started := time.Now()
	_, err = Discover(ctx, testLogger(), port, []net.IP{net.IPv4(127, 0, 0, 1)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(started), DefaultTimeout)
}

func TestDiscoverRequiresTargets(t *testing.T) {
	_, err := Discover(context.Background(), testLogger(), 9999, nil)
	assert.Error(t, err)
}

func TestBroadcastOf(t *testing.T) {
	tests := []struct {
		name string
		cidr string
		want string
	}{
		{"class C", "192.168.1.17/24", "192.168.1.255"},
		{"class B", "172.16.4.2/16", "172.16.255.255"},
		{"odd mask", "10.0.0.5/30", "10.0.0.7"},
		{"host route", "10.1.2.3/32", "10.1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, ipNet, err := net.ParseCIDR(tt.cidr)
			require.NoError(t, err)
			ipNet.IP = ip

			assert.Equal(t, tt.want, broadcastOf(ipNet).String())
		})
	}
}

func TestBroadcastOfIPv6(t *testing.T) {
	_, ipNet, err := net.ParseCIDR("fe80::1/64")
	require.NoError(t, err)

	assert.Nil(t, broadcastOf(ipNet))
}

func TestBroadcastAddressesIncludesLimitedBroadcast(t *testing.T) {
	addrs, err := BroadcastAddresses()
	require.NoError(t, err)
	require.NotEmpty(t, addrs)

	assert.True(t, containsIP(addrs, net.IPv4bcast))
}

func containsIP(ips []net.IP, want net.IP) bool {
	for _, ip := range ips {
		if ip.Equal(want) {
			return true
		}
	}
	return false
}
