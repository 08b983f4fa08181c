package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/skypro1111/ccs-service/internal/client"
	"github.com/skypro1111/ccs-service/internal/config"
	"github.com/skypro1111/ccs-service/internal/discovery"
	"github.com/skypro1111/ccs-service/internal/protocol"
)

func main() {
	timeout := flag.Duration("timeout", discovery.DefaultTimeout, "How long to wait for a discovery reply")
	count := flag.Int("count", 10, "Number of requests to send, 0 sends until interrupted")
	interval := flag.Duration("interval", time.Second, "Delay between requests")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <port>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	port, err := config.ParsePort(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid port: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, port, *timeout, *count, *interval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Client failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, port int, timeout time.Duration, count int, interval time.Duration) error {
	targets, err := discovery.BroadcastAddresses()
	if err != nil {
		return err
	}

	discoverCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found, err := discovery.Discover(discoverCtx, logger, port, targets)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	addr := net.JoinHostPort(found.IP.String(), strconv.Itoa(port))
	logger.Info("Service discovered", slog.String("address", addr))

	c, err := client.Dial(addr, timeout)
	if err != nil {
		return err
	}
	defer c.Close()

	logger.Info("Connected", slog.String("local_addr", c.LocalAddr().String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for sent := 0; count == 0 || sent < count; sent++ {
		req := randomRequest()
		resp, err := c.Send(req.String())
		if err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", req, resp)

		if count != 0 && sent+1 == count {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}

// randomRequest picks an operation and small operands; division by zero is possible
func randomRequest() protocol.Request {
	return protocol.Request{
		Op: protocol.Operations[rand.Intn(len(protocol.Operations))],
		A:  int32(rand.Intn(201) - 100),
		B:  int32(rand.Intn(21) - 10),
	}
}
