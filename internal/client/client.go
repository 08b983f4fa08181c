package client

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/skypro1111/ccs-service/internal/protocol"
)

// ErrRejected is returned when the service answers ERROR
var ErrRejected = errors.New("request rejected by server")

// Client holds one persistent connection to the service
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

// Dial connects to the service at addr
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return New(conn), nil
}

// New wraps an established connection
func New(conn net.Conn) *Client {
	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}
}

// Send writes one raw request line and returns the response line without its newline
func (c *Client) Send(line string) (string, error) {
	if _, err := c.writer.WriteString(line + "\n"); err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	resp, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return strings.TrimRight(resp, "\r\n"), nil
}

// Compute sends a request and parses the result
func (c *Client) Compute(req protocol.Request) (int32, error) {
	resp, err := c.Send(req.String())
	if err != nil {
		return 0, err
	}
	if resp == protocol.ErrorToken {
		return 0, fmt.Errorf("%w: %s", ErrRejected, req)
	}

	v, err := strconv.ParseInt(resp, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("unexpected response %q: %w", resp, err)
	}
	return int32(v), nil
}

// LocalAddr returns the client side address of the connection
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}
