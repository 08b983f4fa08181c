package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/skypro1111/ccs-service/internal/protocol"
	"github.com/skypro1111/ccs-service/internal/session"
)

// handleConnection runs the read-decode-evaluate-respond loop for one connection
// until the peer disconnects or an I/O fault occurs.
func (s *TCPServer) handleConnection(conn net.Conn, sess *session.Session) {
	defer s.handlers.Done()

	start := time.Now()
	remoteAddr := sess.RemoteAddr

	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("Error closing connection",
				slog.String("remote_addr", remoteAddr),
				slog.String("error", err.Error()),
			)
		}
		s.sessions.Close(sess.ID)
		s.metrics.RecordConnectionClosed(time.Since(start).Seconds())
	}()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		line, tooLong, readErr := readLine(reader, protocol.MaxLineLength)

		// A final line without a newline is still answered.
		if len(line) > 0 || tooLong {
			if err := s.serveLine(writer, sess, line, tooLong); err != nil {
				s.logger.Warn("Failed to write response",
					slog.String("remote_addr", remoteAddr),
					slog.String("error", err.Error()),
				)
				return
			}
		}

		if readErr != nil {
			switch {
			case errors.Is(readErr, io.EOF):
				s.logger.Info("Client disconnected",
					slog.String("remote_addr", remoteAddr),
					slog.Duration("duration", time.Since(start)),
				)
			case errors.Is(readErr, net.ErrClosed):
				s.logger.Info("Connection closed by server",
					slog.String("remote_addr", remoteAddr),
				)
			default:
				s.logger.Warn("Error reading from client",
					slog.String("remote_addr", remoteAddr),
					slog.String("error", readErr.Error()),
				)
			}
			return
		}
	}
}

// serveLine answers one request line. Counters are updated before the response
// is written, so a client that has read a response observes its effect.
func (s *TCPServer) serveLine(w *bufio.Writer, sess *session.Session, line string, tooLong bool) error {
	started := time.Now()

	var (
		value int32
		req   protocol.Request
		err   error
	)
	if tooLong {
		err = fmt.Errorf("%w: limit %d bytes", protocol.ErrLineTooLong, protocol.MaxLineLength)
	} else {
		req, err = protocol.ParseRequest(line)
		if err == nil {
			value, err = req.Evaluate()
		}
	}

	elapsed := time.Since(started).Seconds()
	if err != nil {
		s.counters.RecordIncorrect()
		s.metrics.RecordRequestError(protocol.FailureKind(err), elapsed)
		s.logger.Debug("Request failed",
			slog.String("remote_addr", sess.RemoteAddr),
			slog.String("request", trimLine(line)),
			slog.String("kind", protocol.FailureKind(err)),
			slog.String("error", err.Error()),
		)
	} else {
		s.counters.RecordComputed(req.Op, value)
		s.metrics.RecordComputed(req.Op, elapsed)
		s.logger.Debug("Request computed",
			slog.String("remote_addr", sess.RemoteAddr),
			slog.String("request", req.String()),
			slog.Int64("result", int64(value)),
		)
	}
	sess.Touch(err != nil)

	if _, werr := w.WriteString(protocol.Encode(value, err)); werr != nil {
		return werr
	}
	return w.Flush()
}

// readLine returns the next line including its newline. A line longer than
// maxLen bytes is consumed through its newline without being buffered, and
// reported with tooLong set and an empty line.
func readLine(r *bufio.Reader, maxLen int) (line string, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, readErr := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxLen {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		if errors.Is(readErr, bufio.ErrBufferFull) {
			continue
		}
		return string(buf), tooLong, readErr
	}
}

func trimLine(line string) string {
	return strings.TrimRight(line, "\r\n")
}
