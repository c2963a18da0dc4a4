package listener

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/geekxflood/proteus/internal/ber"
	"github.com/geekxflood/proteus/internal/types"
)

// acceptTCP accepts stream connections until the listener stops. At most
// MaxConnections are served at once; excess connections are closed.
func (l *Listener) acceptTCP(ctx context.Context) {
	defer l.wg.Done()

	for {
		conn, err := l.tcp.Accept()
		if err != nil {
			if l.stopping() || ctx.Err() != nil {
				return
			}
			l.logger.Warn("TCP accept failed", "error", err.Error())
			continue
		}
		l.stats.TCPConnections.Add(1)

		select {
		case l.slots <- struct{}{}:
		default:
			l.stats.PacketsDropped.Add(1)
			l.logger.Warn("Connection limit reached, closing connection", "source", conn.RemoteAddr().String())
			conn.Close()
			continue
		}

		if !l.track(conn) {
			<-l.slots
			conn.Close()
			return
		}

		l.wg.Add(1)
		go l.serveConn(ctx, conn)
	}
}

// track registers conn for Stop. It returns false once the listener stops.
func (l *Listener) track(conn net.Conn) bool {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.stopping() {
		return false
	}
	l.conns[conn] = struct{}{}
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.connMu.Lock()
	delete(l.conns, conn)
	l.connMu.Unlock()
}

// serveConn answers framed messages on one connection until the peer
// closes it, a read times out or a frame is invalid.
func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	defer func() { <-l.slots }()
	defer l.untrack(conn)
	defer conn.Close()

	l.stats.ActiveConnections.Add(1)
	defer l.stats.ActiveConnections.Add(-1)

	remote := conn.RemoteAddr().String()
	var ip net.IP
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		ip = tcpAddr.IP
	}

	reader := bufio.NewReader(conn)
	for {
		if ctx.Err() != nil || l.stopping() {
			return
		}

		conn.SetReadDeadline(time.Now().Add(l.config.ReadTimeout))
		msg, err := readFrame(reader, l.filter.config.MaxPacketSize)
		if err != nil {
			if !errors.Is(err, io.EOF) && !l.stopping() {
				l.logger.Debug("Closing TCP connection", "source", remote, "error", err.Error())
			}
			return
		}
		l.stats.PacketsReceived.Add(1)

		if err := l.filter.Check(ip, len(msg)); err != nil {
			l.stats.PacketsFiltered.Add(1)
			l.logger.Debug("Packet filtered", "source", remote, "error", err.Error())
			return
		}

		resp, err := l.handler.Process(msg)
		if err != nil {
			l.stats.PacketsRejected.Add(1)
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(l.config.ReadTimeout))
		if _, err := conn.Write(resp); err != nil {
			l.stats.WriteErrors.Add(1)
			return
		}
		l.stats.PacketsResponded.Add(1)
	}
}

// readFrame reads one BER-framed message: a tag byte, a length field and
// the content. Frames longer than maxSize are rejected before the content
// is read.
func readFrame(r *bufio.Reader, maxSize int) ([]byte, error) {
	header := make([]byte, 2, 2+8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[0] != types.TypeSequence {
		return nil, types.NewParseError(0, "frame does not start with a SEQUENCE: tag 0x%02x", header[0])
	}

	if header[1]&0x80 != 0 {
		count := int(header[1] & 0x7f)
		if count == 0 || count > 8 {
			return nil, types.NewParseError(1, "invalid frame length form 0x%02x", header[1])
		}
		extra := make([]byte, count)
		if _, err := io.ReadFull(r, extra); err != nil {
			return nil, fmt.Errorf("frame length truncated: %w", err)
		}
		header = append(header, extra...)
	}

	length, _, err := ber.DecodeLength(header[1:])
	if err != nil {
		return nil, err
	}
	if len(header)+length > maxSize {
		return nil, types.ValidationError{
			Field:   "packet_size",
			Message: fmt.Sprintf("frame of %d bytes exceeds maximum %d", len(header)+length, maxSize),
			Kind:    types.ErrResourceExhaustion,
		}
	}

	msg := make([]byte, len(header)+length)
	copy(msg, header)
	if _, err := io.ReadFull(r, msg[len(header):]); err != nil {
		return nil, fmt.Errorf("frame content truncated: %w", err)
	}
	return msg, nil
}
