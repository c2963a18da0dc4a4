// Package listener provides the UDP and TCP transports that feed request
// packets to the processor and write responses back.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"
)

// Handler turns a request packet into a response packet. A non-nil error
// means no response is sent.
type Handler interface {
	Process(packet []byte) ([]byte, error)
}

// maxDatagramSize is the largest UDP payload.
const maxDatagramSize = 65535

// ListenerConfig holds transport configuration.
type ListenerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	TCPEnabled     bool          `json:"tcp_enabled"`
	MaxHandlers    int           `json:"max_handlers"`
	BufferSize     int           `json:"buffer_size"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	MaxConnections int           `json:"max_connections"`
}

// DefaultListenerConfig returns the default transport configuration.
func DefaultListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		Host:           "0.0.0.0",
		Port:           161,
		TCPEnabled:     false,
		MaxHandlers:    100,
		BufferSize:     65536,
		ReadTimeout:    30 * time.Second,
		MaxConnections: 64,
	}
}

func loadListenerConfig(cfg config.Provider) (*ListenerConfig, error) {
	lc := DefaultListenerConfig()
	var err error

	if lc.Host, err = cfg.GetString("server.host", lc.Host); err != nil {
		return nil, fmt.Errorf("failed to get server host: %w", err)
	}
	if lc.Port, err = cfg.GetInt("server.port", lc.Port); err != nil {
		return nil, fmt.Errorf("failed to get server port: %w", err)
	}
	if lc.TCPEnabled, err = cfg.GetBool("server.tcp_enabled", lc.TCPEnabled); err != nil {
		return nil, fmt.Errorf("failed to get tcp_enabled: %w", err)
	}
	if lc.MaxHandlers, err = cfg.GetInt("server.max_handlers", lc.MaxHandlers); err != nil {
		return nil, fmt.Errorf("failed to get max_handlers configuration: %w", err)
	}
	if lc.BufferSize, err = cfg.GetInt("server.buffer_size", lc.BufferSize); err != nil {
		return nil, fmt.Errorf("failed to get buffer size: %w", err)
	}
	if lc.ReadTimeout, err = cfg.GetDuration("server.read_timeout", lc.ReadTimeout); err != nil {
		return nil, fmt.Errorf("failed to get read timeout: %w", err)
	}
	if lc.MaxConnections, err = cfg.GetInt("server.max_connections", lc.MaxConnections); err != nil {
		return nil, fmt.Errorf("failed to get max_connections: %w", err)
	}

	if lc.MaxHandlers <= 0 {
		return nil, fmt.Errorf("server.max_handlers must be positive, got %d", lc.MaxHandlers)
	}
	if lc.MaxConnections <= 0 {
		return nil, fmt.Errorf("server.max_connections must be positive, got %d", lc.MaxConnections)
	}
	if lc.ReadTimeout <= 0 {
		lc.ReadTimeout = DefaultListenerConfig().ReadTimeout
	}
	return lc, nil
}

// ListenerStats holds transport counters.
type ListenerStats struct {
	PacketsReceived   atomic.Uint64
	PacketsResponded  atomic.Uint64
	PacketsDropped    atomic.Uint64
	PacketsRejected   atomic.Uint64
	PacketsFiltered   atomic.Uint64
	WriteErrors       atomic.Uint64
	TCPConnections    atomic.Uint64
	ActiveConnections atomic.Int64
}

// job is one datagram queued for a worker.
type job struct {
	data []byte
	addr *net.UDPAddr
}

// Listener receives SNMP requests over UDP, and optionally TCP, and answers
// them through a Handler. Datagrams are processed by a bounded worker pool;
// each TCP connection is served by its own goroutine.
type Listener struct {
	config  *ListenerConfig
	handler Handler
	filter  *SourceFilter
	logger  logging.Logger

	conn    *net.UDPConn
	tcp     net.Listener
	jobs    chan *job
	slots   chan struct{}
	done    chan struct{}
	stats   ListenerStats
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewListener creates a listener with the provided configuration.
func NewListener(cfg config.Provider, handler Handler, logger logging.Logger) (*Listener, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration provider cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	lc, err := loadListenerConfig(cfg)
	if err != nil {
		return nil, err
	}

	filter, err := NewSourceFilter(loadFilterConfig(cfg))
	if err != nil {
		return nil, err
	}

	return &Listener{
		config:  lc,
		handler: handler,
		filter:  filter,
		logger:  logger.With("component", "listener"),
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// Start binds the sockets and starts the workers.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("listener is already running")
	}

	address := net.JoinHostPort(l.config.Host, strconv.Itoa(l.config.Port))
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to UDP socket: %w", err)
	}

	if err := conn.SetReadBuffer(l.config.BufferSize); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set read buffer size: %w", err)
	}

	if l.config.TCPEnabled {
		// Share the UDP port so an ephemeral port 0 resolves to one number.
		tcpAddr := net.JoinHostPort(l.config.Host, strconv.Itoa(conn.LocalAddr().(*net.UDPAddr).Port))
		tcp, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to bind to TCP socket: %w", err)
		}
		l.tcp = tcp
	}

	l.conn = conn
	l.jobs = make(chan *job, l.config.MaxHandlers)
	l.slots = make(chan struct{}, l.config.MaxConnections)
	l.done = make(chan struct{})
	l.running = true

	for i := 0; i < l.config.MaxHandlers; i++ {
		l.wg.Add(1)
		go l.handlerWorker(ctx)
	}

	l.wg.Add(1)
	go l.listen(ctx)

	if l.tcp != nil {
		l.wg.Add(1)
		go l.acceptTCP(ctx)
	}

	l.logger.Info("SNMP listener started",
		"udp", conn.LocalAddr().String(),
		"tcp_enabled", l.config.TCPEnabled,
		"workers", l.config.MaxHandlers)
	return nil
}

// Stop closes the sockets and waits for workers and connections to finish.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	close(l.done)

	l.conn.Close()
	if l.tcp != nil {
		l.tcp.Close()
	}
	l.mu.Unlock()

	l.connMu.Lock()
	for c := range l.conns {
		c.Close()
	}
	l.connMu.Unlock()

	l.wg.Wait()

	l.mu.Lock()
	l.tcp = nil
	l.mu.Unlock()

	l.logger.Info("SNMP listener stopped")
	return nil
}

// IsRunning returns whether the listener is currently running.
func (l *Listener) IsRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

// Addr returns the bound UDP address, or nil before Start.
func (l *Listener) Addr() *net.UDPAddr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// TCPAddr returns the bound TCP address, or nil when TCP is disabled.
func (l *Listener) TCPAddr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.tcp == nil {
		return nil
	}
	return l.tcp.Addr()
}

func (l *Listener) stopping() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// listen is the UDP read loop.
func (l *Listener) listen(ctx context.Context) {
	defer l.wg.Done()

	buffer := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		default:
		}

		l.conn.SetReadDeadline(time.Now().Add(l.config.ReadTimeout))
		n, addr, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if l.stopping() {
				return
			}
			l.logger.Warn("UDP read failed", "error", err.Error())
			continue
		}
		l.stats.PacketsReceived.Add(1)

		if err := l.filter.Check(addr.IP, n); err != nil {
			l.stats.PacketsFiltered.Add(1)
			l.logger.Debug("Packet filtered", "source", addr.String(), "error", err.Error())
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])

		select {
		case l.jobs <- &job{data: data, addr: addr}:
		default:
			l.stats.PacketsDropped.Add(1)
			l.logger.Warn("Handler queue full, dropping packet", "source", addr.String())
		}
	}
}

// handlerWorker answers queued datagrams.
func (l *Listener) handlerWorker(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case j := <-l.jobs:
			l.serveDatagram(j)
		}
	}
}

func (l *Listener) serveDatagram(j *job) {
	resp, err := l.handler.Process(j.data)
	if err != nil {
		l.stats.PacketsRejected.Add(1)
		return
	}
	if _, err := l.conn.WriteToUDP(resp, j.addr); err != nil {
		l.stats.WriteErrors.Add(1)
		if !l.stopping() {
			l.logger.Warn("Failed to write response", "destination", j.addr.String(), "error", err.Error())
		}
		return
	}
	l.stats.PacketsResponded.Add(1)
}

// GetStats returns listener statistics.
func (l *Listener) GetStats() map[string]any {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := map[string]any{
		"running":            l.running,
		"queue_length":       len(l.jobs),
		"queue_cap":          cap(l.jobs),
		"packets_received":   l.stats.PacketsReceived.Load(),
		"packets_responded":  l.stats.PacketsResponded.Load(),
		"packets_dropped":    l.stats.PacketsDropped.Load(),
		"packets_rejected":   l.stats.PacketsRejected.Load(),
		"packets_filtered":   l.stats.PacketsFiltered.Load(),
		"write_errors":       l.stats.WriteErrors.Load(),
		"tcp_connections":    l.stats.TCPConnections.Load(),
		"active_connections": l.stats.ActiveConnections.Load(),
	}

	if l.conn != nil {
		stats["local_addr"] = l.conn.LocalAddr().String()
	}
	return stats
}
