package xrpl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xrpldash/xrpldash/internal/app/metrics"
	"github.com/xrpldash/xrpldash/pkg/logger"
)

// ManagerConfig bounds the reconnect behaviour of the connection manager.
type ManagerConfig struct {
	Endpoints      []string
	MaxRetries     int
	ReconnectDelay time.Duration
}

// Manager owns the single upstream session. It rotates through the
// configured endpoints on connect/subscribe failure with a bounded retry
// budget, and reconnects with a fresh budget after unsolicited disconnects.
type Manager struct {
	endpoints []string
	maxTries  int
	delay     time.Duration
	dial      DialFunc
	log       *logger.Logger

	events Events
	onLive func(ctx context.Context, conn Conn)

	mu          sync.Mutex
	endpointIdx int
	conn        Conn
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
}

// NewManager creates a connection manager for the configured endpoints.
func NewManager(cfg ManagerConfig, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("xrpl")
	}
	maxTries := cfg.MaxRetries
	if maxTries <= 0 {
		maxTries = 10
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Manager{
		endpoints: cfg.Endpoints,
		maxTries:  maxTries,
		delay:     delay,
		dial:      Dial,
		log:       log,
	}
}

// SetEvents wires the push-event handlers. Must be called before Start.
func (m *Manager) SetEvents(events Events) {
	m.events = events
}

// OnLive registers a hook invoked each time a session reaches the live
// state, after stream subscriptions succeed.
func (m *Manager) OnLive(fn func(ctx context.Context, conn Conn)) {
	m.onLive = fn
}

// SetDialFunc replaces the dialer. Test hook.
func (m *Manager) SetDialFunc(dial DialFunc) {
	m.dial = dial
}

// Conn returns the current live session, or nil while disconnected.
func (m *Manager) Conn() Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

func (m *Manager) setConn(conn Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
}

func (m *Manager) Name() string { return "xrpl-manager" }

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	if len(m.endpoints) == 0 {
		m.mu.Unlock()
		return fmt.Errorf("xrpl: no endpoints configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(runCtx)
	}()
	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (m *Manager) run(ctx context.Context) {
	for {
		disconnected := make(chan error, 1)
		events := Events{
			LedgerClosed: m.events.LedgerClosed,
			Transaction:  m.events.Transaction,
			Disconnected: func(err error) {
				select {
				case disconnected <- err:
				default:
				}
			},
		}

		conn := m.connect(ctx, events)
		if conn == nil {
			// Retry budget exhausted or shutting down. Cached state keeps
			// serving; no further automatic attempts.
			return
		}

		m.setConn(conn)
		if m.onLive != nil {
			m.onLive(ctx, conn)
		}

		select {
		case <-ctx.Done():
			m.setConn(nil)
			_ = conn.Close()
			return
		case err := <-disconnected:
			m.log.WithError(err).Warn("disconnected from XRPL, reconnecting")
			m.setConn(nil)
			_ = conn.Close()
			if !m.sleep(ctx) {
				return
			}
			// Unsolicited disconnects restart with a fresh retry budget.
		}
	}
}

// connect attempts up to maxTries dials, rotating endpoints on failure.
// Returns nil when the budget is exhausted or ctx is cancelled.
func (m *Manager) connect(ctx context.Context, events Events) Conn {
	for attempt := 0; attempt < m.maxTries; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		endpoint := m.currentEndpoint()
		metrics.UpstreamReconnects.Inc()

		conn, err := m.dial(ctx, endpoint, events)
		if err != nil {
			m.log.WithError(err).WithField("endpoint", endpoint).Warn("connect failed")
			m.rotate()
			if !m.sleep(ctx) {
				return nil
			}
			continue
		}

		if err := m.subscribe(ctx, conn); err != nil {
			m.log.WithError(err).WithField("endpoint", endpoint).Warn("subscribe failed, cycling endpoint")
			_ = conn.Close()
			m.rotate()
			if !m.sleep(ctx) {
				return nil
			}
			continue
		}

		m.log.WithField("endpoint", endpoint).Info("connected to XRPL")
		return conn
	}

	m.log.Error("max retries reached, giving up on upstream connection")
	return nil
}

func (m *Manager) subscribe(ctx context.Context, conn Conn) error {
	for _, stream := range []string{"ledger", "transactions"} {
		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := conn.Request(reqCtx, map[string]any{
			"command": "subscribe",
			"streams": []string{stream},
		})
		cancel()
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", stream, err)
		}
	}
	return nil
}

func (m *Manager) currentEndpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoints[m.endpointIdx]
}

func (m *Manager) rotate() {
	m.mu.Lock()
	m.endpointIdx = (m.endpointIdx + 1) % len(m.endpoints)
	m.mu.Unlock()
}

func (m *Manager) sleep(ctx context.Context) bool {
	timer := time.NewTimer(m.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
