package prices

import (
	"context"
	"sync"
	"time"

	"github.com/xrpldash/xrpldash/internal/app/system"
	"github.com/xrpldash/xrpldash/internal/xrpl"
	"github.com/xrpldash/xrpldash/pkg/logger"
)

var _ system.Service = (*Poller)(nil)

// ConnProvider yields the current live upstream session, nil while
// disconnected.
type ConnProvider interface {
	Conn() xrpl.Conn
}

// Poller drives the fallback oracle polling path on a fixed interval.
type Poller struct {
	service  *Service
	conns    ConnProvider
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPoller creates a lifecycle-managed oracle price poller.
func NewPoller(service *Service, conns ConnProvider, interval time.Duration, log *logger.Logger) *Poller {
	if log == nil {
		log = logger.NewDefault("price-poller")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		service:  service,
		conns:    conns,
		interval: interval,
		log:      log,
	}
}

func (p *Poller) Name() string { return "price-poller" }

func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("oracle price poller started")
	return nil
}

func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.log.Info("oracle price poller stopped")
	return nil
}

func (p *Poller) tick(ctx context.Context) {
	conn := p.conns.Conn()
	if conn == nil {
		return
	}
	tickCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	p.service.PollOraclePrice(tickCtx, conn)
}
