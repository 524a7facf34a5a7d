// Package sessions tracks per-client subscriber state for the lifetime of
// a websocket attachment.
package sessions

import (
	"sync"

	"github.com/google/uuid"

	"github.com/xrpldash/xrpldash/internal/app/domain/subscriber"
)

// Subscriber is the state owned by one attached client. It is created on
// attach and destroyed on detach; client-side storage is the durability
// layer.
type Subscriber struct {
	ID string

	mu                  sync.RWMutex
	addresses           []string
	addressSet          map[string]struct{}
	nicknames           map[string]string
	alerts              map[string]bool
	panels              []subscriber.Panel
	minThreshold        float64
	lastProcessedLedger *uint32
}

func newSubscriber(id string) *Subscriber {
	return &Subscriber{
		ID:         id,
		addressSet: make(map[string]struct{}),
		nicknames:  make(map[string]string),
		alerts:     make(map[string]bool),
	}
}

// SetAddresses replaces the watched address set.
func (s *Subscriber) SetAddresses(addresses []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setAddressesLocked(addresses)
}

func (s *Subscriber) setAddressesLocked(addresses []string) {
	s.addresses = append([]string(nil), addresses...)
	s.addressSet = make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		s.addressSet[addr] = struct{}{}
	}
}

// Addresses returns a copy of the watched addresses.
func (s *Subscriber) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.addresses...)
}

// Watches reports whether addr is in the watched set.
func (s *Subscriber) Watches(addr string) bool {
	if addr == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.addressSet[addr]
	return ok
}

// SetProfile bulk-replaces addresses, nicknames and alerts (import).
func (s *Subscriber) SetProfile(p subscriber.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setAddressesLocked(p.Addresses)
	s.nicknames = make(map[string]string, len(p.Nicknames))
	for k, v := range p.Nicknames {
		s.nicknames[k] = v
	}
	s.alerts = make(map[string]bool, len(p.Alerts))
	for k, v := range p.Alerts {
		s.alerts[k] = v
	}
}

// Profile exports the current wallet configuration verbatim.
func (s *Subscriber) Profile() subscriber.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := subscriber.Profile{
		Addresses: append([]string(nil), s.addresses...),
		Nicknames: make(map[string]string, len(s.nicknames)),
		Alerts:    make(map[string]bool, len(s.alerts)),
	}
	for k, v := range s.nicknames {
		p.Nicknames[k] = v
	}
	for k, v := range s.alerts {
		p.Alerts[k] = v
	}
	return p
}

// SetPanels replaces the subscriber's filter panels.
func (s *Subscriber) SetPanels(panels []subscriber.Panel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panels = append([]subscriber.Panel(nil), panels...)
}

// Panels returns a copy of the subscriber's filter panels.
func (s *Subscriber) Panels() []subscriber.Panel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]subscriber.Panel(nil), s.panels...)
}

// StartTracking configures wallet-activity tracking.
func (s *Subscriber) StartTracking(req subscriber.TrackingRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setAddressesLocked(req.Addresses)
	s.minThreshold = req.MinThreshold
	s.lastProcessedLedger = req.StartLedger
}

// Tracking returns the minimum activity threshold and optional start
// ledger.
func (s *Subscriber) Tracking() (minThreshold float64, startLedger *uint32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minThreshold, s.lastProcessedLedger
}

// Registry holds all attached subscribers.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*Subscriber)}
}

// Attach creates a fresh subscriber with empty state.
func (r *Registry) Attach() *Subscriber {
	sub := newSubscriber(uuid.NewString())
	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.mu.Unlock()
	return sub
}

// Detach destroys the subscriber immediately.
func (r *Registry) Detach(id string) {
	r.mu.Lock()
	delete(r.subs, id)
	r.mu.Unlock()
}

// Get looks up a subscriber by id.
func (r *Registry) Get(id string) (*Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	return sub, ok
}

// ForEach visits every attached subscriber.
func (r *Registry) ForEach(fn func(sub *Subscriber)) {
	r.mu.RLock()
	subs := make([]*Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	for _, sub := range subs {
		fn(sub)
	}
}

// Count returns the number of attached subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
