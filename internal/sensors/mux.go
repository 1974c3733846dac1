package sensors

import (
	"sync"

	"github.com/golang/geo/r3"
)

// Mux shares one Feed between several consumers. Each Sub behaves like its
// own Feed; a channel of the underlying feed runs while at least one Sub is
// subscribed to it.
type Mux struct {
	feed Feed

	subsMu sync.RWMutex
	subs   []*Sub

	runMu   sync.Mutex
	accelOn bool
	gyroOn  bool
}

func NewMux(f Feed) *Mux {
	return &Mux{feed: f}
}

// Sub is one consumer's view of a Mux.
type Sub struct {
	fanout
	mux *Mux
}

// Sub registers a new consumer.
func (m *Mux) Sub() *Sub {
	s := &Sub{mux: m}
	m.subsMu.Lock()
	m.subs = append(m.subs, s)
	m.subsMu.Unlock()
	return s
}

func (s *Sub) StartAccel(h Handler) error {
	if err := s.fanout.StartAccel(h); err != nil {
		return err
	}
	return s.mux.refresh()
}

func (s *Sub) StartGyro(h Handler) error {
	if err := s.fanout.StartGyro(h); err != nil {
		return err
	}
	return s.mux.refresh()
}

func (s *Sub) StopAccel() {
	s.fanout.StopAccel()
	_ = s.mux.refresh()
}

func (s *Sub) StopGyro() {
	s.fanout.StopGyro()
	_ = s.mux.refresh()
}

// refresh starts or stops the underlying channels to match demand.
func (m *Mux) refresh() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	var wantAccel, wantGyro bool
	m.each(func(s *Sub) {
		a, g := s.handlers()
		wantAccel = wantAccel || a != nil
		wantGyro = wantGyro || g != nil
	})

	switch {
	case wantAccel && !m.accelOn:
		if err := m.feed.StartAccel(m.dispatchAccel); err != nil {
			return err
		}
		m.accelOn = true
	case !wantAccel && m.accelOn:
		m.feed.StopAccel()
		m.accelOn = false
	}

	switch {
	case wantGyro && !m.gyroOn:
		if err := m.feed.StartGyro(m.dispatchGyro); err != nil {
			return err
		}
		m.gyroOn = true
	case !wantGyro && m.gyroOn:
		m.feed.StopGyro()
		m.gyroOn = false
	}
	return nil
}

func (m *Mux) each(fn func(s *Sub)) {
	m.subsMu.RLock()
	subs := m.subs
	m.subsMu.RUnlock()
	for _, s := range subs {
		fn(s)
	}
}

func (m *Mux) dispatchAccel(v r3.Vector) {
	m.each(func(s *Sub) {
		if a, _ := s.handlers(); a != nil {
			a(v)
		}
	})
}

func (m *Mux) dispatchGyro(v r3.Vector) {
	m.each(func(s *Sub) {
		if _, g := s.handlers(); g != nil {
			g(v)
		}
	})
}
