// Package inactivity ends the session after a period without user input.
package inactivity

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/labportal/labportal/internal/session"
)

// Signal is a kind of user input that counts as activity.
type Signal int

const (
	PointerDown Signal = iota
	PointerMove
	KeyPress
	Scroll
	TouchStart
)

func (s Signal) String() string {
	switch s {
	case PointerDown:
		return "pointer_down"
	case PointerMove:
		return "pointer_move"
	case KeyPress:
		return "key_press"
	case Scroll:
		return "scroll"
	case TouchStart:
		return "touch_start"
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

// Config holds the monitor timings.
type Config struct {
	IdleTimeout time.Duration
	Throttle    time.Duration
	Buffer      int
}

// DefaultConfig returns a 5 minute idle window throttled to one signal per
// second.
func DefaultConfig() Config {
	return Config{
		IdleTimeout: 5 * time.Minute,
		Throttle:    time.Second,
		Buffer:      16,
	}
}

// Session is the part of the session store the monitor drives.
// *session.Store implements it.
type Session interface {
	Subscribe(fn session.Observer) (unsubscribe func())
	IsAuthenticated() bool
	UpdateLastActivity(at time.Time)
	ClearSession()
}

// Monitor clears the session once no activity has been seen for the idle
// window. It is only armed while the session is authenticated.
type Monitor struct {
	cfg     Config
	clock   clockwork.Clock
	logger  zerolog.Logger
	limiter *rate.Limiter

	mu          sync.Mutex
	sess        Session
	unsubscribe func()
	armed       *period
}

// period is one authenticated stretch, owned by a single goroutine.
type period struct {
	sess    Session
	timer   clockwork.Timer
	signals chan struct{}
	cancel  chan struct{}
	done    chan struct{}
}

// New creates a Monitor. Zero config fields take their defaults and a nil
// clock means the real clock.
func New(cfg Config, clock clockwork.Clock, logger zerolog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = def.Throttle
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		cfg:     cfg,
		clock:   clock,
		logger:  logger.With().Str("component", "inactivity").Logger(),
		limiter: rate.NewLimiter(rate.Every(cfg.Throttle), 1),
	}
}

// Attach starts watching sess. The monitor arms whenever the session
// becomes authenticated and disarms when it stops being so.
func (m *Monitor) Attach(sess Session) {
	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()

	unsubscribe := sess.Subscribe(func(st session.State) {
		if st.IsAuthenticated {
			m.arm()
		} else {
			m.disarm()
		}
	})

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	if sess.IsAuthenticated() {
		m.arm()
	}
}

// Close detaches from the session and cancels any pending countdown.
func (m *Monitor) Close() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.disarm()
}

// IdleTimeout returns the inactivity window.
func (m *Monitor) IdleTimeout() time.Duration {
	return m.cfg.IdleTimeout
}

// Armed reports whether a countdown is running.
func (m *Monitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed != nil
}

// Notify reports user activity. Signals are dropped while the monitor is
// disarmed, when they fall inside the throttle window or when the buffer
// is full. It returns whether the signal was accepted.
func (m *Monitor) Notify(sig Signal) bool {
	m.mu.Lock()
	p := m.armed
	m.mu.Unlock()
	if p == nil {
		return false
	}

	if !m.limiter.AllowN(m.clock.Now(), 1) {
		return false
	}

	select {
	case p.signals <- struct{}{}:
		m.logger.Trace().Stringer("signal", sig).Msg("Activity")
		return true
	default:
		return false
	}
}

// ResetTimer restarts the countdown without throttling.
func (m *Monitor) ResetTimer() {
	m.mu.Lock()
	p := m.armed
	m.mu.Unlock()
	if p == nil {
		return
	}

	select {
	case p.signals <- struct{}{}:
	case <-p.cancel:
	case <-p.done:
	}
}

func (m *Monitor) arm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armed != nil || m.sess == nil {
		return
	}

	p := &period{
		sess:    m.sess,
		timer:   m.clock.NewTimer(m.cfg.IdleTimeout),
		signals: make(chan struct{}, m.cfg.Buffer),
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	m.armed = p
	m.logger.Debug().Dur("idle_timeout", m.cfg.IdleTimeout).Msg("Inactivity monitor armed")
	go m.run(p)
}

// disarm cancels the current period without waiting for it, so it is safe
// to call from a session observer.
func (m *Monitor) disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armed == nil {
		return
	}
	close(m.armed.cancel)
	m.armed = nil
	m.logger.Debug().Msg("Inactivity monitor disarmed")
}

func (m *Monitor) run(p *period) {
	defer close(p.done)
	defer p.timer.Stop()

	select {
	case <-p.cancel:
		return
	default:
	}
	p.sess.UpdateLastActivity(m.clock.Now())

	for {
		select {
		case <-p.cancel:
			return

		case <-p.signals:
			if !p.timer.Stop() {
				select {
				case <-p.timer.Chan():
				default:
				}
			}
			p.timer.Reset(m.cfg.IdleTimeout)
			p.sess.UpdateLastActivity(m.clock.Now())

		case <-p.timer.Chan():
			m.mu.Lock()
			current := m.armed == p
			if current {
				m.armed = nil
			}
			m.mu.Unlock()
			if !current {
				return
			}

			m.logger.Info().Dur("idle_timeout", m.cfg.IdleTimeout).Msg("Session cleared after inactivity")
			p.sess.ClearSession()
			return
		}
	}
}
