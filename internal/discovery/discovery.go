// Package discovery locates the IDE's tool server, whose port is not
// known in advance and may change between calls.
//
// The Service is a small state machine:
//
//	UNKNOWN ──scan──▶ PROBING ──hit──▶ BOUND(endpoint)
//	                     │                 │ stale: re-probe / invoke failure: Demote
//	                     └──miss──▶ UNREACHABLE(lastErr, lastAttempt)
//
// Both BOUND and UNREACHABLE results are trusted only within the
// freshness window. Inside it an UNREACHABLE result fails fast without
// another scan; past it the next caller triggers exactly one new scan.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/relay/internal/toolerr"
)

// State is the discovery state of the target.
type State int

const (
	StateUnknown State = iota
	StateProbing
	StateBound
	StateUnreachable
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "UNKNOWN"
	case StateProbing:
		return "PROBING"
	case StateBound:
		return "BOUND"
	case StateUnreachable:
		return "UNREACHABLE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Prober checks whether an endpoint is alive. Implementations must honor
// ctx cancellation.
type Prober interface {
	Probe(ctx context.Context, endpoint string) error
}

// Config holds the discovery parameters.
type Config struct {
	Host string
	// Port pins discovery to a single port. Zero means scan PortMin..PortMax.
	Port         int
	PortMin      int
	PortMax      int
	PathPrefix   string
	Freshness    time.Duration
	ProbeTimeout time.Duration
	ScanTimeout  time.Duration
}

// DefaultConfig returns the JetBrains built-in server range.
func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		PortMin:      63342,
		PortMax:      63352,
		PathPrefix:   "/api",
		Freshness:    10 * time.Second,
		ProbeTimeout: 300 * time.Millisecond,
		ScanTimeout:  5 * time.Second,
	}
}

// Snapshot is a point-in-time copy of the service state.
type Snapshot struct {
	State       State
	Endpoint    string
	LastError   error
	LastAttempt time.Time
	LastSuccess time.Time
	Scans       int
}

// Service caches the IDE endpoint. Safe for concurrent use.
type Service struct {
	cfg    Config
	prober Prober
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	endpoint    string // bound endpoint, or the last one that worked
	lastErr     error
	lastAttempt time.Time
	lastSuccess time.Time
	scans       int
	inflight    chan struct{} // closed when the running scan finishes
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service in the UNKNOWN state.
func New(cfg Config, prober Prober, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		prober: prober,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EndpointFor formats the base URL of the IDE API at a port.
func (c Config) EndpointFor(port int) string {
	return fmt.Sprintf("http://%s:%d%s", c.Host, port, c.PathPrefix)
}

// Candidates lists endpoints in scan order.
func (c Config) Candidates() []string {
	if c.Port > 0 {
		return []string{c.EndpointFor(c.Port)}
	}
	out := make([]string, 0, c.PortMax-c.PortMin+1)
	for p := c.PortMin; p <= c.PortMax; p++ {
		out = append(out, c.EndpointFor(p))
	}
	return out
}

// Endpoint returns a live endpoint, scanning when the cached result is
// missing or stale. It fails with BackendUnavailable while the target is
// known to be unreachable.
func (s *Service) Endpoint(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		now := s.now()
		switch s.state {
		case StateBound:
			if now.Sub(s.lastSuccess) < s.cfg.Freshness {
				ep := s.endpoint
				s.mu.Unlock()
				return ep, nil
			}
		case StateUnreachable:
			if now.Sub(s.lastAttempt) < s.cfg.Freshness {
				err := s.unavailable()
				s.mu.Unlock()
				return "", err
			}
		case StateProbing:
			wait := s.inflight
			s.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return "", toolerr.Wrap(toolerr.BackendUnavailable, ctx.Err(), "waiting for IDE discovery")
			}
		}

		// UNKNOWN, or a stale BOUND/UNREACHABLE: this caller runs the scan.
		done := make(chan struct{})
		s.inflight = done
		s.state = StateProbing
		s.scans++
		last := s.endpoint
		s.mu.Unlock()

		s.runScan(ctx, last, done)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == StateBound {
			return s.endpoint, nil
		}
		return "", s.unavailable()
	}
}

// runScan runs one scan and always releases its waiters. A panicking
// prober leaves the target UNREACHABLE rather than stuck in PROBING.
func (s *Service) runScan(ctx context.Context, last string, done chan struct{}) {
	defer close(done)
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("IDE scan panicked", zap.Any("panic", p), zap.Stack("stack"))
			s.fail(fmt.Errorf("probe panicked: %v", p))
		}
	}()
	s.scan(ctx, last)
}

// scan probes candidates until one answers, then records the outcome.
// The scan is shared by every waiter, so it runs detached from the
// caller's cancellation and is bounded by ScanTimeout instead.
func (s *Service) scan(ctx context.Context, last string) {
	scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ScanTimeout)
	defer cancel()

	candidates := s.cfg.Candidates()
	if last != "" && s.cfg.Port == 0 {
		candidates = append([]string{last}, without(candidates, last)...)
	}

	var lastErr error
	for _, ep := range candidates {
		if scanCtx.Err() != nil {
			lastErr = fmt.Errorf("scan ceiling of %s reached: %w", s.cfg.ScanTimeout, scanCtx.Err())
			break
		}
		err := s.probe(scanCtx, ep)
		if err == nil {
			s.bind(ep)
			return
		}
		lastErr = err
		s.logger.Debug("probe failed", zap.String("endpoint", ep), zap.Error(err))
	}
	if lastErr == nil {
		lastErr = errors.New("no candidate ports configured")
	}
	if s.cfg.Port > 0 {
		lastErr = fmt.Errorf("IDE port %d is set but not responding: %w", s.cfg.Port, lastErr)
	}
	s.fail(lastErr)
}

func (s *Service) probe(ctx context.Context, endpoint string) error {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	return s.prober.Probe(pctx, endpoint)
}

func (s *Service) bind(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBound || s.endpoint != endpoint {
		s.logger.Info("IDE endpoint bound", zap.String("endpoint", endpoint))
	}
	s.state = StateBound
	s.endpoint = endpoint
	s.lastErr = nil
	s.lastAttempt = s.now()
	s.lastSuccess = s.lastAttempt
}

func (s *Service) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateUnreachable
	s.lastErr = err
	s.lastAttempt = s.now()
	s.logger.Warn("IDE unreachable", zap.Error(err))
}

// Demote drops a BOUND endpoint back to UNKNOWN after a failed call, so
// the next caller rediscovers instead of reusing a dead endpoint. A
// mismatched endpoint means a newer scan already replaced it.
func (s *Service) Demote(endpoint string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBound || s.endpoint != endpoint {
		return
	}
	s.state = StateUnknown
	s.lastErr = cause
	s.logger.Info("IDE endpoint demoted", zap.String("endpoint", endpoint), zap.Error(cause))
}

// Snapshot returns the current state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:       s.state,
		Endpoint:    s.endpoint,
		LastError:   s.lastErr,
		LastAttempt: s.lastAttempt,
		LastSuccess: s.lastSuccess,
		Scans:       s.scans,
	}
}

// Scans returns how many scans have started.
func (s *Service) Scans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

// unavailable must be called with s.mu held.
func (s *Service) unavailable() error {
	return toolerr.Wrap(toolerr.BackendUnavailable, s.lastErr,
		"IDE not reachable (last attempt %s ago): %v",
		s.now().Sub(s.lastAttempt).Round(time.Millisecond), s.lastErr)
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != drop {
			out = append(out, v)
		}
	}
	return out
}
