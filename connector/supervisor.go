package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/chatmux/backend/message"
)

const (
	// DefaultDialTimeout bounds session establishment per attempt.
	DefaultDialTimeout = 10 * time.Second
	// DefaultAuthTimeout bounds the authenticated handshake per attempt.
	DefaultAuthTimeout = 10 * time.Second
)

// SupervisorConfig wires one driver into the supervision state machine.
type SupervisorConfig struct {
	Driver      Driver
	Events      func(Event)      // optional transition sink
	Credentials CredentialSource // optional; enables AwaitingReauth resume
	DialTimeout time.Duration
	AuthTimeout time.Duration
	Backoff     Backoff
	LiveReset   time.Duration // continuous-live duration that resets backoff
	Disabled    bool          // start in Idle without connecting
}

type command int

const (
	cmdWake command = iota // enabled/disabled flag changed, re-evaluate
	cmdReconnect
)

// Supervisor drives one platform connector through
// Idle/Connecting/Authenticating/Live/Backoff/AwaitingReauth/Stopped. All
// waits are interruptible by lifecycle controls and context cancellation;
// failures on one supervisor never block another.
type Supervisor struct {
	cfg      SupervisorConfig
	platform message.Platform
	cmds     chan command
	credCh   <-chan CredentialEvent
	credGen  uint64 // credential generation observed at the last dial
	done     chan struct{}

	mu      sync.Mutex
	enabled bool
	status  Status
}

// NewSupervisor builds a supervisor for cfg.Driver. Call Start to run it.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.LiveReset <= 0 {
		cfg.LiveReset = DefaultLiveReset
	}
	s := &Supervisor{
		cfg:      cfg,
		platform: cfg.Driver.Platform(),
		cmds:     make(chan command, 4),
		done:     make(chan struct{}),
		enabled:  !cfg.Disabled,
	}
	s.status = Status{Platform: s.platform, State: StateIdle}
	if cfg.Credentials != nil {
		s.credCh = cfg.Credentials.Subscribe(s.platform)
	}
	return s
}

// Start launches the supervision loop. It exits, transitioning to Stopped,
// when ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) {
	go s.run(ctx)
}

// Done is closed once the supervision loop has fully stopped.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Enable starts (or resumes) the connector.
func (s *Supervisor) Enable() {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	s.send(cmdWake)
}

// Disable stops the connector and parks it in Idle.
func (s *Supervisor) Disable() {
	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()
	s.send(cmdWake)
}

// ForceReconnect drops the current session (or skips a pending backoff
// delay) and dials again immediately.
func (s *Supervisor) ForceReconnect() { s.send(cmdReconnect) }

// Status returns the current supervision snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Platform returns the supervised platform.
func (s *Supervisor) Platform() message.Platform { return s.platform }

func (s *Supervisor) send(c command) {
	select {
	case s.cmds <- c:
	default: // loop will re-evaluate on the queued command
	}
}

func (s *Supervisor) isEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	bo := s.cfg.Backoff
	for {
		if ctx.Err() != nil {
			s.transition(StateStopped, nil, 0, time.Time{})
			return
		}
		if !s.isEnabled() {
			s.transition(StateIdle, nil, 0, time.Time{})
			if !s.waitEnabled(ctx) {
				s.transition(StateStopped, nil, 0, time.Time{})
				return
			}
			bo.Reset()
		}

		if s.cfg.Credentials != nil {
			s.credGen = s.cfg.Credentials.Generation(s.platform)
		}
		s.transition(StateConnecting, nil, bo.Failures(), time.Time{})
		dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
		sess, err := s.cfg.Driver.Dial(dialCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				s.transition(StateStopped, nil, 0, time.Time{})
				return
			}
			if !s.handleFailure(ctx, err, &bo) {
				s.transition(StateStopped, nil, 0, time.Time{})
				return
			}
			continue
		}

		s.transition(StateAuthenticating, nil, bo.Failures(), time.Time{})
		authCtx, cancel := context.WithTimeout(ctx, s.cfg.AuthTimeout)
		err = sess.Authenticate(authCtx)
		cancel()
		if err != nil {
			closeSession(s.platform, sess)
			if ctx.Err() != nil {
				s.transition(StateStopped, nil, 0, time.Time{})
				return
			}
			if !s.handleFailure(ctx, err, &bo) {
				s.transition(StateStopped, nil, 0, time.Time{})
				return
			}
			continue
		}

		liveStart := time.Now()
		s.setLiveSince(liveStart)
		s.transition(StateLive, nil, bo.Failures(), time.Time{})
		err = s.pump(ctx, sess)
		closeSession(s.platform, sess)
		s.setLiveSince(time.Time{})
		if ctx.Err() != nil {
			s.transition(StateStopped, nil, 0, time.Time{})
			return
		}
		if time.Since(liveStart) >= s.cfg.LiveReset {
			bo.Reset()
		}
		if err == nil {
			// explicit reconnect or disable, not a failure
			continue
		}
		if !s.handleFailure(ctx, err, &bo) {
			s.transition(StateStopped, nil, 0, time.Time{})
			return
		}
	}
}

// pump runs the session until it drops or a lifecycle control interrupts it.
// A nil return means no failure should be counted.
func (s *Supervisor) pump(ctx context.Context, sess Session) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- sess.Run(sessCtx) }()

	stop := func() {
		cancel()
		<-errCh
	}
	for {
		select {
		case err := <-errCh:
			if sessCtx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if err == nil {
				return fmt.Errorf("%s session closed by remote", s.platform)
			}
			return err
		case c := <-s.cmds:
			if c == cmdReconnect || !s.isEnabled() {
				stop()
				return nil
			}
		case ev, ok := <-s.credCh:
			if !ok {
				s.credCh = nil
				continue
			}
			if ev == CredentialInvalid {
				stop()
				return fmt.Errorf("%s credential invalidated: %w", s.platform, ErrAuthInvalid)
			}
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// handleFailure waits out the consequence of err (backoff delay, reauth,
// config hold) and reports whether the loop should keep running.
func (s *Supervisor) handleFailure(ctx context.Context, err error, bo *Backoff) bool {
	class := Classify(err)
	slog.Warn("connector fault",
		slog.String("platform", string(s.platform)),
		slog.String("class", class.String()),
		slog.Any("err", err))
	switch class {
	case ClassConfig:
		// Surfaced immediately; never leaves Idle until reconfigured and
		// re-enabled.
		s.mu.Lock()
		s.enabled = false
		s.mu.Unlock()
		s.transition(StateIdle, err, bo.Failures(), time.Time{})
		return s.waitEnabled(ctx)
	case ClassAuthInvalid:
		s.transition(StateAwaitingReauth, err, bo.Failures(), time.Time{})
		return s.waitReauth(ctx)
	case ClassRateLimited:
		// Normally honored inside Live by the driver; if one surfaces here,
		// wait the advertised interval without counting a failure.
		var rl *RateLimitError
		wait := DefaultBackoffBase
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			wait = rl.RetryAfter
		}
		s.transition(StateBackoff, err, bo.Failures(), time.Now().Add(wait))
		return s.sleep(ctx, wait)
	default:
		delay := bo.Next()
		s.transition(StateBackoff, err, bo.Failures(), time.Now().Add(delay))
		return s.sleep(ctx, delay)
	}
}

// sleep waits the backoff delay; a reconnect command or disable cuts it
// short. Returns false only on context cancellation.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			return true
		case c := <-s.cmds:
			if c == cmdReconnect || !s.isEnabled() {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}

// waitEnabled parks in Idle until enabled. Returns false on cancellation.
func (s *Supervisor) waitEnabled(ctx context.Context) bool {
	for {
		select {
		case <-s.cmds:
			if s.isEnabled() {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}

// waitReauth parks in AwaitingReauth until the token manager reports a new
// credential, an operator forces a reconnect, or the connector is disabled.
func (s *Supervisor) waitReauth(ctx context.Context) bool {
	// A refresh can land while the session is still up; pump consumes and
	// drops that CredentialUpdated. Compare generations so an already stored
	// replacement resumes immediately instead of waiting for the next
	// scheduled refresh.
	if s.cfg.Credentials != nil && s.cfg.Credentials.Generation(s.platform) != s.credGen {
		return true
	}
	for {
		select {
		case ev, ok := <-s.credCh:
			if !ok {
				s.credCh = nil
				continue
			}
			if ev == CredentialUpdated {
				return true
			}
		case c := <-s.cmds:
			if c == cmdReconnect || !s.isEnabled() {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}

func (s *Supervisor) setLiveSince(t time.Time) {
	s.mu.Lock()
	s.status.LiveSince = t
	s.mu.Unlock()
}

func (s *Supervisor) transition(state State, err error, failures int, nextRetry time.Time) {
	s.mu.Lock()
	s.status.State = state
	s.status.Failures = failures
	s.status.NextRetry = nextRetry
	var class Class
	if err != nil {
		class = Classify(err)
		s.status.LastError = err.Error()
		s.status.LastClass = class.String()
	}
	s.mu.Unlock()
	if s.cfg.Events != nil {
		s.cfg.Events(Event{Platform: s.platform, State: state, Class: class, Err: err, At: time.Now().UTC()})
	}
}

func closeSession(p message.Platform, sess Session) {
	if err := sess.Close(); err != nil {
		slog.Debug("session close", slog.String("platform", string(p)), slog.Any("err", err))
	}
}
