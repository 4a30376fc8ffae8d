// Package supervisor keeps exactly one Producer child process alive for as
// long as the main process is alive, and polices its memory use (spec
// §4.2). The state machine and its timing decisions are kept separate from
// process control (Spawner/Child) so the former can be tested without a
// real subprocess.
package supervisor

import (
	"fmt"
	"log/slog"
	"time"
)

// State is one of the four states spec §4.2 names.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateRestarting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultMemoryCapBytes is the 512 MB virtual-memory cap spec §4.2 names.
const DefaultMemoryCapBytes = 512 * 1024 * 1024

// DefaultRestartCooldown is the crash-loop debounce spec §4.2 names.
const DefaultRestartCooldown = 300 * time.Second

// DefaultTermPollInterval bounds shutdown latency and the memory-poll
// cadence (spec §4.2, §5).
const DefaultTermPollInterval = 10 * time.Second

// DefaultGracePeriod is how long the Supervisor waits for a clean exit
// after posting a terminate token before force-killing (spec §4.2, §5).
const DefaultGracePeriod = 3 * time.Second

// Child is a running Producer process, abstracted so the state machine can
// be driven by a fake in tests.
type Child interface {
	// Exited returns a channel that is closed when the child has exited.
	Exited() <-chan struct{}
	// MemoryVMS returns the child's current virtual memory size in bytes.
	MemoryVMS() (uint64, error)
	// Terminate posts a terminate token on the child's control channel.
	Terminate() error
	// Kill forcibly terminates the child.
	Kill() error
}

// Spawner starts a fresh Producer child.
type Spawner interface {
	Spawn() (Child, error)
}

// Supervisor implements the spec §4.2 state machine.
type Supervisor struct {
	spawner         Spawner
	logger          *slog.Logger
	memoryCapBytes  uint64
	restartCooldown time.Duration
	termPoll        time.Duration
	gracePeriod     time.Duration

	state     State
	child     Child
	lastStart time.Time

	// started is closed once Run's first Spawn attempt has completed
	// successfully, so callers that must not proceed until the Producer
	// exists (spec §2/§5: "launches the Supervisor (which launches the
	// Producer), drops privileges in the main process") have a
	// happens-before point to block on instead of racing the goroutine
	// Run is typically launched from.
	started chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithMemoryCapBytes(n uint64) Option {
	return func(s *Supervisor) { s.memoryCapBytes = n }
}

func WithRestartCooldown(d time.Duration) Option {
	return func(s *Supervisor) { s.restartCooldown = d }
}

func WithTermPollInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.termPoll = d }
}

func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) { s.gracePeriod = d }
}

func New(spawner Spawner, logger *slog.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		spawner:         spawner,
		logger:          logger,
		memoryCapBytes:  DefaultMemoryCapBytes,
		restartCooldown: DefaultRestartCooldown,
		termPoll:        DefaultTermPollInterval,
		gracePeriod:     DefaultGracePeriod,
		state:           StateStarting,
		started:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the Supervisor's current state.
func (s *Supervisor) State() State { return s.state }

// Started returns a channel that is closed once Run's first Spawn attempt
// has succeeded. If Run's first Spawn fails, this channel is never closed
// and Run returns the spawn error instead; callers should select on both.
func (s *Supervisor) Started() <-chan struct{} { return s.started }

// start spawns the Producer and transitions Starting/Restarting → Running.
func (s *Supervisor) start(now time.Time) error {
	child, err := s.spawner.Spawn()
	if err != nil {
		return fmt.Errorf("supervisor: spawn producer: %w", err)
	}
	s.child = child
	s.lastStart = now
	s.state = StateRunning
	s.logger.Info("producer started")
	return nil
}

// shouldRestartOnDeath reports whether a dead child should be respawned now
// (spec §4.2: Running → Restarting "Producer has exited AND at least 300s
// have elapsed since the last start").
func shouldRestartOnDeath(lastStart, now time.Time, cooldown time.Duration) bool {
	return now.Sub(lastStart) >= cooldown
}

// shouldRestartOnMemory reports whether the child's memory use has blown
// past the cap (spec §4.2).
func shouldRestartOnMemory(vms, capBytes uint64) bool {
	return vms > capBytes
}

// poll runs one health-check cycle: checks for child death or memory
// blow-up and restarts if warranted. Called between terminate-channel
// blocks (spec §4.2, §5).
func (s *Supervisor) poll(now time.Time) error {
	select {
	case <-s.child.Exited():
		if !shouldRestartOnDeath(s.lastStart, now, s.restartCooldown) {
			return nil
		}
		s.logger.Warn("producer died, restarting", slog.Duration("since_last_start", now.Sub(s.lastStart)))
		s.state = StateRestarting
		return s.start(now)
	default:
	}

	vms, err := s.child.MemoryVMS()
	if err != nil {
		return nil
	}
	if shouldRestartOnMemory(vms, s.memoryCapBytes) {
		s.logger.Warn("producer memory usage exceeded cap, restarting",
			slog.Uint64("vms_bytes", vms), slog.Uint64("cap_bytes", s.memoryCapBytes))
		s.state = StateRestarting
		if err := s.terminateChild(); err != nil {
			s.logger.Error("error terminating over-limit producer", slog.String("err", err.Error()))
		}
		return s.start(now)
	}
	return nil
}

// terminateChild implements the best-effort termination protocol: post a
// terminate token, wait up to gracePeriod, then force-kill (spec §4.2).
func (s *Supervisor) terminateChild() error {
	if s.child == nil {
		return nil
	}
	if err := s.child.Terminate(); err != nil {
		return s.child.Kill()
	}
	select {
	case <-s.child.Exited():
		return nil
	case <-time.After(s.gracePeriod):
		return s.child.Kill()
	}
}

// Run spawns the Producer and health-checks it until termCh fires (is
// closed or receives a value), then terminates the child and returns (spec
// §4.2, §5's "blocks for up to 10s on the outer terminate channel between
// health checks").
func (s *Supervisor) Run(termCh <-chan struct{}, now func() time.Time) error {
	if err := s.start(now()); err != nil {
		return err
	}
	close(s.started)
	for {
		select {
		case <-termCh:
			s.state = StateStopped
			return s.terminateChild()
		case <-time.After(s.termPoll):
			if err := s.poll(now()); err != nil {
				s.logger.Error("supervisor poll error", slog.String("err", err.Error()))
			}
		}
	}
}
