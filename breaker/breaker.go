// Package breaker provides per-tool circuit breakers built on the
// statemachine core. A breaker skips calling a dependency that is clearly
// broken, converting slow repeated failures into a fast typed error until a
// cooldown and a successful trial call recover it.
package breaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DICKY1987/pipeline-core/statemachine"
)

// Breaker states. There are no terminal states: a breaker is always
// recoverable.
const (
	StateClosed   statemachine.State = "closed"
	StateOpen     statemachine.State = "open"
	StateHalfOpen statemachine.State = "half_open"
)

// Definition is the breaker transition table. Note there is no direct
// open -> closed edge; recovery always passes through half_open.
func Definition() statemachine.Definition {
	return statemachine.Definition{
		Initial: StateClosed,
		Transitions: map[statemachine.State][]statemachine.State{
			StateClosed:   {StateOpen},
			StateOpen:     {StateHalfOpen},
			StateHalfOpen: {StateClosed, StateOpen},
		},
	}
}

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker open.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// Cooldown is how long the breaker stays open before allowing a trial
	// call.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
	// SuccessThreshold is the trial-success count that closes a half-open
	// breaker.
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
}

// DefaultConfig returns sensible breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		SuccessThreshold: 2,
	}
}

// Breaker protects one tool. Safe for concurrent Call.
type Breaker struct {
	mu      sync.Mutex
	machine *statemachine.Machine
	toolID  string
	config  Config

	failureCount int
	successCount int
	lastFailure  time.Time
	lastSuccess  time.Time
}

// New creates a closed breaker for the given tool.
func New(toolID string, config Config, sink statemachine.EventSink, logger *slog.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig().Cooldown
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	return &Breaker{
		machine: statemachine.New("circuit_breaker", toolID, Definition(), sink, logger),
		toolID:  toolID,
		config:  config,
	}
}

// ToolID returns the protected tool's identifier.
func (b *Breaker) ToolID() string { return b.toolID }

// State returns the breaker's current state.
func (b *Breaker) State() statemachine.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.machine.Current()
}

// Call is the sole execution entry point. When the breaker is open and the
// cooldown has not elapsed, it returns an *OpenError without invoking the
// operation. Otherwise the operation runs and its error, if any, is returned
// unchanged; the breaker only observes outcomes, it never swallows them.
func (b *Breaker) Call(op func() (any, error)) (any, error) {
	if err := b.before(); err != nil {
		return nil, err
	}
	result, err := op()
	b.after(err)
	return result, err
}

// before performs the check-then-act admission step under the lock.
func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.machine.Current() != StateOpen {
		return nil
	}
	if !b.shouldAttemptReset() {
		return &OpenError{ToolID: b.toolID, RetryAfter: b.untilReset()}
	}
	// Cooldown elapsed: admit one trial call through half_open.
	return b.machine.Transition(StateHalfOpen,
		fmt.Sprintf("cooldown of %s elapsed", b.config.Cooldown), "cooldown_elapsed")
}

// after records the operation outcome and fires any resulting transition.
// Counters update before the transition so the reason can report them.
func (b *Breaker) after(opErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.machine.Current() {
	case StateClosed:
		if opErr == nil {
			b.failureCount = 0
			b.lastSuccess = time.Now().UTC()
			return
		}
		b.failureCount++
		b.lastFailure = time.Now().UTC()
		if b.failureCount >= b.config.FailureThreshold {
			_ = b.machine.Transition(StateOpen,
				fmt.Sprintf("failure threshold reached (%d/%d)", b.failureCount, b.config.FailureThreshold),
				"failure_threshold")
		}
	case StateHalfOpen:
		if opErr == nil {
			b.successCount++
			b.lastSuccess = time.Now().UTC()
			if b.successCount >= b.config.SuccessThreshold {
				_ = b.machine.Transition(StateClosed,
					fmt.Sprintf("success threshold reached (%d/%d)", b.successCount, b.config.SuccessThreshold),
					"success_threshold")
				b.failureCount = 0
				b.successCount = 0
			}
			return
		}
		b.lastFailure = time.Now().UTC()
		b.successCount = 0
		_ = b.machine.Transition(StateOpen, "trial call failed", "trial_failure")
	}
}

// shouldAttemptReset reports whether an open breaker may admit a trial call.
// Callers must hold the lock.
func (b *Breaker) shouldAttemptReset() bool {
	return b.lastFailure.IsZero() || time.Since(b.lastFailure) >= b.config.Cooldown
}

// untilReset returns the remaining cooldown. Callers must hold the lock.
func (b *Breaker) untilReset() time.Duration {
	if b.lastFailure.IsZero() {
		return 0
	}
	remaining := b.config.Cooldown - time.Since(b.lastFailure)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ForceOpen trips the breaker open by operator action.
func (b *Breaker) ForceOpen(reason, operator string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.machine.Current() {
	case StateOpen:
		return nil
	case StateHalfOpen:
		return b.machine.OperatorTransition(StateOpen, reason, "force_open", operator)
	default:
		b.lastFailure = time.Now().UTC()
		return b.machine.OperatorTransition(StateOpen, reason, "force_open", operator)
	}
}

// ForceClose resets the breaker by operator action. From open it passes
// through half_open to keep the transition table valid.
func (b *Breaker) ForceClose(reason, operator string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.machine.Current() == StateOpen {
		if err := b.machine.OperatorTransition(StateHalfOpen, reason, "force_close", operator); err != nil {
			return err
		}
	}
	if b.machine.Current() == StateHalfOpen {
		if err := b.machine.OperatorTransition(StateClosed, reason, "force_close", operator); err != nil {
			return err
		}
	}
	b.failureCount = 0
	b.successCount = 0
	return nil
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	ToolID            string             `json:"tool_id"`
	State             statemachine.State `json:"state"`
	FailureCount      int                `json:"failure_count"`
	SuccessCount      int                `json:"success_count"`
	FailureThreshold  int                `json:"failure_threshold"`
	SuccessThreshold  int                `json:"success_threshold"`
	CooldownSeconds   float64            `json:"cooldown_seconds"`
	SecondsUntilReset float64            `json:"seconds_until_reset"`
	LastFailure       *time.Time         `json:"last_failure,omitempty"`
	LastSuccess       *time.Time         `json:"last_success,omitempty"`
}

// Stats returns a snapshot of all counters and thresholds.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		ToolID:           b.toolID,
		State:            b.machine.Current(),
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		FailureThreshold: b.config.FailureThreshold,
		SuccessThreshold: b.config.SuccessThreshold,
		CooldownSeconds:  b.config.Cooldown.Seconds(),
	}
	if b.machine.Current() == StateOpen {
		s.SecondsUntilReset = b.untilReset().Seconds()
	}
	if !b.lastFailure.IsZero() {
		f := b.lastFailure
		s.LastFailure = &f
	}
	if !b.lastSuccess.IsZero() {
		ls := b.lastSuccess
		s.LastSuccess = &ls
	}
	return s
}
