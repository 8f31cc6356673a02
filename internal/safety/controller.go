package safety

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-node/internal/storage"
)

// Logger defines the logging interface used by the Controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopAlerts struct{}

func (noopAlerts) PublishAlert(Alert) {}

// Actuators is the privileged view of the actuator registry.
type Actuators interface {
	GPIOs() []int
	StopSlot(gpio int, reason string) error
	ClearSlot(gpio int) error
	RestoreDefault(gpio int) error
	Stopped(gpio int) bool
	Faulted() []int
}

type persistedState struct {
	State  State     `cbor:"1,keyasint"`
	Phase  Phase     `cbor:"2,keyasint"`
	Reason string    `cbor:"3,keyasint,omitempty"`
	Since  time.Time `cbor:"4,keyasint"`
}

// Controller runs the emergency stop and recovery state machine over the
// actuator registry.
//
//	Normal --EmergencyStopAll--> EmergencyActive/Stopped
//	EmergencyActive/Stopped --ClearEmergencyStop--> EmergencyActive/Cleared
//	EmergencyActive/Cleared --ResumeOperation--> EmergencyActive/Resuming --> Normal
//
// Stops are best effort and always take effect. Failures during clear or
// resume leave the system in EmergencyActive.
type Controller struct {
	mu        sync.Mutex
	state     atomic.Int32
	phase     Phase
	reason    string
	since     time.Time
	actuators Actuators
	cfg       RecoveryConfig

	store  storage.Store
	alerts AlertPublisher
	logger Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a controller in the Normal state.
//
// No store or alert publisher is attached. Call Restore after SetStore so a
// node that lost power mid-emergency boots stopped.
//
// Parameters:
//   - actuators: Registry whose slots are stopped, cleared and restored
//   - cfg: Retry count and delays for clear and resume
//
// Returns:
//   - *Controller: Controller ready to wire as the registry's guard
func New(actuators Actuators, cfg RecoveryConfig) *Controller {
	return &Controller{
		actuators: actuators,
		cfg:       cfg,
		alerts:    noopAlerts{},
		logger:    noopLogger{},
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetLogger sets the logger.
func (c *Controller) SetLogger(l Logger) {
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

// SetStore sets where the emergency state is persisted.
func (c *Controller) SetStore(s storage.Store) {
	c.mu.Lock()
	c.store = s
	c.mu.Unlock()
}

// SetAlertPublisher wires alert delivery.
func (c *Controller) SetAlertPublisher(p AlertPublisher) {
	c.mu.Lock()
	c.alerts = p
	c.mu.Unlock()
}

// EmergencyActive reports whether the system emergency is active. It does
// not take the controller lock, so the actuator registry may call it while
// the controller is mid-transition.
func (c *Controller) EmergencyActive() bool {
	return State(c.state.Load()) == StateEmergencyActive
}

// State returns the system state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Status returns a snapshot of state, phase and reason.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.State(), Phase: c.phase, Reason: c.reason, Since: c.since}
}

// EmergencyStopAll latches every actuator and enters EmergencyActive. Driver
// failures are logged and reported in the alert but never prevent the
// transition. Calling it while already active re-runs every stop and
// returns the phase to Stopped.
func (c *Controller) EmergencyStopAll(ctx context.Context, reason string) (failed []int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasActive := c.EmergencyActive()
	c.state.Store(int32(StateEmergencyActive))
	c.phase = PhaseStopped
	c.reason = reason
	if !wasActive {
		c.since = c.now()
	}

	for _, g := range c.actuators.GPIOs() {
		if err := c.actuators.StopSlot(g, reason); err != nil {
			failed = append(failed, g)
			c.logger.Error("actuator emergency stop failed", "gpio", g, "error", err)
		}
	}

	c.persist(ctx)
	c.logger.Warn("emergency stop activated", "reason", reason, "reapplied", wasActive, "failed", len(failed))
	c.publish(Alert{Type: AlertEmergencyStop, Severity: SeverityCritical, Reason: reason, FailedGPIOs: failed})
	return failed
}

// EmergencyStopActuator stops one actuator without changing the system state.
// A driver failure is logged; the slot is considered stopped regardless.
func (c *Controller) EmergencyStopActuator(_ context.Context, gpio int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !slices.Contains(c.actuators.GPIOs(), gpio) {
		return fmt.Errorf("%w: gpio %d", ErrUnknownActuator, gpio)
	}
	if err := c.actuators.StopSlot(gpio, reason); err != nil {
		c.logger.Error("actuator emergency stop failed", "gpio", gpio, "error", err)
	}
	c.logger.Warn("actuator emergency stopped", "gpio", gpio, "reason", reason)
	c.publish(Alert{Type: AlertActuatorStop, Severity: SeverityWarning, Reason: reason, GPIO: &gpio})
	return nil
}

// ClearActuatorEmergency clears one individually stopped actuator. It is
// refused while the system emergency is active.
func (c *Controller) ClearActuatorEmergency(ctx context.Context, gpio int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.EmergencyActive() {
		return ErrSystemEmergency
	}
	if !slices.Contains(c.actuators.GPIOs(), gpio) {
		return fmt.Errorf("%w: gpio %d", ErrUnknownActuator, gpio)
	}
	if !c.actuators.Stopped(gpio) {
		return nil
	}

	failed, attempts, err := c.clearWithRetry(ctx, []int{gpio})
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		c.publish(Alert{
			Type: AlertClearFailed, Severity: SeverityCritical, GPIO: &gpio,
			FailedGPIOs: failed, Attempts: attempts, VerificationFailed: true,
		})
		return fmt.Errorf("%w: gpio %d after %d attempts", ErrVerificationFailed, gpio, attempts)
	}
	c.publish(Alert{Type: AlertActuatorCleared, Severity: SeverityInfo, GPIO: &gpio})
	return nil
}

// ClearEmergencyStop clears and verifies every actuator, retrying failed
// ones up to MaxRetryAttempts more rounds. Success moves to PhaseCleared;
// the system stays EmergencyActive until ResumeOperation completes.
func (c *Controller) ClearEmergencyStop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.EmergencyActive() {
		return ErrNotActive
	}

	failed, attempts, err := c.clearWithRetry(ctx, c.actuators.GPIOs())
	if err != nil {
		c.phase = PhaseStopped
		c.persist(ctx)
		return err
	}
	if len(failed) > 0 {
		c.phase = PhaseStopped
		c.persist(ctx)
		c.logger.Error("emergency clear verification failed", "failed", failed, "attempts", attempts)
		c.publish(Alert{
			Type: AlertClearFailed, Severity: SeverityCritical, Reason: c.reason,
			FailedGPIOs: failed, Attempts: attempts, VerificationFailed: true,
		})
		return fmt.Errorf("%w: gpios %v after %d attempts", ErrVerificationFailed, failed, attempts)
	}

	c.phase = PhaseCleared
	c.persist(ctx)
	c.logger.Info("emergency cleared, awaiting resume", "attempts", attempts)
	c.publish(Alert{Type: AlertCleared, Severity: SeverityInfo, Attempts: attempts})
	return nil
}

// clearWithRetry returns the gpios still unverified after the last round.
// A non-nil error means ctx ended between rounds.
func (c *Controller) clearWithRetry(ctx context.Context, pending []int) (failed []int, attempts int, err error) {
	for round := 0; round <= c.cfg.MaxRetryAttempts; round++ {
		if round > 0 {
			if err := c.sleep(ctx, c.cfg.VerifyDelay); err != nil {
				return pending, attempts, err
			}
		}
		attempts++
		var still []int
		for _, g := range pending {
			if err := c.actuators.ClearSlot(g); err != nil {
				c.logger.Warn("emergency clear not verified", "gpio", g, "attempt", attempts, "error", err)
				still = append(still, g)
			}
		}
		pending = still
		if len(pending) == 0 {
			return nil, attempts, nil
		}
	}
	return pending, attempts, nil
}

// ResumeOperation restores every actuator to its default, in gpio order, with
// InterActuatorDelay between consecutive actuators. The first failure stops
// the sequence. Cancelling ctx interrupts the delay. In either case the
// system stays EmergencyActive in PhaseResuming and must be cleared again.
func (c *Controller) ResumeOperation(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.EmergencyActive() || c.phase != PhaseCleared {
		return ErrNotCleared
	}
	c.phase = PhaseResuming
	c.persist(ctx)

	for i, g := range c.actuators.GPIOs() {
		if i > 0 {
			if err := c.sleep(ctx, c.cfg.InterActuatorDelay); err != nil {
				c.logger.Warn("resume interrupted", "gpio", g, "error", err)
				c.publish(Alert{Type: AlertResumeFailed, Severity: SeverityCritical, Reason: "interrupted", GPIO: &g})
				return fmt.Errorf("%w: interrupted before gpio %d: %w", ErrResumeFailed, g, err)
			}
		}
		if err := c.actuators.RestoreDefault(g); err != nil {
			c.logger.Error("resume failed", "gpio", g, "error", err)
			c.publish(Alert{Type: AlertResumeFailed, Severity: SeverityCritical, Reason: err.Error(), GPIO: &g})
			return fmt.Errorf("%w: gpio %d: %w", ErrResumeFailed, g, err)
		}
	}

	c.state.Store(int32(StateNormal))
	c.phase = PhaseNone
	c.reason = ""
	c.since = c.now()
	c.persist(ctx)
	c.logger.Info("normal operation resumed")
	c.publish(Alert{Type: AlertResumed, Severity: SeverityInfo})
	return nil
}

// Tick stops everything when an actuator driver has latched itself
// without a stop command, which indicates a hardware fault.
func (c *Controller) Tick(ctx context.Context) {
	faulted := c.actuators.Faulted()
	if len(faulted) == 0 {
		return
	}
	c.EmergencyStopAll(ctx, fmt.Sprintf("hardware fault on gpio %v", faulted))
}

// Restore loads the persisted state. Any state other than Normal, including
// an interrupted resume, boots into EmergencyActive/Stopped.
func (c *Controller) Restore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil
	}

	data, err := c.store.Load(ctx, storage.KeySafetyState)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading safety state: %w", err)
	}
	var ps persistedState
	if err := cbor.Unmarshal(data, &ps); err != nil {
		// An unreadable record cannot prove the last state was Normal.
		ps = persistedState{State: StateEmergencyActive, Phase: PhaseStopped, Reason: "unreadable safety state"}
	}
	if ps.State == StateNormal && ps.Phase == PhaseNone {
		return nil
	}

	c.state.Store(int32(StateEmergencyActive))
	c.phase = PhaseStopped
	c.reason = ps.Reason
	c.since = ps.Since
	c.persist(ctx)
	c.logger.Warn("booting into emergency stop", "persisted_state", ps.State.String(), "persisted_phase", ps.Phase.String(), "reason", ps.Reason)
	c.publish(Alert{Type: AlertSafeBoot, Severity: SeverityCritical, Reason: ps.Reason})
	return nil
}

// persist saves the current state. Caller holds c.mu.
func (c *Controller) persist(ctx context.Context) {
	if c.store == nil {
		return
	}
	data, err := cbor.Marshal(persistedState{State: c.State(), Phase: c.phase, Reason: c.reason, Since: c.since})
	if err == nil {
		err = c.store.Save(context.WithoutCancel(ctx), storage.KeySafetyState, data)
	}
	if err != nil {
		c.logger.Error("persisting safety state failed", "error", err)
	}
}

// publish stamps and delivers an alert. Caller holds c.mu.
func (c *Controller) publish(a Alert) {
	a.ID = uuid.NewString()
	a.State = c.State()
	a.Phase = c.phase
	a.Timestamp = c.now().UTC()
	c.alerts.PublishAlert(a)
}
