package safety

import (
	"fmt"
	"time"
)

// State is the system-wide emergency state.
type State int32

const (
	StateNormal State = iota
	StateEmergencyActive
)

// String returns the state name used in payloads.
func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateEmergencyActive:
		return "emergency_active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Phase tracks recovery progress while the emergency is active.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseStopped
	PhaseCleared
	PhaseResuming
)

// String returns the phase name used in payloads.
func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseStopped:
		return "stopped"
	case PhaseCleared:
		return "cleared"
	case PhaseResuming:
		return "resuming"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// RecoveryConfig tunes clear and resume.
type RecoveryConfig struct {
	// MaxRetryAttempts is the number of extra clear rounds after the first.
	MaxRetryAttempts int

	// InterActuatorDelay separates consecutive restores during resume.
	InterActuatorDelay time.Duration

	// VerifyDelay is the pause between clear rounds.
	VerifyDelay time.Duration
}

// Alert types.
const (
	AlertEmergencyStop   = "emergency_stop"
	AlertActuatorStop    = "actuator_emergency_stop"
	AlertActuatorCleared = "actuator_emergency_cleared"
	AlertClearFailed     = "emergency_clear_failed"
	AlertCleared         = "emergency_cleared"
	AlertResumeFailed    = "resume_failed"
	AlertResumed         = "operation_resumed"
	AlertSafeBoot        = "safe_boot"
)

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is published for every emergency transition.
type Alert struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"`
	Severity           string    `json:"severity"`
	Reason             string    `json:"reason,omitempty"`
	GPIO               *int      `json:"gpio,omitempty"`
	FailedGPIOs        []int     `json:"failed_gpios,omitempty"`
	Attempts           int       `json:"attempts,omitempty"`
	VerificationFailed bool      `json:"verification_failed,omitempty"`
	State              State     `json:"state"`
	Phase              Phase     `json:"phase"`
	Timestamp          time.Time `json:"timestamp"`
}

// AlertPublisher delivers alerts to operators.
type AlertPublisher interface {
	PublishAlert(a Alert)
}

// Status is a snapshot of the controller.
type Status struct {
	State  State     `json:"state"`
	Phase  Phase     `json:"phase"`
	Reason string    `json:"reason,omitempty"`
	Since  time.Time `json:"since,omitempty"`
}
