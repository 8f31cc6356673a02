package safety

import "errors"

// Domain errors for the safety controller.
var (
	// ErrVerificationFailed is returned when a driver still reports
	// emergency after every clear attempt.
	ErrVerificationFailed = errors.New("safety: emergency clear verification failed")

	// ErrResumeFailed is returned when an actuator could not be restored.
	ErrResumeFailed = errors.New("safety: resume failed")

	// ErrNotCleared is returned by ResumeOperation before a successful clear.
	ErrNotCleared = errors.New("safety: emergency not cleared")

	// ErrNotActive is returned by ClearEmergencyStop when no system emergency is active.
	ErrNotActive = errors.New("safety: no emergency active")

	// ErrSystemEmergency is returned by per-actuator clears while the system emergency is active.
	ErrSystemEmergency = errors.New("safety: system emergency active")

	// ErrUnknownActuator is returned for gpios with no configured actuator.
	ErrUnknownActuator = errors.New("safety: unknown actuator")
)
