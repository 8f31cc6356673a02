// Package safety implements the node's emergency stop and recovery state machine.
//
// The Controller is the actuator registry's EmergencyGuard: while the
// system emergency is active every consumer command is refused. Recovery
// is two explicit steps, a verified clear followed by a sequenced resume
// that restores actuators one at a time.
//
// The state is persisted on every transition. A node restarted anywhere
// other than Normal boots into EmergencyActive and must be cleared and
// resumed again.
package safety
