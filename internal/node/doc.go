// Package node wires the core components into one running node.
//
// A Node is built from explicit collaborators (no package globals) and
// connects them: the safety controller guards the actuator registry, both
// registries are consulted before a driver library is unloaded, and status
// changes and safety alerts flow out through the Publisher.
//
// Tick runs the control loop in a fixed order:
//
//  1. poll due sensors
//  2. publish each reading, or spill it to the offline buffer
//  3. replay the offline buffer while connected
//  4. accumulate actuator runtime
//  5. let the safety controller react to latched hardware faults
//  6. publish the heartbeat and write telemetry every status interval
//
// Commands arrive as JSON on graylogic/node/{id}/command/{name} and are
// answered on graylogic/node/{id}/response with
// {"command_id", "command", "success", "error", "data"}.
package node
