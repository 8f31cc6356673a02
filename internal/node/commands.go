package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-node/internal/actuator"
	"github.com/nerrad567/gray-logic-node/internal/driver"
	"github.com/nerrad567/gray-logic-node/internal/sensor"
)

// Command names, the last segment of graylogic/node/{id}/command/{name}.
const (
	CmdConfigureSensor   = "configure-sensor"
	CmdConfigureActuator = "configure-actuator"
	CmdRemoveSensor      = "remove-sensor"
	CmdRemoveActuator    = "remove-actuator"
	CmdSetActuator       = "set-actuator"
	CmdEmergencyStop     = "emergency-stop"
	CmdClearEmergency    = "clear-emergency"
	CmdResume            = "resume"
	CmdInstallLibrary    = "install-library"
	CmdUnloadLibrary     = "unload-library"
	CmdQueryStatus       = "query-status"
)

// defaultStopReason is used when an emergency stop command names no reason.
const defaultStopReason = "remote emergency stop"

// Response is published on the response topic for every command.
type Response struct {
	CommandID string    `json:"command_id"`
	Command   string    `json:"command"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type commandHandler func(ctx context.Context, payload []byte) (any, error)

func (n *Node) commandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		CmdConfigureSensor:   n.cmdConfigureSensor,
		CmdConfigureActuator: n.cmdConfigureActuator,
		CmdRemoveSensor:      n.cmdRemoveSensor,
		CmdRemoveActuator:    n.cmdRemoveActuator,
		CmdSetActuator:       n.cmdSetActuator,
		CmdEmergencyStop:     n.cmdEmergencyStop,
		CmdClearEmergency:    n.cmdClearEmergency,
		CmdResume:            n.cmdResume,
		CmdInstallLibrary:    n.cmdInstallLibrary,
		CmdUnloadLibrary:     n.cmdUnloadLibrary,
		CmdQueryStatus:       n.cmdQueryStatus,
	}
}

// handleCommand is the transport callback for the command topic tree.
func (n *Node) handleCommand(topic string, payload []byte) error {
	name, ok := n.topics.CommandName(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrUnknownCommand, topic)
	}
	resp := n.Execute(name, payload)
	if err := n.publishJSON(n.topics.Response(), resp, false); err != nil {
		n.logger.Error("publishing command response failed", "command", name, "command_id", resp.CommandID, "error", err)
		return err
	}
	return nil
}

// Execute runs one command and returns its response. It is serialised with
// Tick through the node mutex.
func (n *Node) Execute(name string, payload []byte) Response {
	var env struct {
		CommandID string `json:"command_id"`
	}
	if len(payload) > 0 {
		//nolint:errcheck // a malformed payload is reported by the handler's own decode
		json.Unmarshal(payload, &env)
	}
	if env.CommandID == "" {
		env.CommandID = uuid.NewString()
	}

	resp := Response{CommandID: env.CommandID, Command: name}

	handler, ok := n.commandHandlers()[name]
	if !ok {
		resp.Error = fmt.Sprintf("%v: %s", ErrUnknownCommand, name)
		resp.Timestamp = n.now().UTC()
		n.metrics.command(name, ErrUnknownCommand)
		n.logger.Warn("unknown command", "command", name, "command_id", resp.CommandID)
		return resp
	}

	n.mu.Lock()
	ctx, cancel := context.WithTimeout(n.baseCtx, commandTimeout)
	data, err := handler(ctx, payload)
	cancel()
	n.mu.Unlock()

	resp.Timestamp = n.now().UTC()
	resp.Data = data
	if err != nil {
		resp.Error = err.Error()
		n.logger.Warn("command failed", "command", name, "command_id", resp.CommandID, "error", err)
	} else {
		resp.Success = true
		n.logger.Info("command executed", "command", name, "command_id", resp.CommandID)
	}
	n.metrics.command(name, err)
	return resp
}

// handleBroadcastEmergency stops every actuator on a site-wide emergency.
func (n *Node) handleBroadcastEmergency(_ string, payload []byte) error {
	var msg struct {
		Reason string `json:"reason"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &msg); err != nil {
			n.logger.Warn("malformed emergency broadcast, stopping anyway", "error", err)
		}
	}
	reason := strings.TrimSpace(msg.Reason)
	if reason == "" {
		reason = "broadcast emergency stop"
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	failed := n.safety.EmergencyStopAll(n.baseCtx, reason)
	n.logger.Warn("broadcast emergency stop applied", "reason", reason, "failed", failed)
	return nil
}

func decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return nil
}

// gpioRequest is the payload of commands addressing one slot.
type gpioRequest struct {
	GPIO *int `json:"gpio"`
}

func (r gpioRequest) pin() (int, error) {
	if r.GPIO == nil {
		return 0, fmt.Errorf("%w: gpio is required", ErrInvalidCommand)
	}
	return *r.GPIO, nil
}

func (n *Node) cmdConfigureSensor(ctx context.Context, payload []byte) (any, error) {
	var req struct {
		sensor.Config
		GPIO *int `json:"gpio"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.GPIO == nil {
		return nil, fmt.Errorf("%w: gpio is required", ErrInvalidCommand)
	}
	cfg := req.Config
	cfg.GPIO = *req.GPIO

	if err := n.sensors.Configure(ctx, cfg); err != nil {
		return nil, err
	}
	info, _ := n.sensors.Info(cfg.GPIO)
	n.publishSensorStatus(info)
	return info, nil
}

func (n *Node) cmdConfigureActuator(ctx context.Context, payload []byte) (any, error) {
	var req struct {
		actuator.Config
		GPIO    *int  `json:"gpio"`
		AuxGPIO *int  `json:"aux_gpio"`
		Active  *bool `json:"active"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.GPIO == nil {
		return nil, fmt.Errorf("%w: gpio is required", ErrInvalidCommand)
	}
	cfg := req.Config
	cfg.GPIO = *req.GPIO
	cfg.AuxGPIO = driver.NoGPIO
	if req.AuxGPIO != nil {
		cfg.AuxGPIO = *req.AuxGPIO
	}
	cfg.Active = req.Active == nil || *req.Active

	if err := n.actuators.Configure(ctx, cfg); err != nil {
		return nil, err
	}
	st, _ := n.actuators.Status(cfg.GPIO)
	return st, nil
}

func (n *Node) cmdRemoveSensor(ctx context.Context, payload []byte) (any, error) {
	var req gpioRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	g, err := req.pin()
	if err != nil {
		return nil, err
	}
	if err := n.sensors.Remove(ctx, g); err != nil {
		return nil, err
	}
	n.clearRetained(n.topics.SensorStatus(g))
	return nil, nil
}

func (n *Node) cmdRemoveActuator(ctx context.Context, payload []byte) (any, error) {
	var req gpioRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	g, err := req.pin()
	if err != nil {
		return nil, err
	}
	return nil, n.actuators.Remove(ctx, g)
}

func (n *Node) cmdSetActuator(ctx context.Context, payload []byte) (any, error) {
	var req struct {
		gpioRequest
		Value *float64 `json:"value"`
		State *bool    `json:"state"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	g, err := req.pin()
	if err != nil {
		return nil, err
	}

	switch {
	case req.Value != nil && req.State != nil:
		return nil, fmt.Errorf("%w: value and state are mutually exclusive", ErrInvalidCommand)
	case req.Value != nil:
		err = n.actuators.SetValue(ctx, g, *req.Value)
	case req.State != nil:
		err = n.actuators.SetBinary(ctx, g, *req.State)
	default:
		return nil, fmt.Errorf("%w: value or state is required", ErrInvalidCommand)
	}
	if err != nil {
		return nil, err
	}
	st, _ := n.actuators.Status(g)
	return st, nil
}

type stopRequest struct {
	gpioRequest
	Reason string `json:"reason"`
}

func (n *Node) cmdEmergencyStop(ctx context.Context, payload []byte) (any, error) {
	var req stopRequest
	if len(payload) > 0 {
		if err := decode(payload, &req); err != nil {
			// A stop is never refused for a bad payload.
			n.logger.Warn("malformed emergency stop payload, stopping everything", "error", err)
			req = stopRequest{}
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultStopReason
	}

	if req.GPIO != nil {
		return nil, n.safety.EmergencyStopActuator(ctx, *req.GPIO, reason)
	}
	failed := n.safety.EmergencyStopAll(ctx, reason)
	return map[string]any{"failed_gpios": failed}, nil
}

func (n *Node) cmdClearEmergency(ctx context.Context, payload []byte) (any, error) {
	var req gpioRequest
	if len(payload) > 0 {
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
	}
	if req.GPIO != nil {
		return nil, n.safety.ClearActuatorEmergency(ctx, *req.GPIO)
	}
	if err := n.safety.ClearEmergencyStop(ctx); err != nil {
		return nil, err
	}
	return n.safety.Status(), nil
}

func (n *Node) cmdResume(ctx context.Context, _ []byte) (any, error) {
	if err := n.safety.ResumeOperation(ctx); err != nil {
		return nil, err
	}
	return n.safety.Status(), nil
}

func (n *Node) cmdInstallLibrary(ctx context.Context, payload []byte) (any, error) {
	var req struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Payload string `json:"payload"`
		Size    int    `json:"size"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if err := n.loader.LoadFromBinary(ctx, req.Name, req.Version, req.Payload, req.Size); err != nil {
		return nil, err
	}
	for _, info := range n.loader.List() {
		if info.Name == strings.TrimSpace(req.Name) {
			return info, nil
		}
	}
	return nil, nil
}

func (n *Node) cmdUnloadLibrary(ctx context.Context, payload []byte) (any, error) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidCommand)
	}
	return nil, n.loader.Unload(ctx, req.Name)
}

func (n *Node) cmdQueryStatus(_ context.Context, _ []byte) (any, error) {
	return n.Status(), nil
}

// isSafetyRefusal reports whether err is a command refused by the emergency stop.
func isSafetyRefusal(err error) bool {
	return errors.Is(err, actuator.ErrEmergencyActive) || errors.Is(err, actuator.ErrEmergencyStopped)
}
