// Package command routes inbound operator commands to device components.
// The channel is fire-and-forget: a command's outcome is never confirmed
// synchronously, it surfaces on the next telemetry cycle as new state.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/mawinkler/astrolive/alpaca"
	"github.com/mawinkler/astrolive/busclient"
	"github.com/mawinkler/astrolive/errors"
	"github.com/mawinkler/astrolive/metric"
	"github.com/mawinkler/astrolive/observatory"
)

// Topic is the single inbound command topic
const Topic = "astrolive/command"

// invokeTimeout bounds each device call triggered by a command
const invokeTimeout = 30 * time.Second

// Envelope is the inbound command payload. Command-specific fields are
// decimal strings and forwarded verbatim once validated.
type Envelope struct {
	Component string `json:"component"`
	Command   string `json:"command"`
	RA        string `json:"ra,omitempty"`
	Dec       string `json:"dec,omitempty"`
	Position  string `json:"position,omitempty"`
	ID        string `json:"id,omitempty"`
}

// Router validates and dispatches operator commands
type Router struct {
	observatory *observatory.Observatory
	devices     map[string]alpaca.API
	metrics     *metric.Metrics
	logger      *slog.Logger
}

// NewRouter creates a command router over the configured components.
// devices maps component id to its device handle.
func NewRouter(obs *observatory.Observatory, devices map[string]alpaca.API, metrics *metric.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		observatory: obs,
		devices:     devices,
		metrics:     metrics,
		logger:      logger.With("component", "command"),
	}
}

// Start subscribes the router to the command topic
func (r *Router) Start(bus busclient.Subscriber, qos byte) error {
	return bus.Subscribe(Topic, qos, func(_ string, payload []byte) {
		r.Handle(payload)
	})
}

// Handle validates one raw command payload and, if accepted, invokes the
// device. Rejections are logged and counted, never fatal.
func (r *Router) Handle(payload []byte) {
	envelope, err := r.decode(payload)
	if err != nil {
		r.reject("malformed", err)
		return
	}

	component, ok := r.observatory.ComponentByID(envelope.Component)
	if !ok {
		r.reject("unknown_component", errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownComponent, envelope.Component),
			"command", "Handle", "resolving component"))
		return
	}

	if !observatory.CommandPermitted(component.Kind, envelope.Command) {
		r.reject("not_permitted", errors.WrapInvalid(
			fmt.Errorf("%w: %q for kind %q", errors.ErrCommandRejected, envelope.Command, component.Kind),
			"command", "Handle", "checking permitted set"))
		return
	}

	device, ok := r.devices[component.ID]
	if !ok {
		r.reject("no_device", errors.WrapInvalid(
			fmt.Errorf("%w: %q has no device handle", errors.ErrUnknownComponent, component.ID),
			"command", "Handle", "resolving device"))
		return
	}

	operation, args, err := translate(envelope)
	if err != nil {
		r.reject("invalid_args", err)
		return
	}

	r.metrics.RecordCommand(component.ID, envelope.Command)
	r.logger.Info("Dispatching command",
		"component", component.ID, "command", envelope.Command)

	ctx, cancel := context.WithTimeout(context.Background(), invokeTimeout)
	defer cancel()
	if err := device.Invoke(ctx, operation, args); err != nil {
		// Fire-and-forget: the failure is visible on the next cycle
		r.logger.Warn("Command invocation failed",
			"component", component.ID, "command", envelope.Command, "error", err)
	}
}

func (r *Router) decode(payload []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrMalformedCommand, err),
			"command", "decode", "decoding envelope")
	}
	if envelope.Component == "" || envelope.Command == "" {
		return Envelope{}, errors.WrapInvalid(
			fmt.Errorf("%w: component and command are required", errors.ErrMalformedCommand),
			"command", "decode", "decoding envelope")
	}
	return envelope, nil
}

func (r *Router) reject(reason string, err error) {
	r.metrics.RecordCommandRejected(reason)
	r.logger.Warn("Command rejected", "reason", reason, "error", err)
}

// translate maps a validated envelope onto the device API operation and
// its form parameters
func translate(envelope Envelope) (string, map[string]string, error) {
	switch envelope.Command {
	case "slew":
		if err := validateRange(envelope.RA, 0, 24, false); err != nil {
			return "", nil, invalidArg("ra", err)
		}
		if err := validateRange(envelope.Dec, -90, 90, true); err != nil {
			return "", nil, invalidArg("dec", err)
		}
		return "slewtocoordinates", map[string]string{
			"RightAscension": envelope.RA,
			"Declination":    envelope.Dec,
		}, nil
	case "park":
		return "park", nil, nil
	case "unpark":
		return "unpark", nil, nil
	case "move":
		if err := validateInt(envelope.Position); err != nil {
			return "", nil, invalidArg("position", err)
		}
		return "move", map[string]string{"Position": envelope.Position}, nil
	case "setposition":
		if err := validateInt(envelope.Position); err != nil {
			return "", nil, invalidArg("position", err)
		}
		return "position", map[string]string{"Position": envelope.Position}, nil
	case "on", "off":
		if err := validateInt(envelope.ID); err != nil {
			return "", nil, invalidArg("id", err)
		}
		state := "false"
		if envelope.Command == "on" {
			state = "true"
		}
		return "setswitch", map[string]string{
			"Id":    envelope.ID,
			"State": state,
		}, nil
	default:
		return "", nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrCommandRejected, envelope.Command),
			"command", "translate", "mapping command")
	}
}

// validateRange parses a decimal string and checks it against [low, high]
// or [low, high) when the upper bound is exclusive
func validateRange(raw string, low, high float64, inclusiveHigh bool) error {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("%w: not a decimal number: %q", errors.ErrMalformedCommand, raw)
	}
	// NaN compares false against any bound and would slip through
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: not a finite number: %q", errors.ErrMalformedCommand, raw)
	}
	if v < low || v > high || (!inclusiveHigh && v == high) {
		return fmt.Errorf("%w: %v out of range", errors.ErrMalformedCommand, v)
	}
	return nil
}

func validateInt(raw string) error {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: not an integer: %q", errors.ErrMalformedCommand, raw)
	}
	if v < 0 {
		return fmt.Errorf("%w: %d out of range", errors.ErrMalformedCommand, v)
	}
	return nil
}

func invalidArg(field string, err error) error {
	return errors.WrapInvalid(err, "command", "translate", "validating "+field)
}
