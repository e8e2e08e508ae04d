package poller

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/mawinkler/astrolive/alpaca"
	"github.com/mawinkler/astrolive/busclient"
	"github.com/mawinkler/astrolive/discovery"
	"github.com/mawinkler/astrolive/errors"
	"github.com/mawinkler/astrolive/health"
	"github.com/mawinkler/astrolive/imaging"
	"github.com/mawinkler/astrolive/metric"
	"github.com/mawinkler/astrolive/observatory"
	"github.com/mawinkler/astrolive/watcher"
)

// Deps carries everything a poller needs. Supervisor and Store are shared
// across pollers; the rest is per-component or process-wide.
type Deps struct {
	Component   *observatory.Component
	Observatory *observatory.Observatory
	Device      alpaca.API // nil for camera_file components
	Bus         busclient.Publisher
	Discovery   *discovery.Publisher
	Supervisor  *health.Supervisor
	Store       *Store
	Pipeline    *imaging.Pipeline
	Watch       *watcher.Watcher // camera_file components only
	Metrics     *metric.Metrics
	Logger      *slog.Logger
	QoS         byte
	// Session reports the current bus connection generation so discovery
	// descriptors are re-announced after a reconnect
	Session func() uint64
}

// Poller polls one component and publishes its telemetry
type Poller struct {
	deps   Deps
	comp   *observatory.Component
	node   string
	logger *slog.Logger

	// wasOffline forces a fresh discovery announce on the next good cycle
	wasOffline bool
	// pendingFrame is a decoded file frame awaiting pipeline publication
	pendingFrame *imaging.ImageArtifact
}

// New creates a poller for one component
func New(deps Deps) (*Poller, error) {
	if deps.Component == nil || deps.Bus == nil || deps.Discovery == nil || deps.Supervisor == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "poller", "New", "dependency check")
	}
	if deps.Component.Kind == observatory.KindCameraFile {
		if deps.Watch == nil {
			return nil, errors.WrapFatal(errors.ErrMissingConfig, "poller", "New", "camera_file watcher")
		}
	} else if deps.Device == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "poller", "New", "device handle")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		deps:   deps,
		comp:   deps.Component,
		node:   deps.Observatory.NodeID(),
		logger: logger.With("component", deps.Component.ID),
	}, nil
}

// Run polls until the context is cancelled. The first cycle starts
// immediately; subsequent cycles are spaced by the component's update
// interval jittered by up to 10% so pollers do not herd against the
// device service.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Poller started", "kind", p.comp.Kind, "interval", p.comp.UpdateInterval)
	for {
		wait := p.jitteredInterval()
		if p.deps.Supervisor.ShouldAttempt(time.Now()) {
			p.cycle(ctx)
		} else {
			// In backoff: wake no earlier than the shared retry time
			if until := time.Until(p.deps.Supervisor.NextRetryAt()); until > wait {
				wait = until
			}
		}

		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopped")
			return
		case <-time.After(wait):
		}
	}
}

func (p *Poller) jitteredInterval() time.Duration {
	interval := p.comp.UpdateInterval
	return interval + time.Duration(rand.Int63n(int64(interval)/10+1))
}

// cycle performs one poll: read, announce if needed, publish
func (p *Poller) cycle(ctx context.Context) {
	started := time.Now()
	var snapshot observatory.Snapshot
	var err error

	if p.comp.Kind == observatory.KindCameraFile {
		snapshot, err = p.fileCycle(ctx)
	} else {
		snapshot, err = p.deviceCycle(ctx)
	}

	if err != nil {
		p.deps.Supervisor.RecordFailure()
		p.recordCycle("failure", started)
		p.deps.Metrics.RecordDeviceConnected(p.comp.ID, false)
		p.logger.Warn("Poll cycle failed", "error", err,
			"next_retry", p.deps.Supervisor.NextRetryAt())

		offline := observatory.NewDisconnectedSnapshot(p.comp.ID)
		p.deps.Store.Put(offline)
		p.publishAvailability(ctx, false)
		p.wasOffline = true
		return
	}

	p.deps.Supervisor.RecordSuccess()
	p.recordCycle("success", started)
	p.deps.Metrics.RecordDeviceConnected(p.comp.ID, true)

	if p.wasOffline {
		// The device came back; re-announce so a broker session that
		// lost retained descriptors while we were dark gets them again
		p.deps.Discovery.Forget(p.comp.TopicID())
		p.wasOffline = false
	}

	p.deps.Store.Put(snapshot)
	p.publishSnapshot(ctx, snapshot)
	p.publishFrame(ctx, snapshot)
}

func (p *Poller) recordCycle(status string, started time.Time) {
	p.deps.Metrics.RecordPollCycle(p.comp.ID, status, time.Since(started))
	p.deps.Metrics.RecordSupervisorState(
		p.deps.Supervisor.Name(), int(p.deps.Supervisor.Health().State))
}

// deviceCycle reads every supported attribute from the device API.
// An attribute-level rejection narrows the capability set and the cycle
// continues; a transient failure aborts the cycle as a connectivity loss.
func (p *Poller) deviceCycle(ctx context.Context) (observatory.Snapshot, error) {
	connected, err := p.deps.Device.Connected(ctx)
	if err != nil {
		return observatory.Snapshot{}, err
	}
	if !connected {
		return observatory.Snapshot{}, errors.WrapTransient(
			fmt.Errorf("%w: device reports disconnected", errors.ErrDeviceUnreachable),
			"poller", "deviceCycle", "connectivity check")
	}

	attributes := make(map[string]string)
	for _, attr := range observatory.Schema(p.comp.Kind) {
		if attr.Source == "" || !p.comp.Supports(attr.Name) {
			continue
		}
		value, err := p.deps.Device.Get(ctx, attr.Source)
		if err != nil {
			if aborted := p.handleAttributeError(attr.Name, err); aborted != nil {
				return observatory.Snapshot{}, aborted
			}
			continue
		}
		attributes[attr.Name] = displayValue(p.comp.Kind, attr.Name, value)

		if p.comp.Kind == observatory.KindSwitch && attr.Name == "max_switch" {
			if err := p.readSwitchPorts(ctx, value, attributes); err != nil {
				return observatory.Snapshot{}, err
			}
		}
	}

	deriveFilterWheelCurrent(p.comp.Kind, attributes)
	return observatory.NewSnapshot(p.comp.ID, attributes), nil
}

// handleAttributeError returns a non-nil error when the cycle must abort
// (connectivity loss); attribute-level rejections are absorbed here
func (p *Poller) handleAttributeError(attribute string, err error) error {
	if errors.IsTransient(err) {
		return err
	}
	p.deps.Metrics.RecordAttributeFailure(p.comp.ID, attribute)
	if p.comp.Narrow(attribute) {
		p.logger.Info("Attribute unsupported, narrowed capability set",
			"attribute", attribute, "error", err)
	}
	return nil
}

// readSwitchPorts expands the capability set with the ports reported by
// max_switch and reads each port's state and analog value
func (p *Poller) readSwitchPorts(ctx context.Context, maxValue any, attributes map[string]string) error {
	count, ok := maxValue.(float64)
	if !ok || count < 0 || count > 64 {
		return nil
	}
	for id := 0; id < int(count); id++ {
		params := map[string]string{"Id": strconv.Itoa(id)}

		port := observatory.SwitchPortAttribute(id)
		if p.comp.Extend(port.Name) {
			p.logger.Info("Discovered switch port", "port", id)
		}
		if p.comp.Supports(port.Name) {
			value, err := p.deps.Device.GetWith(ctx, port.Source, params)
			if err != nil {
				if aborted := p.handleAttributeError(port.Name, err); aborted != nil {
					return aborted
				}
			} else {
				attributes[port.Name] = formatValue(value)
			}
		}

		analog := observatory.SwitchValueAttribute(id)
		p.comp.Extend(analog.Name)
		if p.comp.Supports(analog.Name) {
			value, err := p.deps.Device.GetWith(ctx, analog.Source, params)
			if err != nil {
				if aborted := p.handleAttributeError(analog.Name, err); aborted != nil {
					return aborted
				}
			} else {
				attributes[analog.Name] = formatValue(value)
			}
		}
	}
	return nil
}

// deriveFilterWheelCurrent resolves the current filter name from the
// position index and the configured name list
func deriveFilterWheelCurrent(kind observatory.Kind, attributes map[string]string) {
	if kind != observatory.KindFilterWheel {
		return
	}
	names := attributes["names"]
	position, err := strconv.Atoi(attributes["position"])
	if err != nil || names == "" {
		return
	}
	parts := splitList(names)
	if position >= 0 && position < len(parts) {
		attributes["current"] = parts[position]
	}
}

// publishSnapshot announces discovery first (idempotent within a session),
// marks the component available, then publishes one state per attribute
func (p *Poller) publishSnapshot(ctx context.Context, snapshot observatory.Snapshot) {
	if err := p.deps.Discovery.Announce(ctx, p.comp, p.deps.Session()); err != nil {
		p.logger.Warn("Discovery announce failed", "error", err)
		return
	}

	p.publishAvailability(ctx, true)

	topicID := p.comp.TopicID()
	for attribute, value := range snapshot.Attributes {
		topic := fmt.Sprintf("%s/%s/%s/state", p.node, topicID, attribute)
		if err := p.deps.Bus.Publish(ctx, topic, p.deps.QoS, false, []byte(value)); err != nil {
			p.logger.Warn("State publish failed", "topic", topic, "error", err)
			return
		}
		p.deps.Metrics.RecordStatePublished(p.comp.ID)
	}
}

// publishAvailability sets the component's availability topic
func (p *Poller) publishAvailability(ctx context.Context, online bool) {
	payload := "OFF"
	if online {
		payload = "ON"
	}
	topic := fmt.Sprintf("%s/%s/lwt", p.node, p.comp.TopicID())
	if err := p.deps.Bus.Publish(ctx, topic, p.deps.QoS, false, []byte(payload)); err != nil {
		p.logger.Warn("Availability publish failed", "error", err)
	}
}

func splitList(joined string) []string {
	raw := strings.Split(joined, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
