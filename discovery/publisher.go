// Package discovery publishes Home-Assistant-style autodiscovery descriptors
// for every attribute a component exposes. Descriptors are retained on the
// broker so consumers that attach later still receive them; within one broker
// session each descriptor is published at most once per component.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mawinkler/astrolive/busclient"
	"github.com/mawinkler/astrolive/errors"
	"github.com/mawinkler/astrolive/observatory"
)

// device is the descriptor block grouping all entities of one component
// under a single device in the consumer's registry
type device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// descriptor is one autodiscovery config payload
type descriptor struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic,omitempty"`
	Topic             string `json:"topic,omitempty"`
	AvailabilityTopic string `json:"availability_topic"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	Icon              string `json:"icon,omitempty"`
	PayloadOn         string `json:"payload_on,omitempty"`
	PayloadOff        string `json:"payload_off,omitempty"`
	Device            device `json:"device"`
}

// Publisher announces component attribute descriptors on the bus
type Publisher struct {
	bus    busclient.Publisher
	prefix string
	node   string
	qos    byte
	logger *slog.Logger

	mu        sync.Mutex
	announced map[string]uint64 // component topic ID -> session generation
}

// NewPublisher creates a discovery publisher for one observatory node
func NewPublisher(bus busclient.Publisher, prefix, node string, qos byte, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		bus:       bus,
		prefix:    prefix,
		node:      node,
		qos:       qos,
		logger:    logger.With("component", "discovery"),
		announced: make(map[string]uint64),
	}
}

// Announce publishes one retained descriptor per attribute the component
// currently supports, plus the camera entity for imaging kinds. A repeat
// call for the same component within the same session generation is a
// no-op; pass a newer generation after a reconnect to force re-announce.
func (p *Publisher) Announce(ctx context.Context, comp *observatory.Component, generation uint64) error {
	topicID := comp.TopicID()

	p.mu.Lock()
	if last, ok := p.announced[topicID]; ok && last == generation {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	dev := device{
		Identifiers:  []string{fmt.Sprintf("%s_%s", p.node, topicID)},
		Name:         comp.FriendlyName,
		Manufacturer: "AstroLive",
		Model:        string(comp.Kind),
	}

	count := 0
	for _, attr := range observatory.Schema(comp.Kind) {
		if !comp.Supports(attr.Name) {
			continue
		}
		if err := p.publishAttribute(ctx, topicID, attr, dev); err != nil {
			return err
		}
		count++
	}

	// Switch port entities are discovered at runtime from max_switch and
	// grafted onto the component's capability set.
	for _, name := range comp.Capabilities() {
		if attr, ok := observatory.DynamicSwitchAttribute(name); ok {
			if err := p.publishAttribute(ctx, topicID, attr, dev); err != nil {
				return err
			}
			count++
		}
	}

	if comp.Kind == observatory.KindCamera || comp.Kind == observatory.KindCameraFile {
		if err := p.publishCamera(ctx, topicID, comp, dev); err != nil {
			return err
		}
		count++
	}

	p.mu.Lock()
	p.announced[topicID] = generation
	p.mu.Unlock()

	p.logger.Info("Announced component", "component", comp.ID, "descriptors", count, "session", generation)
	return nil
}

func (p *Publisher) publishAttribute(ctx context.Context, topicID string, attr observatory.Attribute, dev device) error {
	desc := descriptor{
		Name:              fmt.Sprintf("%s %s", dev.Name, attr.Label),
		UniqueID:          fmt.Sprintf("%s_%s_%s", p.node, topicID, attr.Name),
		StateTopic:        fmt.Sprintf("%s/%s/%s/state", p.node, topicID, attr.Name),
		AvailabilityTopic: fmt.Sprintf("%s/%s/lwt", p.node, topicID),
		UnitOfMeasurement: attr.Unit,
		DeviceClass:       attr.DeviceClass,
		StateClass:        attr.StateClass,
		Icon:              attr.Icon,
		Device:            dev,
	}
	if attr.Type == observatory.EntityBinarySensor || attr.Type == observatory.EntitySwitch {
		desc.PayloadOn = "on"
		desc.PayloadOff = "off"
	}
	return p.publish(ctx, attr.Type, fmt.Sprintf("%s_%s", topicID, attr.Name), desc)
}

func (p *Publisher) publishCamera(ctx context.Context, topicID string, comp *observatory.Component, dev device) error {
	desc := descriptor{
		Name:              fmt.Sprintf("%s Image", comp.FriendlyName),
		UniqueID:          fmt.Sprintf("%s_%s_image", p.node, topicID),
		Topic:             fmt.Sprintf("%s/%s/image", p.node, topicID),
		AvailabilityTopic: fmt.Sprintf("%s/%s/lwt", p.node, topicID),
		Device:            dev,
	}
	return p.publish(ctx, observatory.EntityCamera, fmt.Sprintf("%s_image", topicID), desc)
}

func (p *Publisher) publish(ctx context.Context, entityType observatory.EntityType, objectID string, desc descriptor) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return errors.WrapInvalid(err, "discovery", "publish", "encoding descriptor")
	}
	topic := fmt.Sprintf("%s/%s/%s/%s/config", p.prefix, entityType, p.node, objectID)
	if err := p.bus.Publish(ctx, topic, p.qos, true, payload); err != nil {
		return errors.Wrap(err, "discovery", "publish", "publishing descriptor")
	}
	return nil
}

// Forget drops the announce record for a component so the next Announce
// republishes regardless of generation
func (p *Publisher) Forget(componentTopicID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.announced, componentTopicID)
}
