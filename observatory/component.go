// Package observatory defines the device model for the bridge: component
// kinds, their fixed attribute schemas, capability sets and the telemetry
// snapshot value produced once per poll cycle.
package observatory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind identifies the type of a configured component. The kind determines
// the fixed attribute schema and the set of permissible commands.
type Kind string

// Supported component kinds
const (
	KindTelescope     Kind = "telescope"
	KindCamera        Kind = "camera"
	KindCameraFile    Kind = "camera_file"
	KindFocuser       Kind = "focuser"
	KindFilterWheel   Kind = "filterwheel"
	KindDome          Kind = "dome"
	KindRotator       Kind = "rotator"
	KindSwitch        Kind = "switch"
	KindSafetyMonitor Kind = "safetymonitor"
)

// Valid reports whether k names a supported component kind
func (k Kind) Valid() bool {
	_, ok := schemas[k]
	return ok
}

// AlpacaType returns the device type segment used in Alpaca request paths.
// camera_file components are fed from disk and have no Alpaca endpoint.
func (k Kind) AlpacaType() string {
	if k == KindCameraFile {
		return ""
	}
	return string(k)
}

// Location describes the observatory site
type Location struct {
	Latitude  float64
	Longitude float64
	Elevation float64
}

// Component is one configured physical or logical device. Immutable after
// construction except for the capability set, which may be narrowed at
// runtime when the device reports an attribute as unsupported.
type Component struct {
	ID             string
	Kind           Kind
	DeviceNumber   int
	FriendlyName   string
	UpdateInterval time.Duration
	// MonitorPath is the watched directory root for camera_file components
	MonitorPath string

	mu   sync.RWMutex
	caps map[string]struct{}
}

// NewComponent constructs a Component with the full capability set for its kind
func NewComponent(id string, kind Kind, deviceNumber int, friendlyName string, interval time.Duration) (*Component, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown component kind %q", kind)
	}
	if id == "" {
		return nil, fmt.Errorf("component id must not be empty")
	}
	caps := make(map[string]struct{})
	for _, attr := range Schema(kind) {
		caps[attr.Name] = struct{}{}
	}
	return &Component{
		ID:             id,
		Kind:           kind,
		DeviceNumber:   deviceNumber,
		FriendlyName:   friendlyName,
		UpdateInterval: interval,
		caps:           caps,
	}, nil
}

// TopicID returns the component id in bus-topic form (dots become underscores)
func (c *Component) TopicID() string {
	return strings.ReplaceAll(c.ID, ".", "_")
}

// Supports reports whether the attribute is in the current capability set
func (c *Component) Supports(attribute string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.caps[attribute]
	return ok
}

// Capabilities returns the current capability set in sorted order
func (c *Component) Capabilities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.caps))
	for name := range c.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Narrow removes an attribute from the capability set after the device
// confirmed it as unsupported. The negative result is cached so the poller
// never issues the failing call again. Returns true if the set changed.
func (c *Component) Narrow(attribute string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.caps[attribute]; !ok {
		return false
	}
	delete(c.caps, attribute)
	return true
}

// Extend adds a dynamically discovered attribute (switch ports) to the
// capability set. Returns true if the set changed.
func (c *Component) Extend(attribute string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.caps[attribute]; ok {
		return false
	}
	c.caps[attribute] = struct{}{}
	return true
}

// Observatory is the immutable root of the configured device tree
type Observatory struct {
	Name       string
	Location   Location
	Components []*Component
}

// ComponentByID looks up a component by its configured id
func (o *Observatory) ComponentByID(id string) (*Component, bool) {
	for _, c := range o.Components {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// NodeID returns the observatory name in bus-topic form
func (o *Observatory) NodeID() string {
	return strings.ReplaceAll(strings.ToLower(o.Name), " ", "_")
}

// Snapshot is one poll cycle's state for one component. Immutable;
// superseded, never mutated, by the next cycle's snapshot. Attribute keys
// are always a subset of the component's capability set, and when the
// component is disconnected the attribute map is empty so stale values can
// never appear current.
type Snapshot struct {
	ComponentID string
	Timestamp   time.Time
	Attributes  map[string]string
	Connected   bool
}

// NewSnapshot creates a connected snapshot with the given attribute values
func NewSnapshot(componentID string, attributes map[string]string) Snapshot {
	return Snapshot{
		ComponentID: componentID,
		Timestamp:   time.Now().UTC(),
		Attributes:  attributes,
		Connected:   true,
	}
}

// NewDisconnectedSnapshot creates a snapshot marking the component offline
func NewDisconnectedSnapshot(componentID string) Snapshot {
	return Snapshot{
		ComponentID: componentID,
		Timestamp:   time.Now().UTC(),
		Attributes:  map[string]string{},
		Connected:   false,
	}
}
