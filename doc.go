// Package astrolive bridges an observatory's device API onto an MQTT bus
// with Home-Assistant-style autodiscovery.
//
// # Overview
//
// AstroLive polls the components of an ASCOM Alpaca observatory service
// (telescope, camera, focuser, filter wheel, dome, rotator, switch, safety
// monitor) and publishes their state as individual MQTT topics, each
// announced through a retained autodiscovery descriptor so any consumer
// that understands the Home Assistant discovery convention picks the
// entities up without configuration. Camera exposures are rendered into
// stretched JPEG previews and published as camera entities; a directory
// watcher does the same for image files dropped by capture software.
// A single inbound command topic accepts fire-and-forget operator commands
// (slew, park, focus, filter selection, switch ports).
//
//	┌─────────────────────────────────────┐
//	│             Bridge                  │  Lifecycle, composition
//	│  (Initialize, Start, Stop)          │  (engine)
//	└─────────────────────────────────────┘
//	           ↓ runs one per component
//	┌─────────────────────────────────────┐
//	│            Pollers                  │  Device reads, snapshots,
//	│  (device cycle / file cycle)        │  frame pipeline (poller)
//	└─────────────────────────────────────┘
//	           ↓ publish via
//	┌─────────────────────────────────────┐
//	│           MQTT Bus                  │  Retained discovery, states,
//	│  (QoS, last-will, reconnect)        │  availability, images, commands
//	└─────────────────────────────────────┘
//
// # Packages
//
// Domain:
//   - observatory: component model, attribute schemas, capability sets
//   - alpaca: REST client for the device API
//   - poller: per-component polling cycles and value formatting
//   - imaging: FITS reading, debayer, autostretch, preview rendering
//   - watcher: newest-stable-file detection for camera_file components
//   - command: inbound command validation and dispatch
//   - discovery: retained autodiscovery descriptors
//
// Infrastructure:
//   - engine: the composed bridge and its lifecycle
//   - busclient: MQTT connection management
//   - config: YAML configuration loading and validation
//   - metric: Prometheus instrumentation and exposition
//   - health: shared reconnect supervisor with bounded backoff
//   - errors: classified error handling
//   - pkg/retry: retry policies
//
// # Behavior Under Failure
//
// Device connectivity loss degrades, never crashes: the affected
// components publish availability OFF and empty snapshots while a shared
// supervisor paces reconnect probes with bounded exponential backoff.
// Attribute-level rejections narrow the component's capability set so an
// unsupported reading is asked for only once. Bus loss is handled by the
// client's auto-reconnect; because a broker restart may drop retained
// descriptors, every reconnect bumps a session generation that forces
// discovery re-announcement.
//
// # Binary
//
// Build and run the bridge:
//
//	go build -o bin/astrolive ./cmd/astrolive
//	./bin/astrolive --config configs/config.example.yaml
//
//	# validate configuration without starting
//	./bin/astrolive --config config.yaml --validate
//
// Configuration is YAML (see configs/config.example.yaml); the broker,
// the device API base URL and the component list are the only required
// sections. Metrics are exposed on /metrics.
package astrolive
