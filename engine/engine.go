// Package engine wires the configured observatory into a running bridge:
// one polling task per component, the command subscription, the bus
// connection and the metrics endpoint, all sharing one lifecycle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mawinkler/astrolive/alpaca"
	"github.com/mawinkler/astrolive/busclient"
	"github.com/mawinkler/astrolive/command"
	"github.com/mawinkler/astrolive/config"
	"github.com/mawinkler/astrolive/discovery"
	"github.com/mawinkler/astrolive/errors"
	"github.com/mawinkler/astrolive/health"
	"github.com/mawinkler/astrolive/imaging"
	"github.com/mawinkler/astrolive/metric"
	"github.com/mawinkler/astrolive/observatory"
	"github.com/mawinkler/astrolive/pkg/retry"
	"github.com/mawinkler/astrolive/poller"
	"github.com/mawinkler/astrolive/watcher"
)

// Device link backoff bounds shared by every poller
const (
	deviceBackoffBase = 2 * time.Second
	deviceBackoffCap  = 5 * time.Minute
)

// Bridge is the composed application. Lifecycle: New, Initialize, Start,
// Stop.
type Bridge struct {
	cfg    *config.Config
	logger *slog.Logger

	registry    *metric.Registry
	observatory *observatory.Observatory
	bus         *busclient.Client
	devices     map[string]alpaca.API
	pollers     []*poller.Poller
	router      *command.Router
	metricsSrv  *metric.Server

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// New creates a bridge from loaded configuration
func New(cfg *config.Config, logger *slog.Logger) (*Bridge, error) {
	if cfg == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "engine", "New", "configuration")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:    cfg,
		logger: logger.With("component", "engine"),
	}, nil
}

// Initialize builds the observatory, device handles, pollers and the
// command router. No connection is attempted here.
func (b *Bridge) Initialize() error {
	obs, err := b.cfg.BuildObservatory()
	if err != nil {
		return err
	}
	b.observatory = obs
	b.registry = metric.NewRegistry()

	bus, err := busclient.NewClient(busclient.Options{
		Broker:      b.cfg.MQTT.Broker,
		ClientID:    b.cfg.MQTT.ClientID,
		Username:    b.cfg.MQTT.Username,
		Password:    b.cfg.MQTT.Password,
		TLSEnabled:  b.cfg.MQTT.TLS.Enabled,
		TLSCAFile:   b.cfg.MQTT.TLS.CAFile,
		TLSInsecure: b.cfg.MQTT.TLS.Insecure,
		Timeout:     b.cfg.MQTT.Timeout.Std(),
		Logger:      b.logger,
	})
	if err != nil {
		return err
	}
	b.bus = bus

	metrics := b.registry.Metrics
	bus.OnReconnect(func() {
		metrics.RecordBusStatus(true)
		metrics.RecordBusReconnect()
	})

	alpacaClient := alpaca.NewClient(
		b.cfg.Alpaca.BaseURL, b.cfg.Alpaca.ClientID, b.cfg.Alpaca.Timeout.Std(), b.logger)

	announcer := discovery.NewPublisher(
		bus, b.cfg.MQTT.DiscoveryPrefix, obs.NodeID(), b.cfg.MQTT.QoSLevel(), b.logger)
	store := poller.NewStore()
	pipeline := imaging.NewPipeline(b.logger)
	deviceHealth := health.NewSupervisor(
		"device", deviceBackoffBase, deviceBackoffCap, health.WithLogger(b.logger))

	b.devices = make(map[string]alpaca.API)
	for _, comp := range obs.Components {
		deps := poller.Deps{
			Component:   comp,
			Observatory: obs,
			Bus:         bus,
			Discovery:   announcer,
			Supervisor:  deviceHealth,
			Store:       store,
			Pipeline:    pipeline,
			Metrics:     metrics,
			Logger:      b.logger,
			QoS:         b.cfg.MQTT.QoSLevel(),
			Session:     bus.Generation,
		}

		if comp.Kind == observatory.KindCameraFile {
			deps.Watch = watcher.New(comp.MonitorPath, b.logger)
		} else {
			device := alpacaClient.Device(comp.Kind.AlpacaType(), comp.DeviceNumber)
			b.devices[comp.ID] = device
			deps.Device = device
		}

		p, err := poller.New(deps)
		if err != nil {
			return err
		}
		b.pollers = append(b.pollers, p)
	}

	b.router = command.NewRouter(obs, b.devices, metrics, b.logger)
	b.metricsSrv = metric.NewServer(b.cfg.Metrics.ListenAddress, b.registry, b.logger)

	b.logger.Info("Bridge initialized",
		"observatory", obs.Name, "components", len(obs.Components))
	return nil
}

// Start connects the bus, starts the metrics endpoint and launches one
// polling task per component plus the command subscription. It returns
// once everything is running.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "engine", "Start", "lifecycle check")
	}
	if b.bus == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "engine", "Start", "initialize first")
	}

	// The broker may come up after us; retry the first connect before
	// giving up on startup.
	err := retry.Do(ctx, retry.Startup(), func() error {
		return b.bus.Connect(ctx)
	})
	if err != nil {
		return errors.WrapFatal(
			fmt.Errorf("bus unreachable at startup: %w", err),
			"engine", "Start", "connecting bus")
	}
	b.registry.Metrics.RecordBusStatus(true)

	if err := b.metricsSrv.Start(); err != nil {
		return err
	}
	if err := b.router.Start(b.bus, b.cfg.MQTT.QoSLevel()); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	for _, p := range b.pollers {
		b.wg.Add(1)
		go func(p *poller.Poller) {
			defer b.wg.Done()
			p.Run(runCtx)
		}(p)
	}

	b.running = true
	b.logger.Info("Bridge started", "pollers", len(b.pollers))
	return nil
}

// Stop cancels every task and waits for them within the timeout, then
// releases the bus and the metrics endpoint
func (b *Bridge) Stop(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil
	}
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		b.logger.Warn("Pollers did not stop within grace period", "timeout", timeout)
	}

	b.bus.Close()
	if err := b.metricsSrv.Stop(timeout); err != nil {
		b.logger.Warn("Metrics server stop failed", "error", err)
	}

	b.running = false
	b.logger.Info("Bridge stopped")
	return nil
}
