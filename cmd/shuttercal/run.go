package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/shuttercal/internal/calibration"
	"github.com/jkaflik/shuttercal/internal/mqtt"
	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/jkaflik/shuttercal/internal/wizard"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const cleanupTime = time.Second

func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the MQTT bridge and the calibration flow server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx)
		},
	}
}

type daemon struct {
	mu      sync.Mutex
	ready   bool
	bridges []*mqtt.Bridge
	flows   *mqtt.FlowServer
}

// subscribe (re)publishes discovery and attributes and subscribes all topics. It runs on every broker connect.
func (d *daemon) subscribe(ctx context.Context, m paho.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ready {
		return
	}

	for _, bridge := range d.bridges {
		if Cfg.HASS.Enabled {
			entity := mqtt.NewHACoverFromMQTTBridge(bridge)
			if err := mqtt.PublishHAAutoDiscovery(m, Cfg.HASS.TopicPrefix, entity); err != nil {
				logrus.Error(err)
			}
		}

		if err := bridge.PublishAttributes(); err != nil {
			logrus.Error(err)
		}

		if err := bridge.Subscribe(ctx); err != nil {
			logrus.Error(err)
		}
	}

	if err := d.flows.Subscribe(); err != nil {
		logrus.Error(err)
	}
}

func run(ctx context.Context) error {
	store, err := storeFromConfig()
	if err != nil {
		return err
	}

	d := &daemon{}
	opts := pahoOptsFromConfig()
	opts.OnConnect = func(m paho.Client) {
		logrus.Info("MQTT broker connected")
		d.subscribe(ctx, m)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logrus.Errorf("MQTT broker connection lost: %s", err.Error())
	}

	m := paho.NewClient(opts)
	if err := mqtt.Connect(m, Cfg.MQTT.ConnectTimeout); err != nil {
		return errors.Wrapf(err, "broker %s (%s)", Cfg.MQTT.Broker, wizard.ReasonOf(err))
	}
	defer m.Disconnect(uint(cleanupTime / time.Millisecond))

	shutters, err := shuttersFromConfig(ctx, store)
	if err != nil {
		return err
	}
	registry := shutter.NewRegistry(shutters...)

	bridges, err := bridgesFromConfig(m, registry, store)
	if err != nil {
		return err
	}

	flows := mqtt.NewFlowServer(m)
	flows.RequestTopic = Cfg.Calibration.RequestTopic
	flows.FlowTopic = Cfg.Calibration.FlowTopic
	flows.IdleTimeout = Cfg.Calibration.FlowIdleTimeout

	w := wizard.New(registry, registry, store,
		wizard.WithTickInterval(Cfg.Calibration.TickInterval),
		wizard.WithTickHandler(flows.Publish),
	)
	go flows.Run(ctx, w)

	d.mu.Lock()
	d.bridges, d.flows, d.ready = bridges, flows, true
	d.mu.Unlock()
	d.subscribe(ctx, m)

	logrus.Infof("serving %d shutters, calibration flows on %s", len(shutters), flows.RequestTopic)

	<-ctx.Done()

	for _, id := range w.Flows() {
		if err := w.Abort(context.Background(), id); err != nil {
			logrus.Errorf("calibration flow %s abort: %s", id, err)
		}
	}
	for _, s := range registry.Shutters() {
		if err := s.Stop(context.Background()); err != nil {
			logrus.Errorf("%s: stop: %s", s.Name(), err)
		}
	}

	logrus.Infof("cleanups for %s...", cleanupTime.String())
	time.Sleep(cleanupTime)

	return nil
}

func bridgesFromConfig(m paho.Client, registry *shutter.Registry, store *calibration.Store) ([]*mqtt.Bridge, error) {
	bridges := make([]*mqtt.Bridge, 0, len(Cfg.Shutters))
	for _, cfg := range Cfg.Shutters {
		s, ok := registry.Get(cfg.Name)
		if !ok {
			return nil, errors.Wrapf(shutter.ErrCoverNotFound, "%s", cfg.Name)
		}

		bridge, err := mqtt.NewBridge(m, s, store)
		if err != nil {
			return nil, err
		}
		if cfg.MQTTBridge.Metadata != nil {
			if err := bridge.SetMetadata(cfg.MQTTBridge.Metadata); err != nil {
				return nil, err
			}
		}
		store.OnChange(bridge.OnCalibrationChange)

		bridges = append(bridges, bridge)
	}

	return bridges, nil
}
