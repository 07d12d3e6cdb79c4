package main

import (
	"context"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	paho "github.com/eclipse/paho.mqtt.golang"
	_ "github.com/joho/godotenv/autoload"
	"github.com/jkaflik/shuttercal/internal/calibration"
	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/jkaflik/shuttercal/internal/shutter/driver/relay"
	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type cfgWiredRelaySetPin struct {
	Kind string `yaml:"kind"`

	Pin uint8 `yaml:"pin"`

	Mcp23017 int `yaml:"mcp23017"`
}

type cfgRelay struct {
	Kind string `yaml:"kind"`

	Pin          cfgWiredRelaySetPin `yaml:"pin"`
	NormalClosed bool                `yaml:"normal_closed"`
}

type cfgShutterMQTTBridge struct {
	Metadata map[string]interface{} `yaml:"metadata"`
}

type cfgShutterDriverRelays struct {
	Up   cfgRelay `yaml:"up"`
	Down cfgRelay `yaml:"down"`

	FullOpenPosition  int `yaml:"full_open_position" default:"100"`
	FullClosePosition int `yaml:"full_close_position" default:"0"`
}

type cfgShutterDriver struct {
	Relays cfgShutterDriverRelays `yaml:"relays"`
}

type cfgShutter struct {
	Name         string `yaml:"name"`
	FriendlyName string `yaml:"friendly_name"`
	Kind         string `yaml:"kind"`

	MQTTBridge cfgShutterMQTTBridge `yaml:"mqtt_bridge"`

	Driver cfgShutterDriver `yaml:"driver"`
}

type cfgDrivers struct {
	Relay struct {
		Pool     int `yaml:"pool" default:"0"`
		Mcp23017 map[int]struct {
			Bus          uint8 `yaml:"bus" default:"1"`
			DeviceNumber uint8 `yaml:"device_number" default:"0"`
		} `yaml:"mcp23017"`
	} `yaml:"relay"`
}

type cfgMQTT struct {
	ClientID       string        `yaml:"client_id" default:"shuttercal" env:"CLIENT_ID"`
	Broker         string        `yaml:"broker" default:"127.0.0.1:1883" env:"BROKER"`
	Username       string        `yaml:"username" env:"USERNAME"`
	Password       string        `yaml:"password" env:"PASSWORD"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"5s" env:"CONNECT_TIMEOUT"`
}

type cfgHASS struct {
	Enabled     bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	TopicPrefix string `yaml:"topic_prefix" default:"homeassistant" env:"TOPIC_PREFIX"`
}

type cfgCalibration struct {
	StorePath        string        `yaml:"store_path" default:"calibrations.yaml" env:"STORE_PATH"`
	TickInterval     time.Duration `yaml:"tick_interval" default:"1s" env:"TICK_INTERVAL"`
	DefaultOpenTime  int           `yaml:"default_open_time" default:"30" env:"DEFAULT_OPEN_TIME"`
	DefaultCloseTime int           `yaml:"default_close_time" default:"25" env:"DEFAULT_CLOSE_TIME"`
	RequestTopic     string        `yaml:"request_topic" default:"shutters2mqtt/calibration/set" env:"REQUEST_TOPIC"`
	FlowTopic        string        `yaml:"flow_topic" default:"shutters2mqtt/calibration/flow" env:"FLOW_TOPIC"`
	FlowIdleTimeout  time.Duration `yaml:"flow_idle_timeout" default:"10m" env:"FLOW_IDLE_TIMEOUT"`
}

var Cfg struct {
	LogLevel string `yaml:"log_level" default:"info" env:"LOG_LEVEL"`

	MQTT        cfgMQTT        `yaml:"mqtt" env:"MQTT"`
	HASS        cfgHASS        `yaml:"hass" env:"HASS"`
	Calibration cfgCalibration `yaml:"calibration" env:"CALIBRATION"`

	Shutters []cfgShutter `yaml:"shutters"`

	Drivers cfgDrivers `yaml:"drivers"`
}

var configLoader = aconfig.LoaderFor(&Cfg, aconfig.Config{
	EnvPrefix: "S2M",
	SkipFlags: true,
	SkipFiles: true,
})

var relaysPool chan struct{}

// loadConfig applies defaults and S2M_ environment variables, then the YAML file on top.
// A missing file leaves defaults in place.
func loadConfig(filename string) error {
	if err := configLoader.Load(); err != nil {
		return errors.Wrap(err, "config defaults")
	}

	f, err := os.Open(filename)
	if os.IsNotExist(err) {
		logrus.Warnf("config: %s not found, using defaults", filename)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "config: %s", filename)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&Cfg); err != nil {
		return errors.Wrapf(err, "config: %s", filename)
	}

	if Cfg.Drivers.Relay.Pool > 0 {
		relaysPool = make(chan struct{}, Cfg.Drivers.Relay.Pool)
	}

	return nil
}

func pahoOptsFromConfig() *paho.ClientOptions {
	return paho.NewClientOptions().
		SetClientID(Cfg.MQTT.ClientID).
		AddBroker(Cfg.MQTT.Broker).
		SetUsername(Cfg.MQTT.Username).
		SetPassword(Cfg.MQTT.Password).
		SetConnectTimeout(Cfg.MQTT.ConnectTimeout).
		SetPingTimeout(time.Second).
		SetWriteTimeout(time.Second).
		SetAutoReconnect(true)
}

func storeFromConfig() (*calibration.Store, error) {
	return calibration.NewStore(
		calibration.NewFile(Cfg.Calibration.StorePath),
		calibration.WithDefaults(Cfg.Calibration.DefaultOpenTime, Cfg.Calibration.DefaultCloseTime),
	)
}

func refFromConfig(cfg cfgShutter) shutter.Ref {
	return shutter.Ref{ID: cfg.Name, Name: cfg.FriendlyName}
}

func shuttersFromConfig(ctx context.Context, travel shutter.TravelTimes) ([]shutter.Shutter, error) {
	shutters := make([]shutter.Shutter, 0, len(Cfg.Shutters))
	for _, cfg := range Cfg.Shutters {
		s, err := shutterFromConfig(ctx, cfg, travel)
		if err != nil {
			return nil, err
		}
		shutters = append(shutters, s)
	}

	return shutters, nil
}

func shutterFromConfig(ctx context.Context, cfg cfgShutter, travel shutter.TravelTimes) (shutter.Shutter, error) {
	if cfg.Name == "" {
		return nil, errors.New("shutter name is required")
	}
	if cfg.Kind != "relays" {
		return nil, errors.Errorf("%s: %s is not supported shutter kind", cfg.Name, cfg.Kind)
	}

	up, err := relayFromConfig(ctx, cfg.Name+"/up", cfg.Driver.Relays.Up)
	if err != nil {
		return nil, err
	}
	down, err := relayFromConfig(ctx, cfg.Name+"/down", cfg.Driver.Relays.Down)
	if err != nil {
		return nil, err
	}
	pairedUp, pairedDown := relay.NewRelayPair(up, down)

	return relay.NewRelaysShutter(
		refFromConfig(cfg),
		pairedUp,
		pairedDown,
		cfg.Driver.Relays.FullOpenPosition,
		cfg.Driver.Relays.FullClosePosition,
		travel,
	), nil
}

func relayFromConfig(ctx context.Context, name string, cfg cfgRelay) (relay.Relay, error) {
	switch cfg.Kind {
	case "wired":
		pin, err := wiredRelaySetPinFromConfig(ctx, cfg.Pin)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", name)
		}

		return wrapRelayWithPoolProxy(&relay.Wired{
			Name:         name,
			Pin:          pin,
			NormalClosed: cfg.NormalClosed,
		}), nil
	case "dumb":
		return wrapRelayWithPoolProxy(&relay.Dumb{Name: name}), nil
	}

	return nil, errors.Errorf("%s: %s is not supported relay kind", name, cfg.Kind)
}

func wrapRelayWithPoolProxy(r relay.Relay) relay.Relay {
	if relaysPool == nil {
		return r
	}

	return relay.NewPoolProxy(r, relaysPool)
}

func wiredRelaySetPinFromConfig(ctx context.Context, cfg cfgWiredRelaySetPin) (relay.SetPin, error) {
	if cfg.Kind != "mcp23017" {
		return nil, errors.Errorf("%s is not supported wired relay set pin kind", cfg.Kind)
	}

	device, err := mcp23017DeviceFromConfigByID(ctx, cfg.Mcp23017)
	if err != nil {
		return nil, err
	}

	return relay.NewMcp23017Pin(device, cfg.Pin)
}

var mcpDevices = map[int]*mcp23017.Device{}

func mcp23017DeviceFromConfigByID(ctx context.Context, id int) (*mcp23017.Device, error) {
	cfg, found := Cfg.Drivers.Relay.Mcp23017[id]
	if !found {
		return nil, errors.Errorf("%d is not valid defined drivers.relay.mcp23017", id)
	}

	if dev := mcpDevices[id]; dev != nil {
		return dev, nil
	}

	dev, err := mcp23017.Open(cfg.Bus, cfg.DeviceNumber)
	if err != nil {
		return nil, errors.Wrapf(err, "mcp23017: open %d", id)
	}
	go func() {
		<-ctx.Done()
		if err := dev.Close(); err != nil {
			logrus.Errorf("mcp23017: close failed %s", err)
			return
		}

		logrus.Infof("mcp23017: close")
	}()
	if err := dev.Reset(); err != nil {
		return nil, errors.Wrapf(err, "mcp23017: reset %d", id)
	}

	mcpDevices[id] = dev

	return dev, nil
}
