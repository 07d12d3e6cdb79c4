package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/shuttercal/internal/calibration"
	"github.com/jkaflik/shuttercal/internal/shutter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	mqttOpenCmd  = "open"
	mqttCloseCmd = "close"
	mqttStopCmd  = "stop"
)

// Summaries provides the calibration summary published as cover attributes.
type Summaries interface {
	Summary(coverID string) calibration.Summary
}

type Bridge struct {
	mqtt      paho.Client
	shutter   shutter.Shutter
	summaries Summaries

	StateTopic      string
	PositionTopic   string
	MetadataTopic   string
	AttributesTopic string

	CommandTopic        string
	PositionChangeTopic string
}

func NewBridge(client paho.Client, s shutter.Shutter, summaries Summaries) (*Bridge, error) {
	id := s.Ref().ID
	bridge := &Bridge{mqtt: client, shutter: s, summaries: summaries}
	bridge.StateTopic = fmt.Sprintf("shutters2mqtt/%s/state", id)
	bridge.PositionTopic = fmt.Sprintf("shutters2mqtt/%s/position", id)
	bridge.MetadataTopic = fmt.Sprintf("shutters2mqtt/%s/metadata", id)
	bridge.AttributesTopic = fmt.Sprintf("shutters2mqtt/%s/attributes", id)
	bridge.CommandTopic = fmt.Sprintf("shutters2mqtt/%s/set", id)
	bridge.PositionChangeTopic = fmt.Sprintf("shutters2mqtt/%s/position/set", id)

	if err := bridge.restorePosition(); err != nil {
		return nil, err
	}

	s.OnUpdate(bridge.onShutterUpdateHandler())

	return bridge, nil
}

func (b *Bridge) name() string {
	return b.shutter.Ref().ID
}

func (b *Bridge) publishJSON(topic string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "%s: %s encode", b.name(), topic)
	}

	if token := b.mqtt.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT %s publish failed", b.name(), topic)
	}

	return nil
}

func (b *Bridge) SetMetadata(value interface{}) error {
	return b.publishJSON(b.MetadataTopic, value)
}

// PublishAttributes publishes the calibration summary of the cover.
func (b *Bridge) PublishAttributes() error {
	if b.summaries == nil {
		return nil
	}

	summary := b.summaries.Summary(b.name())
	if summary.CalibrationNeeded {
		logrus.Debugf("%s: calibration needed", b.name())
	}

	return b.publishJSON(b.AttributesTopic, summary)
}

// OnCalibrationChange is a calibration.ChangeHandler refreshing attributes of this cover.
func (b *Bridge) OnCalibrationChange(coverID string) {
	if coverID != b.name() {
		return
	}

	if err := b.PublishAttributes(); err != nil {
		logrus.Error(err)
	}
}

func (b *Bridge) Subscribe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if token := b.mqtt.Unsubscribe(b.PositionChangeTopic, b.CommandTopic); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT topics unsubscribe failed: %s", b.name(), token.Error())
		}
	}()

	if token := b.mqtt.Subscribe(b.CommandTopic, 0, b.onCommandHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT command topic subscription failed", b.name())
	}
	logrus.Infof("%s: MQTT command topic subscribed", b.name())
	if token := b.mqtt.Subscribe(b.PositionChangeTopic, 0, b.onPositionChangeHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT position change topic subscription failed", b.name())
	}
	logrus.Infof("%s: MQTT position change topic subscribed", b.name())

	return nil
}

func (b *Bridge) onShutterUpdateHandler() shutter.ShutterUpdateHandler {
	return func(state string, position int) {
		if token := b.mqtt.Publish(b.StateTopic, 0, true, state); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT state publish failed: %s", b.name(), token.Error())
		}
		if token := b.mqtt.Publish(b.PositionTopic, 0, true, strconv.Itoa(position)); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT position publish failed: %s", b.name(), token.Error())
		}
	}
}

func (b *Bridge) onCommandHandler(ctx context.Context) paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		var err error
		switch cmd := string(msg.Payload()); cmd {
		case mqttOpenCmd:
			err = b.shutter.Open(ctx)
		case mqttCloseCmd:
			err = b.shutter.Close(ctx)
		case mqttStopCmd:
			err = b.shutter.Stop(ctx)
		default:
			logrus.Errorf("%s: MQTT unsupported %s command received", b.name(), cmd)
		}

		if err != nil {
			logrus.Errorf("%s: command failed: %s", b.name(), err)
		}
	}
}

func (b *Bridge) onPositionChangeHandler(ctx context.Context) paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		pos, err := strconv.Atoi(string(msg.Payload()))
		if err != nil {
			logrus.Errorf("%s: invalid position payload: %s", b.name(), err)
			return
		}
		if err := b.shutter.SetPosition(ctx, pos); err != nil {
			logrus.Error(err)
		}
	}
}

func (b *Bridge) restorePosition() error {
	s, ok := b.shutter.(shutter.StatelessShutter)
	if !ok {
		logrus.Warnf("%s: MQTT position restore: shutter is not stateless", b.name())
		return nil
	}

	restoreHandler := func(c paho.Client, msg paho.Message) {
		pos, err := strconv.Atoi(string(msg.Payload()))
		if err != nil {
			logrus.Error(err)
			return
		}
		if err := s.ResetPosition(pos); err != nil {
			logrus.Errorf("%s: MQTT position restore failed: %s", b.name(), err)
			return
		}

		logrus.Infof("%s: MQTT position restored to %d", b.name(), pos)

		// unsubscribing from within a handler blocks the client router
		go func() {
			if token := b.mqtt.Unsubscribe(b.PositionTopic); token.Wait() && token.Error() != nil {
				logrus.Errorf("%s: MQTT position restore topic unsubscribe failed: %s", b.name(), token.Error())
				return
			}

			logrus.Debugf("%s: MQTT position restore topic unsubscribed", b.name())
		}()
	}

	if token := b.mqtt.Subscribe(b.PositionTopic, 0, restoreHandler); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT position restore topic subscription failed", b.name())
	}

	return nil
}
