package mqtt

import (
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/jkaflik/shuttercal/internal/wizard"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Connect connects the client to the broker. Refused credentials are reported as wizard.ErrInvalidAuth,
// every other failure as wizard.ErrCannotConnect.
func Connect(client paho.Client, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return errors.Wrapf(wizard.ErrCannotConnect, "MQTT connect timeout after %s", timeout)
	}

	err := token.Error()
	switch {
	case err == nil:
		logrus.Info("MQTT broker connected")
		return nil
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword), errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return errors.Wrapf(wizard.ErrInvalidAuth, "MQTT connect: %s", err)
	}

	return errors.Wrapf(wizard.ErrCannotConnect, "MQTT connect: %s", err)
}
