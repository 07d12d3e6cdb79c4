package mqtt

import (
	"context"
	"encoding/json"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/shuttercal/internal/wizard"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultFlowRequestTopic = "shutters2mqtt/calibration/set"
	DefaultFlowTopic        = "shutters2mqtt/calibration/flow"
	DefaultFlowIdleTimeout  = 10 * time.Minute

	flowQueueSize      = 16
	minIdleCheckPeriod = 10 * time.Millisecond
)

// Flows is the calibration wizard as seen by the flow server.
type Flows interface {
	Start(ctx context.Context) *wizard.Result
	Submit(ctx context.Context, flowID string, in wizard.Input) (*wizard.Result, error)
	Abort(ctx context.Context, flowID string) error
	ExpireIdle(ctx context.Context, maxIdle time.Duration) []*wizard.Result
}

// FlowRequest starts a flow when FlowID is empty, otherwise submits Input to it or aborts it.
type FlowRequest struct {
	RequestID string       `json:"request_id,omitempty"`
	FlowID    string       `json:"flow_id,omitempty"`
	Input     wizard.Input `json:"input,omitempty"`
	Abort     bool         `json:"abort,omitempty"`
}

type flowMessage struct {
	RequestID string `json:"request_id,omitempty"`
	*wizard.Result
}

// FlowServer exposes calibration flows over MQTT. Requests are handled one at a time in arrival order.
type FlowServer struct {
	mqtt paho.Client

	RequestTopic string
	FlowTopic    string
	// IdleTimeout aborts flows without input for that long. Zero disables it.
	IdleTimeout time.Duration

	requests chan FlowRequest
}

func NewFlowServer(client paho.Client) *FlowServer {
	return &FlowServer{
		mqtt:         client,
		RequestTopic: DefaultFlowRequestTopic,
		FlowTopic:    DefaultFlowTopic,
		IdleTimeout:  DefaultFlowIdleTimeout,
		requests:     make(chan FlowRequest, flowQueueSize),
	}
}

// Publish sends a flow result. It is also used as the wizard tick handler.
func (f *FlowServer) Publish(r *wizard.Result) {
	f.publish(flowMessage{Result: r})
}

func (f *FlowServer) publish(msg flowMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logrus.Errorf("calibration: flow result encode failed: %s", err)
		return
	}

	if token := f.mqtt.Publish(f.FlowTopic, 0, false, payload); token.Wait() && token.Error() != nil {
		logrus.Errorf("calibration: MQTT flow publish failed: %s", token.Error())
	}
}

// Serve subscribes to flow requests and handles them until ctx is done.
func (f *FlowServer) Serve(ctx context.Context, flows Flows) error {
	go f.Run(ctx, flows)

	return f.Subscribe()
}

// Subscribe (re)subscribes the request topic. Call it again after a broker reconnect.
func (f *FlowServer) Subscribe() error {
	if token := f.mqtt.Subscribe(f.RequestTopic, 0, f.onRequestHandler()); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "calibration: MQTT flow topic subscription failed")
	}
	logrus.Infof("calibration: MQTT flow topic %s subscribed", f.RequestTopic)

	return nil
}

func (f *FlowServer) onRequestHandler() paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		req, err := DecodeFlowRequest(msg.Payload())
		if err != nil {
			logrus.Errorf("calibration: %s", err)
			return
		}

		select {
		case f.requests <- req:
		default:
			logrus.Warnf("calibration: flow queue full, request for %q dropped", req.FlowID)
		}
	}
}

func DecodeFlowRequest(payload []byte) (FlowRequest, error) {
	var req FlowRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return FlowRequest{}, errors.Wrap(err, "invalid flow request")
	}
	if req.Abort && req.FlowID == "" {
		return FlowRequest{}, errors.New("invalid flow request: abort without flow_id")
	}
	if req.Input == nil {
		req.Input = wizard.Input{}
	}

	return req, nil
}

// Run handles queued requests and expires idle flows until ctx is done, then unsubscribes the
// request topic.
func (f *FlowServer) Run(ctx context.Context, flows Flows) {
	var idleCheck <-chan time.Time
	if f.IdleTimeout > 0 {
		period := f.IdleTimeout / 2
		if period < minIdleCheckPeriod {
			period = minIdleCheckPeriod
		}
		every := time.NewTicker(period)
		defer every.Stop()
		idleCheck = every.C
	}

	for {
		select {
		case <-ctx.Done():
			if token := f.mqtt.Unsubscribe(f.RequestTopic); token.Wait() && token.Error() != nil {
				logrus.Errorf("calibration: MQTT flow topic unsubscribe failed: %s", token.Error())
			}
			return
		case req := <-f.requests:
			f.publish(flowMessage{RequestID: req.RequestID, Result: f.Handle(ctx, flows, req)})
		case <-idleCheck:
			for _, r := range flows.ExpireIdle(ctx, f.IdleTimeout) {
				logrus.Infof("calibration: flow %s expired after %s idle", r.FlowID, f.IdleTimeout)
				f.Publish(r)
			}
		}
	}
}

// Handle applies a single request and returns the result to publish.
func (f *FlowServer) Handle(ctx context.Context, flows Flows, req FlowRequest) *wizard.Result {
	if req.FlowID == "" {
		return flows.Start(ctx)
	}

	if req.Abort {
		if err := flows.Abort(ctx, req.FlowID); err != nil && errors.Cause(err) != wizard.ErrUnknownFlow {
			logrus.Errorf("calibration: flow %s abort: %s", req.FlowID, err)
			return &wizard.Result{FlowID: req.FlowID, Type: wizard.ResultAbort, Reason: wizard.ReasonOf(err)}
		}

		return &wizard.Result{FlowID: req.FlowID, Type: wizard.ResultAbort}
	}

	res, err := flows.Submit(ctx, req.FlowID, req.Input)
	if err != nil {
		logrus.Warnf("calibration: %s", err)
		return &wizard.Result{FlowID: req.FlowID, Type: wizard.ResultAbort, Reason: wizard.ReasonUnknown}
	}

	return res
}
