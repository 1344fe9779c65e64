package av

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/opd-ai/toxcall/av"

// instruments groups the OpenTelemetry counters shared by the manager and
// its capture loops. With no meter provider installed they are no-ops.
type instruments struct {
	sessionsActive  metric.Int64UpDownCounter
	framesCaptured  metric.Int64Counter
	framesDelivered metric.Int64Counter
	deliveryErrors  metric.Int64Counter
	deviceErrors    metric.Int64Counter
	framesPlayed    metric.Int64Counter
}

func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)
	ins := &instruments{}

	var err error
	report := func(name string) {
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "newInstruments",
				"instrument": name,
				"error":      err.Error(),
			}).Warn("Failed to create metric instrument")
		}
	}

	ins.sessionsActive, err = meter.Int64UpDownCounter("toxcall.sessions_active",
		metric.WithDescription("Number of calls in progress"))
	report("toxcall.sessions_active")
	ins.framesCaptured, err = meter.Int64Counter("toxcall.frames_captured_total",
		metric.WithDescription("Microphone frames read by the capture loop"))
	report("toxcall.frames_captured_total")
	ins.framesDelivered, err = meter.Int64Counter("toxcall.frames_delivered_total",
		metric.WithDescription("Captured frames handed to the transport, per peer"))
	report("toxcall.frames_delivered_total")
	ins.deliveryErrors, err = meter.Int64Counter("toxcall.delivery_errors_total",
		metric.WithDescription("Frames the transport failed to send"))
	report("toxcall.delivery_errors_total")
	ins.deviceErrors, err = meter.Int64Counter("toxcall.device_errors_total",
		metric.WithDescription("Microphone and speaker failures"))
	report("toxcall.device_errors_total")
	ins.framesPlayed, err = meter.Int64Counter("toxcall.frames_played_total",
		metric.WithDescription("Inbound frames written to the playback sink"))
	report("toxcall.frames_played_total")

	return ins
}

func (ins *instruments) sessionAdded() {
	if ins.sessionsActive != nil {
		ins.sessionsActive.Add(context.Background(), 1)
	}
}

func (ins *instruments) sessionRemoved(n int) {
	if ins.sessionsActive != nil && n > 0 {
		ins.sessionsActive.Add(context.Background(), -int64(n))
	}
}

func (ins *instruments) frameCaptured() {
	if ins.framesCaptured != nil {
		ins.framesCaptured.Add(context.Background(), 1)
	}
}

func (ins *instruments) frameDelivered() {
	if ins.framesDelivered != nil {
		ins.framesDelivered.Add(context.Background(), 1)
	}
}

func (ins *instruments) deliveryFailed() {
	if ins.deliveryErrors != nil {
		ins.deliveryErrors.Add(context.Background(), 1)
	}
}

func (ins *instruments) deviceFailed(device string) {
	if ins.deviceErrors != nil {
		ins.deviceErrors.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("device", device)))
	}
}

func (ins *instruments) framePlayed() {
	if ins.framesPlayed != nil {
		ins.framesPlayed.Add(context.Background(), 1)
	}
}
