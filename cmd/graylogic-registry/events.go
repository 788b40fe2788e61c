package main

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-registry/internal/auth"
	"github.com/nerrad567/gray-logic-registry/internal/device"
	"github.com/nerrad567/gray-logic-registry/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-registry/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-registry/internal/instant"
)

// measurementSweep records one liveness sweep.
const measurementSweep = "registry_sweep"

// statusPublisher is the MQTT side of eventPublisher.
type statusPublisher interface {
	PublishDeviceStatus(msg mqtt.DeviceStatusMessage) error
	PublishInstantEvent(msg mqtt.InstantEventMessage) error
}

// pointWriter is the InfluxDB side of eventPublisher.
type pointWriter interface {
	WriteDeviceStatus(device, kind, status, previous string, silence time.Duration, at time.Time)
	WriteInstantActivity(recipient, event, instantType string, count int, at time.Time)
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time)
}

type eventLogger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// eventPublisher mirrors device status transitions and instant mutations to
// MQTT and InfluxDB. Either sink may be absent. Tokens leave the process only
// as fingerprints.
type eventPublisher struct {
	mqtt   statusPublisher
	influx pointWriter
	log    eventLogger
	now    func() time.Time
}

// newEventPublisher accepts nil clients for disabled sinks.
func newEventPublisher(mqttClient *mqtt.Client, influxClient *influxdb.Client, log eventLogger) *eventPublisher {
	p := &eventPublisher{log: log, now: time.Now}
	if mqttClient != nil {
		p.mqtt = mqttClient
	}
	if influxClient != nil {
		p.influx = influxClient
	}
	return p
}

// DeviceStatusChanged implements device.StatusObserver.
func (p *eventPublisher) DeviceStatusChanged(d device.Device, previous device.Status) {
	now := p.now()
	fp := auth.Fingerprint(d.Token)

	p.log.Debug("device status changed",
		"device", fp,
		"status", d.Status,
		"previous", previous,
	)

	if p.mqtt != nil {
		err := p.mqtt.PublishDeviceStatus(mqtt.DeviceStatusMessage{
			Device:     fp,
			Name:       d.Name,
			Kind:       string(d.Kind),
			Status:     string(d.Status),
			Previous:   string(previous),
			LastActive: d.LastActive,
			Timestamp:  now,
		})
		if err != nil {
			p.log.Warn("publishing device status failed", "device", fp, "error", err)
		}
	}

	if p.influx != nil {
		var silence time.Duration
		if !d.LastActive.IsZero() {
			silence = now.Sub(d.LastActive)
		}
		p.influx.WriteDeviceStatus(fp, string(d.Kind), string(d.Status), string(previous), silence, now)
	}
}

// InstantEvent implements instant.Observer.
func (p *eventPublisher) InstantEvent(e instant.Event) {
	now := p.now()
	fp := auth.Fingerprint(e.Recipient)

	if p.mqtt != nil {
		err := p.mqtt.PublishInstantEvent(mqtt.InstantEventMessage{
			Recipient: fp,
			Event:     string(e.Kind),
			Type:      e.Type,
			Count:     e.Count,
			Timestamp: now,
		})
		if err != nil {
			p.log.Warn("publishing instant event failed", "recipient", fp, "event", e.Kind, "error", err)
		}
	}

	if p.influx != nil {
		p.influx.WriteInstantActivity(fp, string(e.Kind), e.Type, e.Count, now)
	}
}

// SweepCompleted records the outcome of a liveness sweep.
func (p *eventPublisher) SweepCompleted(changed, purged int) {
	if p.influx == nil {
		return
	}
	p.influx.WritePointWithTime(measurementSweep, nil, map[string]interface{}{
		"changed":        changed,
		"tokens_expired": purged,
	}, p.now())
}

// sweepSink receives sweep outcomes.
type sweepSink interface {
	SweepCompleted(changed, purged int)
}

type livenessSource interface {
	SweepLiveness(ctx context.Context) ([]device.Device, error)
}

type tokenPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// livenessSweeper periodically applies the no-contact heartbeat rule to every
// device and purges expired tokens.
type livenessSweeper struct {
	devices  livenessSource
	tokens   tokenPurger
	events   sweepSink
	interval time.Duration
	log      eventLogger
}

// Run sweeps every interval until ctx is cancelled.
func (s *livenessSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *livenessSweeper) sweep(ctx context.Context) {
	changed, err := s.devices.SweepLiveness(ctx)
	if err != nil {
		s.log.Warn("liveness sweep failed", "error", err)
		return
	}

	purged, err := s.tokens.PurgeExpired(ctx)
	if err != nil {
		s.log.Warn("token purge failed", "error", err)
	}

	if len(changed) > 0 || purged > 0 {
		s.log.Debug("liveness sweep", "changed", len(changed), "tokens_expired", purged)
	}
	if s.events != nil {
		s.events.SweepCompleted(len(changed), purged)
	}
}
