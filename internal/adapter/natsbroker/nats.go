// Package natsbroker implements the event sink port on NATS JetStream, so
// run events survive consumer restarts and can fan out beyond this process.
package natsbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/planweave/planweave/internal/domain/event"
)

const (
	streamName    = "PLANWEAVE"
	subjectPrefix = "plans.events."
)

// Subject returns the JetStream subject carrying one plan's event stream.
func Subject(planID string) string {
	if planID == "" {
		planID = "unrouted"
	}
	return subjectPrefix + planID
}

// Sink publishes run events to JetStream, one subject per plan id.
type Sink struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the stream exists.
func Connect(ctx context.Context, url string) (*Sink, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ">"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Sink{nc: nc, js: js}, nil
}

// Emit implements sink.Sink.
func (s *Sink) Emit(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := s.js.Publish(ctx, Subject(ev.PlanID), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", Subject(ev.PlanID), err)
	}
	return nil
}

// Follow delivers a plan's events to handler as they are published. The
// returned stop function ends delivery.
func (s *Sink) Follow(ctx context.Context, planID string, handler func(event.Event)) (func(), error) {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: Subject(planID),
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		var ev event.Event
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			slog.Error("malformed event on stream", "subject", msg.Subject(), "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		handler(ev)
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}
	return cons.Stop, nil
}

// IsConnected reports whether the underlying connection is up.
func (s *Sink) IsConnected() bool {
	return s.nc != nil && s.nc.IsConnected()
}

// Close shuts down the NATS connection.
func (s *Sink) Close() error {
	s.nc.Close()
	return nil
}
