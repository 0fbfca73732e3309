// Package consumer applies working-hours updates published by the staff
// directory.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/backoffice/libs/kafkax"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
)

const TopicScheduleUpdated = "directory.resource.schedule.updated.v1"

type Inbox interface {
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// RuleWriter is satisfied by *booking.Manager.
type RuleWriter interface {
	ReplaceRules(ctx context.Context, resourceID string, rules []model.AvailabilityRule) ([]model.AvailabilityRule, error)
}

type ScheduleUpdated struct {
	ResourceID string              `json:"resource_id"`
	Rules      []booking.RuleInput `json:"rules"`
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

// Reader is the part of *kafka.Reader the consumer drives.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader Reader
	logger *slog.Logger
	inbox  Inbox
	rules  RuleWriter

	retryMin time.Duration
	retryMax time.Duration
}

func New(logger *slog.Logger, inbox Inbox, rules RuleWriter, cfg Config) *Consumer {
	if cfg.Topic == "" {
		cfg.Topic = TopicScheduleUpdated
	}
	return &Consumer{
		reader: kafkax.NewReader(cfg.Brokers, cfg.GroupID, cfg.Topic),
		logger: logger,
		inbox:  inbox,
		rules:  rules,

		retryMin: 500 * time.Millisecond,
		retryMax: 30 * time.Second,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		if !c.process(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err)
		}
	}
}

// process handles msg until it succeeds or fails for good, backing off
// between attempts. It returns false when ctx ends first; msg then stays
// uncommitted and the group redelivers it.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	wait := c.retryMin
	for attempt := 1; ; attempt++ {
		err := c.Handle(ctx, msg)
		if err == nil {
			return true
		}
		if permanent(err) {
			c.logger.Error("schedule update dropped", "err", err, "offset", msg.Offset)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.logger.Warn("schedule update failed, retrying", "err", err, "offset", msg.Offset, "attempt", attempt, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if wait *= 2; wait > c.retryMax {
			wait = c.retryMax
		}
	}
}

// permanent reports errors a redelivery cannot fix.
func permanent(err error) bool {
	return errors.Is(err, model.ErrInvalidRule) || errors.Is(err, model.ErrInvalidRequest) || errors.Is(err, model.ErrNotFound)
}

// Handle applies one message. Duplicates are skipped; a failed update is
// released from the inbox so the next attempt can retry it.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	ok, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("inbox record: %w", err)
	}
	if !ok {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}

	if err := c.apply(ctxSpan, msg.Value); err != nil {
		span.RecordError(err)
		// Malformed payloads will never succeed; keep them recorded.
		if !permanent(err) {
			if rerr := c.inbox.Release(ctxSpan, meta.EventID); rerr != nil {
				c.logger.Warn("inbox release failed", "event_id", meta.EventID, "err", rerr)
			}
		}
		return err
	}
	return nil
}

func (c *Consumer) apply(ctx context.Context, body []byte) error {
	var evt ScheduleUpdated
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("%w: decode schedule update: %v", model.ErrInvalidRequest, err)
	}
	if evt.ResourceID == "" {
		return fmt.Errorf("%w: resource_id is required", model.ErrInvalidRequest)
	}
	rules, err := booking.RulesFromInput(evt.Rules)
	if err != nil {
		return err
	}
	if _, err := c.rules.ReplaceRules(ctx, evt.ResourceID, rules); err != nil {
		return err
	}
	c.logger.Info("schedule update applied", "resource_id", evt.ResourceID, "rules", len(rules))
	return nil
}
