// Package pubsub feeds on-demand scan requests from a Pub/Sub subscription
// into the in-process trigger queue.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

// Consumer receives scan request events and enqueues them.
type Consumer struct {
	sub    *pubsub.Subscription
	queue  monitor.TriggerQueue
	clock  monitor.Clock
	logger *zap.Logger
}

// NewConsumer constructs a Consumer.
func NewConsumer(sub *pubsub.Subscription, queue monitor.TriggerQueue, clock monitor.Clock, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{sub: sub, queue: queue, clock: clock, logger: logger.Named("scan_requests")}
}

// Run blocks receiving messages until ctx ends. Malformed events are acked
// and dropped; enqueue failures are nacked for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		req, err := Decode(msg.Data)
		if err != nil {
			c.logger.Warn("dropping malformed scan request", zap.String("message_id", msg.ID), zap.Error(err))
			msg.Ack()
			return
		}
		if req.ID == "" {
			req.ID = msg.ID
		}
		req.RequestedAt = msg.PublishTime
		if req.RequestedAt.IsZero() {
			req.RequestedAt = c.clock.Now()
		}
		if err := c.queue.Enqueue(ctx, req); err != nil {
			c.logger.Error("enqueue scan request failed", zap.String("monitor_id", req.MonitorID), zap.Error(err))
			msg.Nack()
			return
		}
		c.logger.Debug("scan request enqueued",
			zap.String("request_id", req.ID),
			zap.String("monitor_id", req.MonitorID),
		)
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive scan requests: %w", err)
	}
	return nil
}

// Decode parses and validates a scan request event.
func Decode(data []byte) (monitor.ScanRequest, error) {
	var req monitor.ScanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return monitor.ScanRequest{}, fmt.Errorf("decode scan request: %w", err)
	}
	req.MonitorID = strings.TrimSpace(req.MonitorID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.MonitorID == "" || req.UserID == "" {
		return monitor.ScanRequest{}, errors.New("scan request requires monitorId and userId")
	}
	req.RequestedAt = time.Time{}
	return req, nil
}
