package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxAttempts bounds retries of a single notification
const DefaultMaxAttempts = 5

// queue is the part of Outbox the dispatcher drives
type queue interface {
	Pending(ctx context.Context, limit, maxAttempts int) ([]Notification, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause error) error
}

// DispatcherConfig tunes delivery
type DispatcherConfig struct {
	From         string
	PortalURL    string
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Dispatcher delivers pending outbox rows
type Dispatcher struct {
	queue  queue
	sender Sender
	config DispatcherConfig
	log    *logrus.Logger
}

// NewDispatcher creates a dispatcher with defaults for unset fields
func NewDispatcher(q queue, sender Sender, config DispatcherConfig, logger *logrus.Logger) *Dispatcher {
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{
		queue:  q,
		sender: sender,
		config: config,
		log:    logger,
	}
}

// RunOnce delivers one batch and returns how many messages were sent
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	pending, err := d.queue.Pending(ctx, d.config.BatchSize, d.config.MaxAttempts)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, n := range pending {
		if err := d.deliver(ctx, n); err != nil {
			d.log.WithFields(logrus.Fields{
				"notification_id": n.ID,
				"result_id":       n.ResultID,
				"attempt":         n.Attempts + 1,
				"error":           err,
			}).Warn("Failed to send result notification")
			if markErr := d.queue.MarkFailed(ctx, n.ID, err); markErr != nil {
				return sent, markErr
			}
			continue
		}
		if err := d.queue.MarkSent(ctx, n.ID); err != nil {
			return sent, err
		}
		sent++
	}

	if sent > 0 {
		d.log.WithField("sent", sent).Info("Result notifications delivered")
	}
	return sent, nil
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) error {
	msg, err := RenderResult(n, d.config.From, d.config.PortalURL)
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, msg)
}

// Run polls until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.log.WithField("interval", d.config.PollInterval).Info("Notification dispatcher started")
	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.WithError(err).Error("Notification dispatch failed")
		}
		select {
		case <-ctx.Done():
			d.log.Info("Notification dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}
