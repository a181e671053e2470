// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package mail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/mrcsystems/mrcauth/pkg/errutil"
)

// Dispatcher defaults.
const (
	DefaultQueueSize   = 100
	DefaultSendTimeout = 10 * time.Second
)

// Dispatch outcomes reported to a Recorder.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Recorder observes dispatch outcomes.
type Recorder interface {
	MailDispatched(outcome string)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// QueueSize defaults to DefaultQueueSize.
	QueueSize int
	// SendTimeout bounds one delivery. Defaults to DefaultSendTimeout.
	SendTimeout time.Duration
	// ResetLinkBase is the page that accepts ?token=.
	ResetLinkBase string
}

// Dispatcher queues messages and delivers them on a background worker so
// callers never wait on the mail provider.
type Dispatcher struct {
	sender   Sender
	cfg      DispatcherConfig
	logger   *slog.Logger
	recorder Recorder

	mu      sync.RWMutex
	queue   chan Message
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Call Start to begin delivery and Stop
// to drain the queue.
func NewDispatcher(sender Sender, cfg DispatcherConfig, logger *slog.Logger, recorder Recorder) (*Dispatcher, error) {
	if sender == nil {
		return nil, oops.Code("MAIL_DISPATCHER_INVALID").Errorf("mail sender is required")
	}
	if cfg.ResetLinkBase == "" {
		return nil, oops.Code("MAIL_DISPATCHER_INVALID").Errorf("reset link base is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:   sender,
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		queue:    make(chan Message, cfg.QueueSize),
	}, nil
}

// Start launches the delivery worker. Deliveries use ctx as their parent.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop refuses new messages, delivers what is queued and waits for the
// worker to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Enqueue queues msg without blocking. It reports false if the queue is
// full or the dispatcher is stopped.
func (d *Dispatcher) Enqueue(msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.record(OutcomeDropped)
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		d.record(OutcomeDropped)
		return false
	}
}

// NotifyPasswordReset renders and queues a reset email.
func (d *Dispatcher) NotifyPasswordReset(ctx context.Context, n PasswordResetNotice) {
	msg, err := PasswordResetMessage(n, d.cfg.ResetLinkBase)
	if err != nil {
		errutil.LogError(ctx, d.logger, "render password reset email", err)
		d.record(OutcomeFailed)
		return
	}
	if !d.Enqueue(msg) {
		d.logger.WarnContext(ctx, "mail queue full, dropped password reset email")
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(ctx, msg)
	}
}

func (d *Dispatcher) deliver(parent context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.cfg.SendTimeout)
	defer cancel()

	if err := d.sender.Send(ctx, msg); err != nil {
		errutil.LogError(ctx, d.logger, "deliver email", err, "subject", msg.Subject)
		d.record(OutcomeFailed)
		return
	}
	d.record(OutcomeSent)
}

func (d *Dispatcher) record(outcome string) {
	if d.recorder != nil {
		d.recorder.MailDispatched(outcome)
	}
}
