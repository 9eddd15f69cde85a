// Package mailer sends transactional email through an SMTP relay. Sends are
// queued and retried off the request path; a send that exhausts its attempt
// budget is dead-lettered to the log.
package mailer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// ErrDelivery means the relay rejected or never accepted the message.
var ErrDelivery = errors.New("mailer: delivery failed")

// Envelope is one outbound message.
type Envelope struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Receipt identifies a queued message so callers can reference the delivery.
type Receipt struct {
	MessageID string
	QueuedAt  time.Time
}

// Gateway is the outbound-mail contract the rest of the app depends on.
type Gateway interface {
	Send(ctx context.Context, env Envelope) error
}

// SMTPSettings are the relay credentials. They can change at runtime via
// Update (config hot reload).
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPGateway delivers mail over SMTP with gomail.
type SMTPGateway struct {
	settings atomic.Value // SMTPSettings
}

func NewSMTP(s SMTPSettings) *SMTPGateway {
	g := &SMTPGateway{}
	g.settings.Store(s)
	return g
}

// Update swaps the relay settings for subsequent sends.
func (g *SMTPGateway) Update(s SMTPSettings) {
	g.settings.Store(s)
}

// Send delivers env, honoring ctx cancellation. gomail has no context
// support, so the dial-and-send runs in a goroutine and the slow path is
// abandoned on timeout.
func (g *SMTPGateway) Send(ctx context.Context, env Envelope) error {
	s := g.settings.Load().(SMTPSettings)
	if s.Host == "" {
		return ErrDelivery
	}

	m := gomail.NewMessage()
	m.SetHeader("From", env.From)
	m.SetHeader("To", env.To)
	m.SetHeader("Subject", env.Subject)
	m.SetBody("text/html", env.HTML)

	done := make(chan error, 1)
	go func() {
		d := gomail.NewDialer(s.Host, s.Port, s.Username, s.Password)
		done <- d.DialAndSend(m)
	}()
	select {
	case err := <-done:
		if err != nil {
			return errors.Join(ErrDelivery, err)
		}
		return nil
	case <-ctx.Done():
		return errors.Join(ErrDelivery, ctx.Err())
	}
}

// Dispatcher queues envelopes and delivers them on a worker goroutine with
// retry and backoff, so mail-relay latency and failures never reach the
// request path.
type Dispatcher struct {
	gw       Gateway
	log      *zap.Logger
	attempts int
	backoff  time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

type job struct {
	id  string
	env Envelope
}

// NewDispatcher starts the worker. Close must be called to drain the queue.
func NewDispatcher(gw Gateway, log *zap.Logger) *Dispatcher {
	return newDispatcher(gw, log, 3, 2*time.Second, 15*time.Second, 64)
}

func newDispatcher(gw Gateway, log *zap.Logger, attempts int, backoff, timeout time.Duration, depth int) *Dispatcher {
	d := &Dispatcher{
		gw:       gw,
		log:      log,
		attempts: attempts,
		backoff:  backoff,
		timeout:  timeout,
		queue:    make(chan job, depth),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Dispatch queues env and returns its delivery reference immediately. A full
// or closed queue dead-letters the message instead of blocking or panicking.
func (d *Dispatcher) Dispatch(env Envelope) Receipt {
	r := Receipt{MessageID: uuid.NewString(), QueuedAt: time.Now()}
	j := job{id: r.MessageID, env: env}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.deadLetter(j, errors.New("dispatcher closed"))
		return r
	}
	select {
	case d.queue <- j:
		d.mu.Unlock()
	default:
		d.mu.Unlock()
		d.deadLetter(j, errors.New("queue full"))
	}
	return r
}

// Close stops accepting work and waits for queued messages to be handled.
// Dispatches racing or following Close are dead-lettered; Close is
// idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err = d.gw.Send(ctx, j.env)
		cancel()
		if err == nil {
			d.log.Info("mail delivered",
				zap.String("message_id", j.id),
				zap.String("to", j.env.To),
				zap.Int("attempt", attempt))
			return
		}
		d.log.Warn("mail send failed",
			zap.String("message_id", j.id),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < d.attempts {
			time.Sleep(d.backoff << (attempt - 1))
		}
	}
	d.deadLetter(j, err)
}

func (d *Dispatcher) deadLetter(j job, err error) {
	d.log.Error("mail dead-lettered",
		zap.String("message_id", j.id),
		zap.String("to", j.env.To),
		zap.String("subject", j.env.Subject),
		zap.Error(err))
}
