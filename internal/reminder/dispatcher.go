package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rahul/billagent/internal/observability"
)

var ErrAlreadyRunning = errors.New("dispatcher already running")

// Summary reports one dispatch pass.
type Summary struct {
	Due    int `json:"due"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Dispatcher polls the store for due reminders and sends them. It is owned by
// the process that constructs it; nothing about it is global.
type Dispatcher struct {
	Store    Store
	Sender   Sender
	Interval time.Duration
	Logger   *observability.Logger

	OnSent   func(Reminder)
	OnFailed func(Reminder, error)

	now func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(store Store, sender Sender, interval time.Duration, logger *observability.Logger) *Dispatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Dispatcher{
		Store:    store,
		Sender:   sender,
		Interval: interval,
		Logger:   logger,
		now:      time.Now,
	}
}

// Start runs the polling loop in the background until Stop is called or ctx
// ends.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Run(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
}

// Run blocks, checking for due reminders every Interval.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	log.Printf("[Dispatcher] Started (every %s)", d.Interval)
	d.CheckNow(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("[Dispatcher] Stopped")
			return
		case <-ticker.C:
			d.CheckNow(ctx)
		}
	}
}

// CheckNow sends every reminder that is due and records the outcome of each.
func (d *Dispatcher) CheckNow(ctx context.Context) Summary {
	var sum Summary
	due, err := d.Store.DueNow(ctx, d.now())
	if err != nil {
		log.Printf("[Dispatcher] Error polling reminders: %v", err)
		return sum
	}
	sum.Due = len(due)
	if len(due) == 0 {
		return sum
	}

	observability.SetStatus(observability.RoleDispatcher, fmt.Sprintf("%d due", len(due)))
	defer observability.SetStatus(observability.RoleIdle, "")

	for _, r := range due {
		if ctx.Err() != nil {
			break
		}
		if err := d.deliver(ctx, r); err != nil {
			sum.Failed++
			log.Printf("[Dispatcher] Reminder %s (%s) failed: %v", r.ID, r.Vendor, err)
			if markErr := d.Store.MarkFailed(ctx, r.ID, err.Error()); markErr != nil {
				log.Printf("[Dispatcher] Error marking %s failed: %v", r.ID, markErr)
			}
			d.Logger.LogReminder(r.ID, r.Vendor, string(StatusFailed), err.Error())
			if d.OnFailed != nil {
				d.OnFailed(r, err)
			}
			continue
		}

		sum.Sent++
		if err := d.Store.MarkSent(ctx, r.ID, d.now()); err != nil {
			log.Printf("[Dispatcher] Error marking %s sent: %v", r.ID, err)
		}
		d.Logger.LogReminder(r.ID, r.Vendor, string(StatusSent), string(r.Channel))
		if d.OnSent != nil {
			d.OnSent(r)
		}
	}

	observability.RecordDeliveries(sum.Sent, sum.Failed)
	log.Printf("[Dispatcher] %d due, %d sent, %d failed", sum.Due, sum.Sent, sum.Failed)
	return sum
}

func (d *Dispatcher) deliver(ctx context.Context, r Reminder) error {
	if r.Recipient == "" {
		return fmt.Errorf("missing recipient for %s", r.Channel)
	}
	return d.Sender.Send(ctx, r.Channel, r.Recipient, Format(r, d.now()))
}
