/*
scheduler.go - Automated overdue-invoice sweep

PURPOSE:
  Periodically scans issued invoices that are past their due date and
  marks an unpaid-invoice reminder on each one that has not been
  reminded yet.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Detects EMISE invoices where the due date has passed
  - Skips invoices with a reminder already recorded
  - Remind updates the invoice so the sweep is idempotent

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether the sweep is active (default: true)

USAGE:
  sweep := NewReminderSweep(generator, logger)
  sweep.Start()
  // ... later
  sweep.Stop()

SEE ALSO:
  - handlers.go: RemindInvoice endpoint (manual reminder)
  - invoicing/invoice.go: Generator.Overdue, Generator.Remind
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/carthago/recovery-engine/invoicing"
)

// ReminderSweep drives periodic reminders for overdue invoices.
type ReminderSweep struct {
	Invoices      *invoicing.Generator
	Log           zerolog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReminderSweep creates a new sweep over the invoice generator.
func NewReminderSweep(invoices *invoicing.Generator, log zerolog.Logger) *ReminderSweep {
	return &ReminderSweep{
		Invoices:      invoices,
		Log:           log.With().Str("component", "reminder_sweep").Logger(),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweep.
func (rs *ReminderSweep) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Log.Info().Msg("reminder sweep disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	rs.Log.Info().Dur("interval", rs.CheckInterval).Msg("reminder sweep started")
}

// Stop stops the sweep.
func (rs *ReminderSweep) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Log.Info().Msg("reminder sweep stopped")
	}
}

func (rs *ReminderSweep) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.sweep()

	for {
		select {
		case <-rs.ticker.C:
			rs.sweep()
		case <-rs.stop:
			return
		}
	}
}

func (rs *ReminderSweep) sweep() {
	ctx := context.Background()

	overdue, err := rs.Invoices.Overdue(ctx)
	if err != nil {
		rs.Log.Error().Err(err).Msg("listing overdue invoices failed")
		return
	}

	reminded := 0
	skipped := 0

	for i := range overdue {
		inv := &overdue[i]
		if inv.ReminderSent {
			skipped++
			continue
		}
		if _, err := rs.Invoices.Remind(ctx, inv.ID); err != nil {
			rs.Log.Error().Err(err).
				Str("invoice", inv.Number).
				Msg("reminder failed")
			continue
		}
		reminded++
	}

	if reminded > 0 || skipped > 0 {
		rs.Log.Info().
			Int("reminded", reminded).
			Int("skipped", skipped).
			Msg("overdue sweep completed")
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rs *ReminderSweep) RunNow() {
	rs.sweep()
}
