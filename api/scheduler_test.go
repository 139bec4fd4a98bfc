package api_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthago/recovery-engine/api"
	"github.com/carthago/recovery-engine/invoicing"
	"github.com/carthago/recovery-engine/store/memory"
	"github.com/carthago/recovery-engine/tariff"
)

func newTestSweep(t *testing.T) *api.ReminderSweep {
	t.Helper()
	store := memory.NewStore()
	log := zerolog.Nop()

	catalog := tariff.NewCatalog(store, log)
	ledger := tariff.NewCaseLedger(store, store, catalog, log)
	generator := invoicing.NewGenerator(store, store, ledger, store, log)

	sweep := api.NewReminderSweep(generator, log)
	sweep.CheckInterval = 10 * time.Millisecond
	return sweep
}

func TestReminderSweep_StopIsIdempotent(t *testing.T) {
	// GIVEN: A running sweep
	// WHEN: Stop is called twice
	// THEN: The second call is a no-op rather than a panic

	sweep := newTestSweep(t)
	sweep.Start()

	sweep.Stop()
	assert.NotPanics(t, sweep.Stop)
}

func TestReminderSweep_StopWithoutStart(t *testing.T) {
	sweep := newTestSweep(t)
	assert.NotPanics(t, sweep.Stop)
}

func TestReminderSweep_DisabledDoesNotStart(t *testing.T) {
	sweep := newTestSweep(t)
	sweep.Enabled = false

	sweep.Start()
	assert.NotPanics(t, sweep.Stop)
}

func TestReminderSweep_RunNowWithEmptyBacklog(t *testing.T) {
	sweep := newTestSweep(t)
	require.NotPanics(t, sweep.RunNow)
}
