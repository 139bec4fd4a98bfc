/*
PURPOSE:
  Invoice number allocation. The sequence itself is store-side (an atomic
  per-year counter) so that two concurrent generations can never observe the
  same value; this file only formats.
*/
package invoicing

import (
	"context"
	"fmt"
)

// SequenceStore allocates the next invoice sequence number for a year.
// Implementations must be safe under concurrency: each call returns a value
// no other call ever receives.
type SequenceStore interface {
	NextInvoiceSequence(ctx context.Context, year int) (int, error)
}

// FormatNumber renders an invoice number, e.g. FACT-2026-0042.
func FormatNumber(year, seq int) string {
	return fmt.Sprintf("FACT-%d-%04d", year, seq)
}
