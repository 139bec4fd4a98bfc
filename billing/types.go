/*
Package billing provides the shared kernel of the recovery billing engine.

PURPOSE:
  This package contains the types and conventions every other package builds
  on: money-safe amounts, typed identifiers, the four collection phases, the
  error taxonomy, and the collaborator interfaces (audit log, notifier).

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A monetary quantity with a currency (e.g., 250.00 TND)
  - Phase: One of the four sequential collection phases of a case
  - Case/LineItem/Invoice/Payment IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Type Safety: Strong typing for IDs prevents mixing case/invoice IDs
  3. Single unit of account: one flat currency, no conversion logic

USAGE:
  fee := billing.NewAmount("250.00")
  total := fee.MulInt(3) // 750.00

SEE ALSO:
  - errors.go: Error taxonomy shared by all services
  - audit.go: Audit log and notification collaborator interfaces
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Monetary quantity with currency
// =============================================================================

type Currency string

// DefaultCurrency is the single unit of account of the engine.
const DefaultCurrency Currency = "TND"

type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewAmount(s string) Amount {
	return Amount{Value: MustParseDecimal(s), Currency: DefaultCurrency}
}

func NewAmountFromFloat(v float64) Amount {
	return Amount{Value: decimal.NewFromFloat(v), Currency: DefaultCurrency}
}

func Zero() Amount {
	return Amount{Value: decimal.Zero, Currency: DefaultCurrency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Currency: a.cur()} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Currency: a.cur()} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Currency: a.cur()} }
func (a Amount) MulInt(n int) Amount {
	return Amount{Value: a.Value.Mul(decimal.NewFromInt(int64(n))), Currency: a.cur()}
}
func (a Amount) Round2() Amount            { return Amount{Value: a.Value.Round(2), Currency: a.cur()} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) GreaterThanOrEqual(b Amount) bool {
	return a.Value.GreaterThanOrEqual(b.Value)
}
func (a Amount) String() string { return a.Value.StringFixed(2) + " " + string(a.cur()) }

func (a Amount) cur() Currency {
	if a.Currency == "" {
		return DefaultCurrency
	}
	return a.Currency
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CaseID string
type LineItemID string
type CatalogEntryID string
type InvoiceID string
type PaymentID string
type CostEntryID string

// =============================================================================
// PHASE - Sequential collection phases of a case
// =============================================================================

// Phase identifies which stage of the recovery process a charge belongs to.
// Cases move CREATION → ENQUETE → AMIABLE → JURIDIQUE, but charges can be
// recorded against any phase a case has reached.
type Phase string

const (
	PhaseCreation  Phase = "CREATION"  // case opening
	PhaseEnquete   Phase = "ENQUETE"   // pre-contentious investigation
	PhaseAmiable   Phase = "AMIABLE"   // out-of-court collection
	PhaseJuridique Phase = "JURIDIQUE" // bailiff/court collection
)

// Phases lists all phases in process order.
func Phases() []Phase {
	return []Phase{PhaseCreation, PhaseEnquete, PhaseAmiable, PhaseJuridique}
}

func (p Phase) Valid() bool {
	switch p {
	case PhaseCreation, PhaseEnquete, PhaseAmiable, PhaseJuridique:
		return true
	}
	return false
}
