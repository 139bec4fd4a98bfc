/*
Package factory provides JSON to Go catalog conversion.

PURPOSE:
  Converts JSON rate definitions into tariff catalog entries. This enables
  rate configuration without code changes - the billing team can maintain
  the rate card in JSON, and the factory loads it through the same overlap
  checks as the API.

WHY JSON?
  - Non-developers can maintain the rate card
  - Easy integration with an admin UI
  - Version control for rate definitions

JSON SCHEMA:
  [
    {
      "phase": "AMIABLE",
      "category": "RELANCE_TELEPHONIQUE",
      "description": "Relance téléphonique",
      "supplier": "interne",
      "unit_rate": "15.00",
      "valid_from": "2026-01-01",
      "valid_to": "2026-12-31"
    }
  ]

USAGE:
  n, err := factory.SeedCatalog(ctx, catalog, file)

SEE ALSO:
  - tariff/catalog.go: Catalog service and overlap prevention
  - tariff/categories.go: Valid categories per phase
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/carthago/recovery-engine/billing"
	"github.com/carthago/recovery-engine/tariff"
)

const seedDateLayout = "2006-01-02"

// SeedEntry is the JSON representation of one rate.
type SeedEntry struct {
	Phase       string `json:"phase" validate:"required,oneof=CREATION ENQUETE AMIABLE JURIDIQUE"`
	Category    string `json:"category" validate:"required"`
	Description string `json:"description"`
	Supplier    string `json:"supplier"`
	UnitRate    string `json:"unit_rate" validate:"required"`
	ValidFrom   string `json:"valid_from" validate:"required"`
	ValidTo     string `json:"valid_to"`
}

var validate = validator.New()

// SeedCatalog reads a JSON rate card and creates each entry through the
// catalog service. Returns the number of entries created; stops at the
// first invalid or overlapping entry.
func SeedCatalog(ctx context.Context, catalog *tariff.Catalog, r io.Reader) (int, error) {
	var entries []SeedEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return 0, fmt.Errorf("decoding rate card: %w", err)
	}

	created := 0
	for i, se := range entries {
		in, err := se.toInput()
		if err != nil {
			return created, fmt.Errorf("rate card entry %d: %w", i, err)
		}
		if _, err := catalog.Create(ctx, in); err != nil {
			return created, fmt.Errorf("rate card entry %d (%s/%s): %w", i, se.Phase, se.Category, err)
		}
		created++
	}
	return created, nil
}

func (se SeedEntry) toInput() (tariff.CatalogEntryInput, error) {
	var in tariff.CatalogEntryInput
	if err := validate.Struct(se); err != nil {
		return in, err
	}

	rate, err := decimalAmount(se.UnitRate)
	if err != nil {
		return in, fmt.Errorf("unit_rate: %w", err)
	}
	from, err := time.Parse(seedDateLayout, se.ValidFrom)
	if err != nil {
		return in, fmt.Errorf("valid_from: %w", err)
	}
	in = tariff.CatalogEntryInput{
		Phase:       billing.Phase(se.Phase),
		Category:    se.Category,
		Description: se.Description,
		Supplier:    se.Supplier,
		UnitRate:    rate,
		ValidFrom:   from,
	}
	if se.ValidTo != "" {
		to, err := time.Parse(seedDateLayout, se.ValidTo)
		if err != nil {
			return in, fmt.Errorf("valid_to: %w", err)
		}
		in.ValidTo = &to
	}
	return in, nil
}

func decimalAmount(s string) (billing.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return billing.Amount{}, err
	}
	return billing.Amount{Value: d}, nil
}
