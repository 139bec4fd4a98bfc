/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements every persistence interface of the engine (case financials,
  recovery history, tariff catalog, line items, invoices, payments, cost
  entries, invoice sequence) using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  cases:             Financial aggregate per case, version column for CAS
  recovery_history:  Append-only recovery postings
  catalog_entries:   Time-ranged unit rates
  line_items:        Billable charges with validation status
  invoices:          Generated invoices
  invoice_counters:  Per-year sequence, advanced atomically
  payments:          Payment intake
  cost_entries:      Legacy flat cost ledger

CONCURRENCY:
  - Invoice numbers come from an UPSERT ... RETURNING on invoice_counters,
    so two concurrent generations can never read the same value.
  - Case financial updates are compare-and-swap on the version column; a
    stale version returns billing.ErrConcurrentModification.
  - idx_line_items_unique_charge enforces at most one non-rejected item per
    (case, phase, category) for unique-per-case categories, closing the
    check-then-insert race at the database.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/recovery.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/carthago/recovery-engine/billing"
	"github.com/carthago/recovery-engine/costflow"
	"github.com/carthago/recovery-engine/invoicing"
	"github.com/carthago/recovery-engine/recovery"
	"github.com/carthago/recovery-engine/tariff"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer at a time, and an in-memory database only
	// exists on the connection that created it.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Case financial aggregates
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL DEFAULT '',
		claim_total TEXT NOT NULL,
		recovered TEXT NOT NULL,
		remaining TEXT NOT NULL,
		recovered_amiable TEXT NOT NULL,
		recovered_juridique TEXT NOT NULL,
		recovered_interest TEXT NOT NULL,
		state TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	-- Recovery history (append-only)
	CREATE TABLE IF NOT EXISTS recovery_history (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		kind TEXT NOT NULL,
		delta TEXT NOT NULL,
		running_total TEXT NOT NULL,
		remaining TEXT NOT NULL,
		action_id TEXT,
		user_id TEXT,
		comment TEXT,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recovery_history_case
		ON recovery_history(case_id, at);

	-- Tariff catalog (time-ranged rates)
	CREATE TABLE IF NOT EXISTS catalog_entries (
		id TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		category TEXT NOT NULL,
		description TEXT,
		supplier TEXT,
		unit_rate TEXT NOT NULL,
		valid_from TEXT NOT NULL,
		valid_to TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_catalog_phase_category
		ON catalog_entries(phase, category, active);

	-- Billable line items
	CREATE TABLE IF NOT EXISTS line_items (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		category TEXT NOT NULL,
		element_type TEXT,
		unit_cost TEXT,
		quantity INTEGER NOT NULL DEFAULT 1,
		total TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		validated_at TEXT,
		comment TEXT,
		invoice_id TEXT,
		action_id TEXT,
		bailiff_action_id TEXT,
		bailiff_document_id TEXT,
		hearing_id TEXT,
		investigation_id TEXT,
		unique_charge BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_case
		ON line_items(case_id, phase);
	CREATE INDEX IF NOT EXISTS idx_line_items_invoice
		ON line_items(invoice_id) WHERE invoice_id IS NOT NULL;

	-- CRITICAL: a unique-per-case category can only hold one non-rejected
	-- item per (case, phase, category). Closes the check-then-insert race
	-- between concurrent creations.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_line_items_unique_charge
		ON line_items(case_id, phase, category)
		WHERE unique_charge = TRUE AND status != 'REJECTED';

	-- Invoices
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		case_id TEXT NOT NULL,
		period_start TEXT,
		period_end TEXT,
		issue_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		amount_excl TEXT NOT NULL,
		vat_rate TEXT NOT NULL,
		amount_incl TEXT NOT NULL,
		status TEXT NOT NULL,
		sent BOOLEAN NOT NULL DEFAULT FALSE,
		reminder_sent BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_case
		ON invoices(case_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_status
		ON invoices(status);

	-- Per-year invoice sequence. seq holds the last allocated number.
	CREATE TABLE IF NOT EXISTS invoice_counters (
		year INTEGER PRIMARY KEY,
		seq INTEGER NOT NULL
	);

	-- Payments
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		reference TEXT,
		status TEXT NOT NULL,
		comment TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_invoice
		ON payments(invoice_id);
	CREATE INDEX IF NOT EXISTS idx_payments_status
		ON payments(status);

	-- Legacy flat cost ledger
	CREATE TABLE IF NOT EXISTS cost_entries (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		category TEXT,
		quantity INTEGER NOT NULL DEFAULT 1,
		unit_rate TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		date TEXT NOT NULL,
		justification_url TEXT,
		comment TEXT,
		action_id TEXT,
		investigation_id TEXT,
		hearing_id TEXT,
		lawyer_id TEXT,
		bailiff_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cost_entries_case
		ON cost_entries(case_id, phase);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CASE FINANCIALS (recovery.CaseStore, tariff.CaseDirectory)
// =============================================================================

func (s *Store) CreateCaseFinancials(ctx context.Context, f recovery.CaseFinancials) error {
	if f.Version == 0 {
		f.Version = 1
	}
	query := `
		INSERT INTO cases
		(id, reference, claim_total, recovered, remaining, recovered_amiable,
		 recovered_juridique, recovered_interest, state, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		f.CaseID,
		f.Reference,
		f.ClaimTotal.Value.String(),
		f.Recovered.Value.String(),
		f.Remaining.Value.String(),
		f.RecoveredAmiable.Value.String(),
		f.RecoveredJuridique.Value.String(),
		f.RecoveredInterest.Value.String(),
		f.State,
		f.Version,
		f.UpdatedAt.Format(time.RFC3339),
	)
	if isUniqueViolation(err, "cases") {
		return billing.Invalidf("case %s already exists", f.CaseID)
	}
	return err
}

func (s *Store) GetCaseFinancials(ctx context.Context, id billing.CaseID) (*recovery.CaseFinancials, error) {
	query := `
		SELECT id, reference, claim_total, recovered, remaining, recovered_amiable,
		       recovered_juridique, recovered_interest, state, version, updated_at
		FROM cases WHERE id = ?
	`
	var f recovery.CaseFinancials
	var claim, recov, remaining, amiable, juridique, interest, updatedAt string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&f.CaseID, &f.Reference, &claim, &recov, &remaining,
		&amiable, &juridique, &interest, &f.State, &f.Version, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.NotFoundError{Kind: "case", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	f.ClaimTotal = parseAmount(claim)
	f.Recovered = parseAmount(recov)
	f.Remaining = parseAmount(remaining)
	f.RecoveredAmiable = parseAmount(amiable)
	f.RecoveredJuridique = parseAmount(juridique)
	f.RecoveredInterest = parseAmount(interest)
	f.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &f, nil
}

// UpdateCaseFinancials is a compare-and-swap on the version column.
func (s *Store) UpdateCaseFinancials(ctx context.Context, f recovery.CaseFinancials, expectedVersion int64) error {
	query := `
		UPDATE cases SET
			reference = ?, claim_total = ?, recovered = ?, remaining = ?,
			recovered_amiable = ?, recovered_juridique = ?, recovered_interest = ?,
			state = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		f.Reference,
		f.ClaimTotal.Value.String(),
		f.Recovered.Value.String(),
		f.Remaining.Value.String(),
		f.RecoveredAmiable.Value.String(),
		f.RecoveredJuridique.Value.String(),
		f.RecoveredInterest.Value.String(),
		f.State,
		f.UpdatedAt.Format(time.RFC3339),
		f.CaseID,
		expectedVersion,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		exists, err := s.CaseExists(ctx, f.CaseID)
		if err != nil {
			return err
		}
		if !exists {
			return &billing.NotFoundError{Kind: "case", ID: string(f.CaseID)}
		}
		return billing.ErrConcurrentModification
	}
	return nil
}

func (s *Store) CaseExists(ctx context.Context, id billing.CaseID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM cases WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// RECOVERY HISTORY (recovery.HistoryStore)
// =============================================================================

func (s *Store) AppendRecovery(ctx context.Context, e recovery.HistoryEntry) error {
	query := `
		INSERT INTO recovery_history
		(id, case_id, phase, kind, delta, running_total, remaining, action_id, user_id, comment, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.CaseID, e.Phase, e.Kind,
		e.Delta.Value.String(),
		e.RunningTotal.Value.String(),
		e.Remaining.Value.String(),
		nullString(e.ActionID), nullString(e.UserID), nullString(e.Comment),
		e.At.Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListRecoveries(ctx context.Context, caseID billing.CaseID) ([]recovery.HistoryEntry, error) {
	query := `
		SELECT id, case_id, phase, kind, delta, running_total, remaining,
		       action_id, user_id, comment, at
		FROM recovery_history WHERE case_id = ? ORDER BY at, id
	`
	rows, err := s.db.QueryContext(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []recovery.HistoryEntry
	for rows.Next() {
		var e recovery.HistoryEntry
		var delta, running, remaining, at string
		var actionID, userID, comment sql.NullString
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Phase, &e.Kind,
			&delta, &running, &remaining, &actionID, &userID, &comment, &at); err != nil {
			return nil, err
		}
		e.Delta = parseAmount(delta)
		e.RunningTotal = parseAmount(running)
		e.Remaining = parseAmount(remaining)
		e.ActionID = actionID.String
		e.UserID = userID.String
		e.Comment = comment.String
		e.At, _ = time.Parse(time.RFC3339, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// CATALOG (tariff.CatalogStore)
// =============================================================================

func (s *Store) SaveCatalogEntry(ctx context.Context, e tariff.CatalogEntry) error {
	query := `
		INSERT INTO catalog_entries
		(id, phase, category, description, supplier, unit_rate, valid_from, valid_to, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			supplier = excluded.supplier,
			unit_rate = excluded.unit_rate,
			valid_from = excluded.valid_from,
			valid_to = excluded.valid_to,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Phase, e.Category, e.Description, e.Supplier,
		e.UnitRate.Value.String(),
		e.ValidFrom.Format(time.RFC3339),
		nullTime(e.ValidTo),
		e.Active,
	)
	return err
}

func (s *Store) GetCatalogEntry(ctx context.Context, id billing.CatalogEntryID) (*tariff.CatalogEntry, error) {
	query := `
		SELECT id, phase, category, description, supplier, unit_rate, valid_from, valid_to, active
		FROM catalog_entries WHERE id = ?
	`
	e, err := scanCatalogEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.NotFoundError{Kind: "catalog entry", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) ListCatalogEntries(ctx context.Context, f tariff.CatalogFilter) ([]tariff.CatalogEntry, error) {
	query := `
		SELECT id, phase, category, description, supplier, unit_rate, valid_from, valid_to, active
		FROM catalog_entries WHERE 1=1
	`
	var args []any
	if f.Phase != "" {
		query += ` AND phase = ?`
		args = append(args, f.Phase)
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.ActiveOnly {
		query += ` AND active = TRUE`
	}
	query += ` ORDER BY valid_from DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tariff.CatalogEntry
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCatalogEntry(row rowScanner) (*tariff.CatalogEntry, error) {
	var e tariff.CatalogEntry
	var rate, validFrom string
	var description, supplier, validTo sql.NullString
	if err := row.Scan(&e.ID, &e.Phase, &e.Category, &description, &supplier,
		&rate, &validFrom, &validTo, &e.Active); err != nil {
		return nil, err
	}
	e.Description = description.String
	e.Supplier = supplier.String
	e.UnitRate = parseAmount(rate)
	e.ValidFrom, _ = time.Parse(time.RFC3339, validFrom)
	if validTo.Valid {
		t, _ := time.Parse(time.RFC3339, validTo.String)
		e.ValidTo = &t
	}
	return &e, nil
}

// =============================================================================
// LINE ITEMS (tariff.LineItemStore)
// =============================================================================

func (s *Store) SaveLineItem(ctx context.Context, li tariff.LineItem) error {
	uniqueCharge := false
	if spec, ok := tariff.LookupCategory(li.Category); ok {
		uniqueCharge = spec.UniquePerCase
	}
	query := `
		INSERT INTO line_items
		(id, case_id, phase, category, element_type, unit_cost, quantity, total,
		 status, created_at, validated_at, comment, invoice_id, action_id,
		 bailiff_action_id, bailiff_document_id, hearing_id, investigation_id, unique_charge)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			unit_cost = excluded.unit_cost,
			total = excluded.total,
			status = excluded.status,
			validated_at = excluded.validated_at,
			comment = excluded.comment,
			invoice_id = excluded.invoice_id
	`
	_, err := s.db.ExecContext(ctx, query,
		li.ID, li.CaseID, li.Phase, li.Category, li.ElementType,
		nullAmount(li.UnitCost), li.Quantity, nullAmount(li.Total),
		li.Status, li.CreatedAt.Format(time.RFC3339), nullTime(li.ValidatedAt),
		nullString(li.Comment), nullString(string(li.InvoiceID)),
		nullString(li.Links.ActionID), nullString(li.Links.BailiffActionID),
		nullString(li.Links.BailiffDocumentID), nullString(li.Links.HearingID),
		nullString(li.Links.InvestigationID), uniqueCharge,
	)
	if isUniqueViolation(err, "line_items") {
		return &billing.DuplicateChargeError{
			CaseID: li.CaseID, Phase: li.Phase, Category: li.Category,
		}
	}
	return err
}

const lineItemColumns = `
	id, case_id, phase, category, element_type, unit_cost, quantity, total,
	status, created_at, validated_at, comment, invoice_id, action_id,
	bailiff_action_id, bailiff_document_id, hearing_id, investigation_id
`

func (s *Store) GetLineItem(ctx context.Context, id billing.LineItemID) (*tariff.LineItem, error) {
	query := `SELECT ` + lineItemColumns + ` FROM line_items WHERE id = ?`
	li, err := scanLineItem(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.NotFoundError{Kind: "line item", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return li, nil
}

func (s *Store) ListLineItems(ctx context.Context, caseID billing.CaseID) ([]tariff.LineItem, error) {
	query := `SELECT ` + lineItemColumns + ` FROM line_items WHERE case_id = ? ORDER BY created_at, id`
	return s.queryLineItems(ctx, query, caseID)
}

func (s *Store) ListLineItemsByInvoice(ctx context.Context, invoiceID billing.InvoiceID) ([]tariff.LineItem, error) {
	query := `SELECT ` + lineItemColumns + ` FROM line_items WHERE invoice_id = ? ORDER BY created_at, id`
	return s.queryLineItems(ctx, query, invoiceID)
}

func (s *Store) queryLineItems(ctx context.Context, query string, arg any) ([]tariff.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tariff.LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *li)
	}
	return out, rows.Err()
}

func scanLineItem(row rowScanner) (*tariff.LineItem, error) {
	var li tariff.LineItem
	var createdAt string
	var elementType, unitCost, total, validatedAt, comment, invoiceID sql.NullString
	var actionID, bailiffActionID, bailiffDocumentID, hearingID, investigationID sql.NullString
	if err := row.Scan(&li.ID, &li.CaseID, &li.Phase, &li.Category, &elementType,
		&unitCost, &li.Quantity, &total, &li.Status, &createdAt, &validatedAt,
		&comment, &invoiceID, &actionID, &bailiffActionID, &bailiffDocumentID,
		&hearingID, &investigationID); err != nil {
		return nil, err
	}
	li.ElementType = elementType.String
	li.Comment = comment.String
	li.InvoiceID = billing.InvoiceID(invoiceID.String)
	li.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if unitCost.Valid {
		a := parseAmount(unitCost.String)
		li.UnitCost = &a
	}
	if total.Valid {
		a := parseAmount(total.String)
		li.Total = &a
	}
	if validatedAt.Valid {
		t, _ := time.Parse(time.RFC3339, validatedAt.String)
		li.ValidatedAt = &t
	}
	li.Links = tariff.EventLinks{
		ActionID:          actionID.String,
		BailiffActionID:   bailiffActionID.String,
		BailiffDocumentID: bailiffDocumentID.String,
		HearingID:         hearingID.String,
		InvestigationID:   investigationID.String,
	}
	return &li, nil
}

// =============================================================================
// INVOICES (invoicing.InvoiceStore, invoicing.SequenceStore)
// =============================================================================

func (s *Store) SaveInvoice(ctx context.Context, inv invoicing.Invoice) error {
	query := `
		INSERT INTO invoices
		(id, number, case_id, period_start, period_end, issue_date, due_date,
		 amount_excl, vat_rate, amount_incl, status, sent, reminder_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			sent = excluded.sent,
			reminder_sent = excluded.reminder_sent
	`
	_, err := s.db.ExecContext(ctx, query,
		inv.ID, inv.Number, inv.CaseID,
		nullTimeValue(inv.PeriodStart), nullTimeValue(inv.PeriodEnd),
		inv.IssueDate.Format(time.RFC3339), inv.DueDate.Format(time.RFC3339),
		inv.AmountExcl.Value.String(), inv.VATRate.String(), inv.AmountIncl.Value.String(),
		inv.Status, inv.Sent, inv.ReminderSent,
	)
	return err
}

const invoiceColumns = `
	id, number, case_id, period_start, period_end, issue_date, due_date,
	amount_excl, vat_rate, amount_incl, status, sent, reminder_sent
`

func (s *Store) GetInvoice(ctx context.Context, id billing.InvoiceID) (*invoicing.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.NotFoundError{Kind: "invoice", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Store) GetInvoiceByNumber(ctx context.Context, number string) (*invoicing.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE number = ?`
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, query, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.NotFoundError{Kind: "invoice", ID: number}
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Store) ListInvoicesByCase(ctx context.Context, caseID billing.CaseID) ([]invoicing.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE case_id = ? ORDER BY number`
	return s.queryInvoices(ctx, query, caseID)
}

func (s *Store) ListInvoicesByStatus(ctx context.Context, status invoicing.InvoiceStatus) ([]invoicing.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE status = ? ORDER BY number`
	return s.queryInvoices(ctx, query, status)
}

func (s *Store) queryInvoices(ctx context.Context, query string, arg any) ([]invoicing.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []invoicing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func scanInvoice(row rowScanner) (*invoicing.Invoice, error) {
	var inv invoicing.Invoice
	var issueDate, dueDate, amountExcl, vatRate, amountIncl string
	var periodStart, periodEnd sql.NullString
	if err := row.Scan(&inv.ID, &inv.Number, &inv.CaseID, &periodStart, &periodEnd,
		&issueDate, &dueDate, &amountExcl, &vatRate, &amountIncl,
		&inv.Status, &inv.Sent, &inv.ReminderSent); err != nil {
		return nil, err
	}
	if periodStart.Valid {
		inv.PeriodStart, _ = time.Parse(time.RFC3339, periodStart.String)
	}
	if periodEnd.Valid {
		inv.PeriodEnd, _ = time.Parse(time.RFC3339, periodEnd.String)
	}
	inv.IssueDate, _ = time.Parse(time.RFC3339, issueDate)
	inv.DueDate, _ = time.Parse(time.RFC3339, dueDate)
	inv.AmountExcl = parseAmount(amountExcl)
	inv.AmountIncl = parseAmount(amountIncl)
	inv.VATRate = billing.MustParseDecimal(vatRate)
	return &inv, nil
}

// NextInvoiceSequence atomically allocates the next number for a year via an
// UPSERT on the counter row. No two callers can receive the same value.
func (s *Store) NextInvoiceSequence(ctx context.Context, year int) (int, error) {
	query := `
		INSERT INTO invoice_counters (year, seq) VALUES (?, 1)
		ON CONFLICT(year) DO UPDATE SET seq = seq + 1
		RETURNING seq
	`
	var seq int
	if err := s.db.QueryRowContext(ctx, query, year).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// =============================================================================
// PAYMENTS (invoicing.PaymentStore)
// =============================================================================

func (s *Store) SavePayment(ctx context.Context, p invoicing.Payment) error {
	query := `
		INSERT INTO payments
		(id, invoice_id, date, amount, method, reference, status, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			comment = excluded.comment
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.InvoiceID, p.Date.Format(time.RFC3339),
		p.Amount.Value.String(), p.Method, nullString(p.Reference),
		p.Status, nullString(p.Comment), p.CreatedAt.Format(time.RFC3339),
	)
	return err
}

const paymentColumns = `id, invoice_id, date, amount, method, reference, status, comment, created_at`

func (s *Store) GetPayment(ctx context.Context, id billing.PaymentID) (*invoicing.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`
	p, err := scanPayment(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.NotFoundError{Kind: "payment", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListPaymentsByInvoice(ctx context.Context, invoiceID billing.InvoiceID) ([]invoicing.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE invoice_id = ? ORDER BY date, id`
	return s.queryPayments(ctx, query, invoiceID)
}

func (s *Store) ListPaymentsByStatus(ctx context.Context, status invoicing.PaymentStatus) ([]invoicing.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE status = ? ORDER BY date, id`
	return s.queryPayments(ctx, query, status)
}

func (s *Store) queryPayments(ctx context.Context, query string, arg any) ([]invoicing.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []invoicing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPayment(row rowScanner) (*invoicing.Payment, error) {
	var p invoicing.Payment
	var date, amount, createdAt string
	var reference, comment sql.NullString
	if err := row.Scan(&p.ID, &p.InvoiceID, &date, &amount, &p.Method,
		&reference, &p.Status, &comment, &createdAt); err != nil {
		return nil, err
	}
	p.Date, _ = time.Parse(time.RFC3339, date)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.Amount = parseAmount(amount)
	p.Reference = reference.String
	p.Comment = comment.String
	return &p, nil
}

// =============================================================================
// COST ENTRIES (costflow.EntryStore)
// =============================================================================

func (s *Store) SaveCostEntry(ctx context.Context, e costflow.CostEntry) error {
	query := `
		INSERT INTO cost_entries
		(id, case_id, phase, category, quantity, unit_rate, amount, status, date,
		 justification_url, comment, action_id, investigation_id, hearing_id, lawyer_id, bailiff_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			comment = excluded.comment
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.CaseID, e.Phase, nullString(e.Category), e.Quantity,
		e.UnitRate.Value.String(), e.Amount.Value.String(), e.Status,
		e.Date.Format(time.RFC3339),
		nullString(e.JustificationURL), nullString(e.Comment),
		nullString(e.Links.ActionID), nullString(e.Links.InvestigationID),
		nullString(e.Links.HearingID), nullString(e.Links.LawyerID),
		nullString(e.Links.BailiffID),
	)
	return err
}

func (s *Store) GetCostEntry(ctx context.Context, id billing.CostEntryID) (*costflow.CostEntry, error) {
	query := `
		SELECT id, case_id, phase, category, quantity, unit_rate, amount, status, date,
		       justification_url, comment, action_id, investigation_id, hearing_id, lawyer_id, bailiff_id
		FROM cost_entries WHERE id = ?
	`
	e, err := scanCostEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.NotFoundError{Kind: "cost entry", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) ListCostEntries(ctx context.Context, caseID billing.CaseID) ([]costflow.CostEntry, error) {
	query := `
		SELECT id, case_id, phase, category, quantity, unit_rate, amount, status, date,
		       justification_url, comment, action_id, investigation_id, hearing_id, lawyer_id, bailiff_id
		FROM cost_entries WHERE case_id = ? ORDER BY date, id
	`
	rows, err := s.db.QueryContext(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []costflow.CostEntry
	for rows.Next() {
		e, err := scanCostEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanCostEntry(row rowScanner) (*costflow.CostEntry, error) {
	var e costflow.CostEntry
	var rate, amount, date string
	var category, justification, comment sql.NullString
	var actionID, investigationID, hearingID, lawyerID, bailiffID sql.NullString
	if err := row.Scan(&e.ID, &e.CaseID, &e.Phase, &category, &e.Quantity,
		&rate, &amount, &e.Status, &date, &justification, &comment,
		&actionID, &investigationID, &hearingID, &lawyerID, &bailiffID); err != nil {
		return nil, err
	}
	e.Category = category.String
	e.UnitRate = parseAmount(rate)
	e.Amount = parseAmount(amount)
	e.Date, _ = time.Parse(time.RFC3339, date)
	e.JustificationURL = justification.String
	e.Comment = comment.String
	e.Links = costflow.EntryLinks{
		ActionID:        actionID.String,
		InvestigationID: investigationID.String,
		HearingID:       hearingID.String,
		LawyerID:        lawyerID.String,
		BailiffID:       bailiffID.String,
	}
	return &e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func parseAmount(s string) billing.Amount {
	return billing.Amount{Value: billing.MustParseDecimal(s)}
}

func nullAmount(a *billing.Amount) any {
	if a == nil {
		return nil
	}
	return a.Value.String()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullTimeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

func isUniqueViolation(err error, table string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, table)
}
