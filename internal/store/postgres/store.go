package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/djlord-it/easy-invoice/internal/activity"
	"github.com/djlord-it/easy-invoice/internal/api"
	"github.com/djlord-it/easy-invoice/internal/dispatch"
	"github.com/djlord-it/easy-invoice/internal/document"
	"github.com/djlord-it/easy-invoice/internal/domain"
	"github.com/djlord-it/easy-invoice/internal/executor"
	"github.com/djlord-it/easy-invoice/internal/numbering"
	"github.com/djlord-it/easy-invoice/internal/reconciler"
	"github.com/djlord-it/easy-invoice/internal/scheduler"
)

// Store implements every persistence interface of the engine using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
// A positive opTimeout bounds every operation, transactions included.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// PingContext reports whether the database is reachable.
func (s *Store) PingContext(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (domain.RecurringRule, error) {
	var r domain.RecurringRule
	var kind string
	var dayOfMonth, intervalDays *int

	err := row.Scan(
		&r.ID,
		&r.OwnerID,
		&r.Name,
		&r.SourceDocumentID,
		&r.CustomerID,
		&kind,
		&dayOfMonth,
		&intervalDays,
		&r.AutoSend,
		&r.IsActive,
		&r.NextRunAt,
		&r.LastRunAt,
		&r.OccurrencesCount,
		&r.EndDate,
		&r.MaxOccurrences,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return domain.RecurringRule{}, err
	}
	r.Frequency = domain.ParseFrequency(kind, dayOfMonth, intervalDays)
	return r, nil
}

func scanRun(row rowScanner) (domain.RecurringRun, error) {
	var run domain.RecurringRun
	var status string

	err := row.Scan(
		&run.ID,
		&run.OwnerID,
		&run.RuleID,
		&run.ScheduledAt,
		&status,
		&run.Attempt,
		&run.StartedAt,
		&run.CompletedAt,
		&run.DocumentID,
		&run.SendID,
		&run.Error,
	)
	if err != nil {
		return domain.RecurringRun{}, err
	}
	run.Status = domain.RunStatus(status)
	return run, nil
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var d domain.Document
	var docType, status string
	var lineItems []byte

	err := row.Scan(
		&d.ID,
		&d.OwnerID,
		&docType,
		&d.Number,
		&d.IssueDate,
		&d.DueDate,
		&d.CustomerID,
		&d.CustomerName,
		&d.TemplateID,
		&lineItems,
		&d.Subtotal,
		&d.VATAmount,
		&d.TotalAmount,
		&d.Notes,
		&status,
		&d.PDFURL,
		&d.StoragePath,
		&d.SentAt,
		&d.LastSentEmail,
		&d.SourceDocumentID,
		&d.RecurringRuleID,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}
	d.Type = domain.DocumentType(docType)
	d.Status = domain.DocumentStatus(status)
	if len(lineItems) > 0 {
		d.LineItems = json.RawMessage(lineItems)
	}
	return d, nil
}

// uniqueViolation reports whether err is a unique violation of constraint.
func uniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && pqErr.Constraint == constraint
}

// expectOneRow maps an UPDATE that touched nothing to domain.ErrNotFound.
func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// Rules

func (s *Store) CreateRule(ctx context.Context, rule domain.RecurringRule) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	kind, dayOfMonth, intervalDays := domain.FrequencyColumns(rule.Frequency)
	_, err := s.db.ExecContext(ctx, queryInsertRule,
		rule.ID,
		rule.OwnerID,
		rule.Name,
		rule.SourceDocumentID,
		rule.CustomerID,
		kind,
		dayOfMonth,
		intervalDays,
		rule.AutoSend,
		rule.IsActive,
		rule.NextRunAt,
		rule.LastRunAt,
		rule.OccurrencesCount,
		rule.EndDate,
		rule.MaxOccurrences,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	return errors.Wrap(err, "insert rule")
}

func (s *Store) GetRule(ctx context.Context, ownerID, ruleID uuid.UUID) (domain.RecurringRule, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rule, err := scanRule(s.db.QueryRowContext(ctx, queryGetRule, ruleID, ownerID))
	if err != nil {
		return domain.RecurringRule{}, notFound(err)
	}
	return rule, nil
}

// ListRules returns the owner's rules, newest first.
func (s *Store) ListRules(ctx context.Context, ownerID uuid.UUID) ([]domain.RecurringRule, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRules, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list rules")
	}
	defer rows.Close()
	return collectRules(rows)
}

// UpdateRule writes only the columns named by patch and returns the rule as
// stored afterwards. Columns the patch leaves nil keep whatever a
// concurrent completion wrote.
func (s *Store) UpdateRule(ctx context.Context, ownerID, ruleID uuid.UUID, patch domain.RulePatch) (domain.RecurringRule, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	query, args := updateRuleQuery(ownerID, ruleID, patch)
	rule, err := scanRule(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RecurringRule{}, domain.ErrNotFound
		}
		return domain.RecurringRule{}, errors.Wrap(err, "update rule")
	}
	return rule, nil
}

func updateRuleQuery(ownerID, ruleID uuid.UUID, p domain.RulePatch) (string, []any) {
	args := []any{ruleID, ownerID}
	var set []string
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.AutoSend != nil {
		add("auto_send", *p.AutoSend)
	}
	if p.Frequency != nil {
		kind, dayOfMonth, intervalDays := domain.FrequencyColumns(p.Frequency)
		add("frequency", kind)
		add("day_of_month", dayOfMonth)
		add("interval_days", intervalDays)
	}
	if p.NextRunAt != nil {
		add("next_run_at", *p.NextRunAt)
	}
	if p.IsActive != nil {
		add("is_active", *p.IsActive)
	}
	if p.SetEndDate {
		add("end_date", p.EndDate)
	}
	if p.SetMaxOccurrences {
		add("max_occurrences", p.MaxOccurrences)
	}
	add("updated_at", p.UpdatedAt)

	return "UPDATE recurring_rules SET " + strings.Join(set, ", ") +
		" WHERE id = $1 AND owner_id = $2 RETURNING" + ruleColumns, args
}

// DeleteRule removes the rule. Its runs go with it; generated documents
// keep existing with their rule reference cleared.
func (s *Store) DeleteRule(ctx context.Context, ownerID, ruleID uuid.UUID) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var deletedID uuid.UUID
	err := s.db.QueryRowContext(ctx, queryDeleteRule, ruleID, ownerID).Scan(&deletedID)
	return notFound(err)
}

// GetDueRules returns up to limit active rules with next_run_at <= cutoff,
// ordered by (next_run_at, id) and starting after the cursor.
func (s *Store) GetDueRules(ctx context.Context, cutoff time.Time, after domain.RuleCursor, limit int) ([]domain.RecurringRule, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var rows *sql.Rows
	var err error
	if after.IsZero() {
		rows, err = s.db.QueryContext(ctx, queryGetDueRules, cutoff, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, queryGetDueRulesAfter, cutoff, after.NextRunAt, after.ID, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get due rules")
	}
	defer rows.Close()
	return collectRules(rows)
}

func collectRules(rows *sql.Rows) ([]domain.RecurringRule, error) {
	var result []domain.RecurringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) LinkSourceDocument(ctx context.Context, ownerID, documentID, ruleID uuid.UUID) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryLinkSourceDocument, documentID, ownerID, ruleID)
	if err != nil {
		return errors.Wrap(err, "link source document")
	}
	return expectOneRow(res)
}

// Runs

// ClaimRun inserts run for its (rule, scheduled_at) slot. When the slot is
// taken by a failed run, that run is moved back to running with its attempt
// incremented and returned. Any other occupant yields
// domain.ErrAlreadyClaimed.
func (s *Store) ClaimRun(ctx context.Context, run domain.RecurringRun) (domain.RecurringRun, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if run.Attempt == 0 {
		run.Attempt = 1
	}
	_, err := s.db.ExecContext(ctx, queryInsertRun,
		run.ID,
		run.OwnerID,
		run.RuleID,
		run.ScheduledAt,
		string(domain.RunStatusRunning),
		run.Attempt,
		run.StartedAt,
	)
	if err == nil {
		run.Status = domain.RunStatusRunning
		return run, nil
	}
	if !uniqueViolation(err, constraintRunSlot) {
		return domain.RecurringRun{}, errors.Wrap(err, "insert run")
	}

	claimed, err := scanRun(s.db.QueryRowContext(ctx, queryReclaimRun, run.RuleID, run.ScheduledAt, run.StartedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RecurringRun{}, domain.ErrAlreadyClaimed
	}
	if err != nil {
		return domain.RecurringRun{}, errors.Wrap(err, "reclaim run")
	}
	return claimed, nil
}

// CompleteRun stores the advanced rule and the finished run in one
// transaction.
func (s *Store) CompleteRun(ctx context.Context, rule domain.RecurringRule, run domain.RecurringRun) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryAdvanceRule,
		rule.ID,
		rule.OwnerID,
		rule.NextRunAt,
		rule.LastRunAt,
		rule.OccurrencesCount,
		rule.IsActive,
		rule.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "advance rule")
	}

	res, err := tx.ExecContext(ctx, queryCompleteRun,
		run.ID,
		string(run.Status),
		run.CompletedAt,
		run.DocumentID,
		run.SendID,
	)
	if err != nil {
		return errors.Wrap(err, "complete run")
	}
	if err := expectOneRow(res); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) FailRun(ctx context.Context, runID uuid.UUID, message string, at time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryFailRun, runID, domain.TruncateRunError(message), at)
	if err != nil {
		return errors.Wrap(err, "fail run")
	}
	return expectOneRow(res)
}

// ListRuns returns the rule's runs, most recent slot first.
func (s *Store) ListRuns(ctx context.Context, ownerID, ruleID uuid.UUID, limit int) ([]domain.RecurringRun, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRuns, ruleID, ownerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()
	return collectRuns(rows)
}

// GetStaleRuns returns runs stuck in running that started before olderThan,
// oldest first.
func (s *Store) GetStaleRuns(ctx context.Context, olderThan time.Time, limit int) ([]domain.RecurringRun, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetStaleRuns, olderThan, limit)
	if err != nil {
		return nil, errors.Wrap(err, "get stale runs")
	}
	defer rows.Close()
	return collectRuns(rows)
}

func collectRuns(rows *sql.Rows) ([]domain.RecurringRun, error) {
	var result []domain.RecurringRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Documents

func (s *Store) GetDocument(ctx context.Context, ownerID, documentID uuid.UUID) (domain.Document, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	doc, err := scanDocument(s.db.QueryRowContext(ctx, queryGetDocument, documentID, ownerID))
	if err != nil {
		return domain.Document{}, notFound(err)
	}
	return doc, nil
}

// InsertRunDocument stores doc and records it on the run in one transaction.
func (s *Store) InsertRunDocument(ctx context.Context, runID uuid.UUID, doc domain.Document) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	lineItems := []byte(doc.LineItems)
	if len(lineItems) == 0 {
		lineItems = []byte("[]")
	}

	_, err = tx.ExecContext(ctx, queryInsertDocument,
		doc.ID,
		doc.OwnerID,
		string(doc.Type),
		doc.Number,
		doc.IssueDate,
		doc.DueDate,
		doc.CustomerID,
		doc.CustomerName,
		doc.TemplateID,
		lineItems,
		doc.Subtotal,
		doc.VATAmount,
		doc.TotalAmount,
		doc.Notes,
		string(doc.Status),
		doc.PDFURL,
		doc.StoragePath,
		doc.SentAt,
		doc.LastSentEmail,
		doc.SourceDocumentID,
		doc.RecurringRuleID,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		if uniqueViolation(err, constraintDocumentNumber) {
			return domain.ErrDuplicateNumber
		}
		return errors.Wrap(err, "insert document")
	}

	res, err := tx.ExecContext(ctx, queryLinkRunDocument, runID, doc.ID)
	if err != nil {
		return errors.Wrap(err, "link run document")
	}
	if err := expectOneRow(res); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) UpdateDocumentArtifact(ctx context.Context, ownerID, documentID uuid.UUID, art domain.Artifact, status domain.DocumentStatus) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryUpdateDocumentArtifact, documentID, ownerID, art.URL, art.StoragePath, string(status))
	if err != nil {
		return errors.Wrap(err, "update document artifact")
	}
	return expectOneRow(res)
}

func (s *Store) MarkDocumentSent(ctx context.Context, ownerID, documentID uuid.UUID, sentAt time.Time, recipient string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryMarkDocumentSent, documentID, ownerID, sentAt, recipient)
	if err != nil {
		return errors.Wrap(err, "mark document sent")
	}
	return expectOneRow(res)
}

// Settings, customers and templates

// GetSettings returns the owner's settings row, or defaults with
// Exists=false when there is none.
func (s *Store) GetSettings(ctx context.Context, ownerID uuid.UUID) (domain.CompanySettings, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var cs domain.CompanySettings
	err := s.db.QueryRowContext(ctx, queryGetSettings, ownerID).Scan(
		&cs.ID,
		&cs.OwnerID,
		&cs.CompanyName,
		&cs.InvoiceNumberFormat,
		&cs.InvoiceNumberPrefix,
		&cs.InvoiceNumberNext,
		&cs.QuoteNumberFormat,
		&cs.QuoteNumberPrefix,
		&cs.QuoteNumberNext,
		&cs.PaymentTermsDays,
		&cs.EmailInvoiceSubject,
		&cs.EmailInvoiceBody,
		&cs.EmailQuoteSubject,
		&cs.EmailQuoteBody,
		&cs.EmailFromName,
		&cs.EmailReplyTo,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultCompanySettings(ownerID), nil
	}
	if err != nil {
		return domain.CompanySettings{}, errors.Wrap(err, "get settings")
	}
	cs.Exists = true
	return cs, nil
}

// AdvanceCounter moves the (owner, type) counter from `from` to from+1.
// An owner without a settings row has an implicit counter of 1; advancing
// it creates the row.
func (s *Store) AdvanceCounter(ctx context.Context, ownerID uuid.UUID, docType domain.DocumentType, from int) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	update, insert := queryAdvanceInvoiceCounter, queryInsertInvoiceCounter
	if docType == domain.DocumentTypeQuote {
		update, insert = queryAdvanceQuoteCounter, queryInsertQuoteCounter
	}

	res, err := s.db.ExecContext(ctx, update, ownerID, from)
	if err != nil {
		return false, errors.Wrap(err, "advance counter")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 || from != 1 {
		return n > 0, nil
	}

	res, err = s.db.ExecContext(ctx, insert, uuid.New(), ownerID)
	if err != nil {
		return false, errors.Wrap(err, "create settings")
	}
	n, err = res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetCustomer(ctx context.Context, ownerID, customerID uuid.UUID) (domain.Customer, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var c domain.Customer
	err := s.db.QueryRowContext(ctx, queryGetCustomer, customerID, ownerID).Scan(
		&c.ID,
		&c.OwnerID,
		&c.Name,
		&c.Email,
	)
	if err != nil {
		return domain.Customer{}, notFound(err)
	}
	return c, nil
}

func (s *Store) GetTemplate(ctx context.Context, ownerID, templateID uuid.UUID) (domain.Template, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var t domain.Template
	var body []byte
	err := s.db.QueryRowContext(ctx, queryGetTemplate, templateID, ownerID).Scan(
		&t.ID,
		&t.OwnerID,
		&t.Name,
		&body,
	)
	if err != nil {
		return domain.Template{}, notFound(err)
	}
	t.TemplateJSON = json.RawMessage(body)
	return t, nil
}

// Sends and activity

func (s *Store) InsertSend(ctx context.Context, send domain.DocumentSend) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertSend,
		send.ID,
		send.OwnerID,
		send.DocumentID,
		send.RecipientEmail,
		send.RecipientName,
		send.Subject,
		send.BodyText,
		send.Provider,
		send.ProviderMessageID,
		send.DeliveryStatus,
		send.SentAt,
	)
	return errors.Wrap(err, "insert send")
}

func (s *Store) InsertActivity(ctx context.Context, entry domain.ActivityEntry) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return errors.Wrap(err, "marshal activity detail")
	}
	_, err = s.db.ExecContext(ctx, queryInsertActivity,
		entry.ID,
		entry.OwnerID,
		entry.DocumentID,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		detail,
	)
	return errors.Wrap(err, "insert activity")
}

// Compile-time interface assertions
var (
	_ scheduler.Store  = (*Store)(nil)
	_ reconciler.Store = (*Store)(nil)
	_ executor.Store   = (*Store)(nil)
	_ document.Store   = (*Store)(nil)
	_ numbering.Store  = (*Store)(nil)
	_ dispatch.Store   = (*Store)(nil)
	_ activity.Store   = (*Store)(nil)
	_ api.Store        = (*Store)(nil)

	_ api.HealthChecker = (*Store)(nil)
)
