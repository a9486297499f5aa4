package postgres

// Constraint names from migrations/001_init.sql. Unique violations are
// mapped to domain errors by constraint, not by message text.
const (
	constraintRunSlot        = "recurring_runs_rule_slot_key"
	constraintDocumentNumber = "documents_owner_number_key"
)

const ruleColumns = `
    id, owner_id, name, source_document_id, customer_id,
    frequency, day_of_month, interval_days,
    auto_send, is_active, next_run_at, last_run_at, occurrences_count,
    end_date, max_occurrences, created_at, updated_at`

const queryInsertRule = `
INSERT INTO recurring_rules (` + ruleColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`

const queryGetRule = `
SELECT` + ruleColumns + `
FROM recurring_rules
WHERE id = $1 AND owner_id = $2
`

const queryListRules = `
SELECT` + ruleColumns + `
FROM recurring_rules
WHERE owner_id = $1
ORDER BY created_at DESC
`

const queryDeleteRule = `
DELETE FROM recurring_rules
WHERE id = $1 AND owner_id = $2
RETURNING id
`

// The partial index recurring_rules_due_idx serves both due queries. The
// After variant resumes a cycle past the last rule of the previous page.
const queryGetDueRules = `
SELECT` + ruleColumns + `
FROM recurring_rules
WHERE is_active = true
  AND next_run_at <= $1
ORDER BY next_run_at ASC, id ASC
LIMIT $2
`

const queryGetDueRulesAfter = `
SELECT` + ruleColumns + `
FROM recurring_rules
WHERE is_active = true
  AND next_run_at <= $1
  AND (next_run_at, id) > ($2, $3)
ORDER BY next_run_at ASC, id ASC
LIMIT $4
`

// Only the scheduling columns are written on completion, so an edit made
// through the API while the run was in flight keeps its name and flags.
// Completion can deactivate a rule but never reactivates a paused one.
const queryAdvanceRule = `
UPDATE recurring_rules
SET next_run_at = $3, last_run_at = $4, occurrences_count = $5,
    is_active = is_active AND $6, updated_at = $7
WHERE id = $1 AND owner_id = $2
`

const queryLinkSourceDocument = `
UPDATE documents
SET recurring_rule_id = $3, updated_at = now()
WHERE id = $1 AND owner_id = $2
`

const runColumns = `
    id, owner_id, rule_id, scheduled_at, status, attempt,
    started_at, completed_at, created_document_id, send_id, error_message`

const queryInsertRun = `
INSERT INTO recurring_runs (id, owner_id, rule_id, scheduled_at, status, attempt, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// Takes over a slot whose previous attempt failed. Running and completed
// slots are left alone; the row lock serializes concurrent re-claims.
const queryReclaimRun = `
UPDATE recurring_runs
SET status = 'running', attempt = attempt + 1, started_at = $3,
    completed_at = NULL, error_message = ''
WHERE rule_id = $1 AND scheduled_at = $2 AND status = 'failed'
RETURNING` + runColumns + `
`

const queryCompleteRun = `
UPDATE recurring_runs
SET status = $2, completed_at = $3, created_document_id = $4, send_id = $5
WHERE id = $1
`

const queryFailRun = `
UPDATE recurring_runs
SET status = 'failed', error_message = $2, completed_at = $3
WHERE id = $1
`

const queryListRuns = `
SELECT` + runColumns + `
FROM recurring_runs
WHERE rule_id = $1 AND owner_id = $2
ORDER BY scheduled_at DESC
LIMIT $3
`

const queryGetStaleRuns = `
SELECT` + runColumns + `
FROM recurring_runs
WHERE status = 'running'
  AND started_at < $1
ORDER BY started_at ASC
LIMIT $2
`

const queryLinkRunDocument = `
UPDATE recurring_runs
SET created_document_id = $2
WHERE id = $1
`

const documentColumns = `
    id, owner_id, document_type, document_number, date, due_date,
    customer_id, customer_name, template_id, line_items,
    subtotal, btw_amount, total_amount, notes,
    status, pdf_url, storage_path, sent_at, last_sent_email,
    source_document_id, recurring_rule_id, created_at, updated_at`

const queryGetDocument = `
SELECT` + documentColumns + `
FROM documents
WHERE id = $1 AND owner_id = $2
`

const queryInsertDocument = `
INSERT INTO documents (` + documentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
        $15, $16, $17, $18, $19, $20, $21, $22, $23)
`

const queryUpdateDocumentArtifact = `
UPDATE documents
SET pdf_url = $3, storage_path = $4, status = $5, updated_at = now()
WHERE id = $1 AND owner_id = $2
`

const queryMarkDocumentSent = `
UPDATE documents
SET sent_at = $3, last_sent_email = $4, updated_at = now()
WHERE id = $1 AND owner_id = $2
`

const queryGetSettings = `
SELECT
    id, owner_id, company_name,
    invoice_number_format, invoice_number_prefix, invoice_number_next,
    quote_number_format, quote_number_prefix, quote_number_next,
    default_payment_terms_days,
    email_invoice_subject, email_invoice_body,
    email_quote_subject, email_quote_body,
    email_from_name, email_reply_to
FROM company_settings
WHERE owner_id = $1
`

const queryAdvanceInvoiceCounter = `
UPDATE company_settings
SET invoice_number_next = $2 + 1, updated_at = now()
WHERE owner_id = $1 AND invoice_number_next = $2
`

const queryAdvanceQuoteCounter = `
UPDATE company_settings
SET quote_number_next = $2 + 1, updated_at = now()
WHERE owner_id = $1 AND quote_number_next = $2
`

// Creates the settings row with one counter already advanced past 1. The
// remaining columns take their table defaults. A concurrent insert wins
// the conflict and this one reports zero rows.
const queryInsertInvoiceCounter = `
INSERT INTO company_settings (id, owner_id, invoice_number_next)
VALUES ($1, $2, 2)
ON CONFLICT (owner_id) DO NOTHING
`

const queryInsertQuoteCounter = `
INSERT INTO company_settings (id, owner_id, quote_number_next)
VALUES ($1, $2, 2)
ON CONFLICT (owner_id) DO NOTHING
`

const queryGetCustomer = `
SELECT id, owner_id, name, email
FROM customers
WHERE id = $1 AND owner_id = $2
`

const queryGetTemplate = `
SELECT id, owner_id, name, template_json
FROM templates
WHERE id = $1 AND owner_id = $2
`

const queryInsertSend = `
INSERT INTO document_sends (
    id, owner_id, document_id, recipient_email, recipient_name,
    subject, body_text, provider, provider_message_id, delivery_status, sent_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const queryInsertActivity = `
INSERT INTO activity_log (id, owner_id, document_id, entity_type, entity_id, action, detail)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
