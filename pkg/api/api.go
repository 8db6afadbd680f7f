// Package api defines the core interfaces and data structures for paisatrail.
package api

import (
	"context"
	"errors"
	"time"
)

// Kind classifies a transaction as money leaving or entering the account.
type Kind string

const (
	KindDebit   Kind = "debit"
	KindCredit  Kind = "credit"
	KindUnknown Kind = "unknown"
)

// UnknownMerchant is the placeholder emitted when no counterparty name
// survives extraction and cleaning. Transactions carrying it are rejected
// before storage.
const UnknownMerchant = "Unknown Merchant"

// RawMessage is one mail message as returned by a Source. It is ephemeral:
// fetched, extracted from, and discarded.
type RawMessage struct {
	// ID is the mailbox's stable, never-reused message id. It is the
	// dedup and idempotence key for everything downstream.
	ID       string `json:"id"`
	ThreadID string `json:"thread_id,omitempty"`
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Subject  string `json:"subject"`
	// ReceivedAt is the message timestamp as a string. It may carry an
	// explicit numeric UTC offset, end in a "Z" marker, or carry no
	// timezone information at all; the extractor normalizes it.
	ReceivedAt string `json:"received_at"`
	// BodyText is the decoded plain-text body, assembled from the first
	// text part of a multi-part message or the top-level body.
	BodyText string `json:"body_text"`
}

// Transaction is one extracted bank transaction, keyed by the message that
// reported it.
type Transaction struct {
	MessageID string  `json:"message_id"`
	Amount    float64 `json:"amount"`
	Name      string  `json:"name"`
	// Date is the local civil calendar date, YYYY-MM-DD.
	Date string `json:"date"`
	// Time is the local civil time of day, zero-padded HH:MM:SS.
	Time string `json:"time"`
	Kind Kind   `json:"kind"`
}

// StoredTransaction is a persisted transaction row, including user-editable
// fields and storage metadata.
type StoredTransaction struct {
	ID int64 `json:"id"`
	Transaction
	Description string    `json:"description"`
	Tag         string    `json:"tag,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Query is a mailbox search request.
type Query struct {
	// Raw is the search expression in the mailbox's query language.
	Raw string
	// MaxResults caps how many messages one fetch may return. Zero means
	// the source's default.
	MaxResults int64
}

// Source fetches raw messages matching a query and sends them to out in
// mailbox order. Implementations close out when done or on error.
type Source interface {
	Fetch(ctx context.Context, q Query, out chan<- *RawMessage) error
}

// ErrUnknownTag is returned when a tag outside the fixed vocabulary is used.
var ErrUnknownTag = errors.New("unknown tag")

// Tags is the fixed category vocabulary users may assign to a transaction.
var Tags = []string{
	"food",
	"shopping",
	"travel",
	"bills",
	"entertainment",
	"health",
	"transfer",
	"other",
}

// ValidTag reports whether tag belongs to the fixed vocabulary. The empty
// string is valid and clears the tag.
func ValidTag(tag string) bool {
	if tag == "" {
		return true
	}
	for _, t := range Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ItemStatus is the outcome of processing a single message in a run.
type ItemStatus string

const (
	ItemInserted  ItemStatus = "inserted"
	ItemDuplicate ItemStatus = "duplicate"
	ItemSkipped   ItemStatus = "skipped"
	ItemFailed    ItemStatus = "failed"
)

// ItemResult records what happened to one message during a run.
type ItemResult struct {
	MessageID string     `json:"message_id"`
	Status    ItemStatus `json:"status"`
	Reason    string     `json:"reason,omitempty"`
}

// Report summarizes one user's fetch-extract-write cycle. Per-item failures
// never abort the run; they are recorded here instead.
type Report struct {
	RunID      string       `json:"run_id"`
	User       string       `json:"user"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Fetched    int          `json:"fetched"`
	New        int          `json:"new"`
	Duplicates int          `json:"duplicates"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	Items      []ItemResult `json:"items,omitempty"`
}

// Add records one item result and bumps the matching counter.
func (r *Report) Add(messageID string, status ItemStatus, reason string) {
	r.Items = append(r.Items, ItemResult{MessageID: messageID, Status: status, Reason: reason})
	switch status {
	case ItemInserted:
		r.New++
	case ItemDuplicate:
		r.Duplicates++
	case ItemSkipped:
		r.Skipped++
	case ItemFailed:
		r.Failed++
	}
}

// TagTotal is one row of a user's tag breakdown.
type TagTotal struct {
	Tag   string  `json:"tag"`
	Count int64   `json:"count"`
	Total float64 `json:"total"`
}

// MonthTotal is one month of debit and credit totals, keyed "YYYY-MM".
type MonthTotal struct {
	Month  string  `json:"month"`
	Debit  float64 `json:"debit"`
	Credit float64 `json:"credit"`
}

// Overview aggregates a user's stored transactions for dashboards.
type Overview struct {
	Count       int64        `json:"count"`
	DebitTotal  float64      `json:"debit_total"`
	CreditTotal float64      `json:"credit_total"`
	ByTag       []TagTotal   `json:"by_tag,omitempty"`
	ByMonth     []MonthTotal `json:"by_month,omitempty"`
}
