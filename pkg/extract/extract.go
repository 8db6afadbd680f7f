// Package extract turns raw bank notification emails into structured
// transactions. Extraction is pure pattern matching over the subject and
// body text: ordered regex tables for the amount and counterparty, fixed
// vocabularies for the debit/credit label, and a cleaning pass that reduces
// captured names to something a human would recognize. The same input always
// produces the same output.
package extract

import (
	"time"

	"github.com/paisatrail/paisatrail/pkg/api"
)

// DefaultLocation is the zone transactions resolve to when no explicit
// location is configured, UTC+05:30.
var DefaultLocation = time.FixedZone("UTC+05:30", 330*60)

// Options configures an Extractor.
type Options struct {
	// Location is the zone mails are resolved into; nil means DefaultLocation.
	Location *time.Location

	// Corrections maps raw merchant fragments to canonical names and
	// replaces the built-in table when non-nil.
	Corrections map[string]string
}

// Extractor extracts transactions from raw messages. It is immutable after
// construction and safe for concurrent use.
type Extractor struct {
	loc         *time.Location
	corrections []correction
}

// New builds an Extractor from opts.
func New(opts Options) *Extractor {
	loc := opts.Location
	if loc == nil {
		loc = DefaultLocation
	}
	table := opts.Corrections
	if table == nil {
		table = defaultCorrections
	}
	return &Extractor{
		loc:         loc,
		corrections: sortCorrections(table),
	}
}

// Extract runs the full pipeline over one message and reports whether a
// transaction could be extracted. Rejected messages are skipped, never
// fatal: a panic from a pathological input is recovered and treated as a
// rejection of that one message.
func (e *Extractor) Extract(msg *api.RawMessage) (tx *api.Transaction, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			tx, ok = nil, false
		}
	}()

	local, ok := e.localTime(msg.ReceivedAt)
	if !ok {
		return nil, false
	}

	if !Eligible(msg.Subject, msg.BodyText) {
		return nil, false
	}

	text := msg.Subject + "\n" + msg.BodyText
	amount := extractAmount(text)
	kind := classifyKind(text, msg.Subject)

	name := findName(text)
	if name == "" {
		name = findFallbackName(text, msg.Subject, kind)
	}
	name = e.clean(name)

	// The authoritative gate. The eligibility vocabulary ran once before the
	// pipeline; it runs again here so a caller that skipped the pre-check
	// still cannot store an ineligible message.
	if amount == 0 || name == api.UnknownMerchant || !Eligible(msg.Subject, msg.BodyText) {
		return nil, false
	}

	return &api.Transaction{
		MessageID: msg.ID,
		Amount:    amount,
		Name:      name,
		Date:      local.Format("2006-01-02"),
		Time:      local.Format("15:04:05"),
		Kind:      kind,
	}, true
}
