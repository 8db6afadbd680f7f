package extract

import (
	"strings"
	"time"
)

// Timestamp layouts seen across Gmail internal dates and raw RFC 5322 Date
// headers, grouped by how much zone information they carry.
var (
	// offsetLayouts carry an explicit numeric offset. A time parsed from one
	// of these is already local to its sender and is kept as written, unless
	// the raw string used the "Z" shorthand, which marks UTC.
	offsetLayouts = []string{
		time.RFC3339,
		time.RFC1123Z,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
		"2 Jan 2006 15:04:05 -0700",
		"2006-01-02 15:04:05 -0700",
		time.RFC822Z,
	}

	// namedZoneLayouts carry an abbreviation such as GMT. Go resolves only a
	// handful of them, so these are normalized through UTC.
	namedZoneLayouts = []string{
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 MST",
		time.RFC822,
	}

	// bareLayouts carry no zone at all and are read as UTC.
	bareLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"Mon, 2 Jan 2006 15:04:05",
		"2 Jan 2006 15:04:05",
	}
)

// localTime parses a raw message timestamp and resolves it to the configured
// location. UTC-marked and zone-less timestamps are shifted into the target
// zone; a timestamp written with its own numeric offset is trusted and its
// wall clock is preserved.
func (e *Extractor) localTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range offsetLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		if strings.HasSuffix(raw, "Z") {
			return t.In(e.loc), true
		}
		return t, true
	}
	for _, layout := range namedZoneLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().In(e.loc), true
		}
	}
	for _, layout := range bareLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.In(e.loc), true
		}
	}
	return time.Time{}, false
}
