package extract

import (
	"testing"
	"time"
)

func TestLocalTime(t *testing.T) {
	e := New(Options{})

	tests := []struct {
		name     string
		raw      string
		wantOK   bool
		wantDate string
		wantTime string
	}{
		{
			name:     "utc marker shifts into local zone",
			raw:      "2024-03-10T10:00:00Z",
			wantOK:   true,
			wantDate: "2024-03-10",
			wantTime: "15:30:00",
		},
		{
			name:     "utc marker near midnight rolls the date",
			raw:      "2024-12-31T20:00:00Z",
			wantOK:   true,
			wantDate: "2025-01-01",
			wantTime: "01:30:00",
		},
		{
			name:     "explicit numeric offset is kept as written",
			raw:      "Sun, 10 Mar 2024 20:45:10 +0530",
			wantOK:   true,
			wantDate: "2024-03-10",
			wantTime: "20:45:10",
		},
		{
			name:     "foreign offset is not shifted",
			raw:      "2024-03-10T10:00:00+01:00",
			wantOK:   true,
			wantDate: "2024-03-10",
			wantTime: "10:00:00",
		},
		{
			name:     "bare timestamp is read as utc",
			raw:      "2024-12-31 20:00:00",
			wantOK:   true,
			wantDate: "2025-01-01",
			wantTime: "01:30:00",
		},
		{
			name:     "named zone normalizes through utc",
			raw:      "Mon, 15 Jan 2024 14:30:45 GMT",
			wantOK:   true,
			wantDate: "2024-01-15",
			wantTime: "20:00:45",
		},
		{
			name:   "garbage",
			raw:    "yesterday evening",
			wantOK: false,
		},
		{
			name:   "empty",
			raw:    "",
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := e.localTime(tc.raw)
			if ok != tc.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if date := got.Format("2006-01-02"); date != tc.wantDate {
				t.Errorf("date: got %q, want %q", date, tc.wantDate)
			}
			if clock := got.Format("15:04:05"); clock != tc.wantTime {
				t.Errorf("time: got %q, want %q", clock, tc.wantTime)
			}
		})
	}
}

func TestLocalTimeCustomLocation(t *testing.T) {
	e := New(Options{Location: time.FixedZone("UTC+00:00", 0)})

	got, ok := e.localTime("2024-03-10T10:00:00Z")
	if !ok {
		t.Fatalf("localTime failed for a valid timestamp")
	}
	if clock := got.Format("15:04:05"); clock != "10:00:00" {
		t.Errorf("time: got %q, want %q", clock, "10:00:00")
	}
}
