// Package export renders a user's stored transactions for download, either
// as CSV for spreadsheets or as indented JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/paisatrail/paisatrail/pkg/api"
)

// csvHeaders is the fixed CSV column order.
var csvHeaders = []string{"Date", "Time", "Name", "Amount", "Kind", "Tag", "Description", "MessageID"}

// CSV writes transactions as CSV with a header row.
func CSV(w io.Writer, transactions []*api.StoredTransaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeaders); err != nil {
		return fmt.Errorf("writing csv headers: %w", err)
	}

	for _, t := range transactions {
		record := []string{
			t.Date,
			t.Time,
			t.Name,
			strconv.FormatFloat(t.Amount, 'f', 2, 64),
			string(t.Kind),
			t.Tag,
			t.Description,
			t.MessageID,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

// JSON writes transactions as an indented JSON array. An empty set renders
// as [] rather than null.
func JSON(w io.Writer, transactions []*api.StoredTransaction) error {
	if transactions == nil {
		transactions = []*api.StoredTransaction{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(transactions); err != nil {
		return fmt.Errorf("encoding transactions: %w", err)
	}
	return nil
}
