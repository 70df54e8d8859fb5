package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// SendLogHeader is the column row of the CSV send log.
var SendLogHeader = []string{
	"send_id", "lead_id", "contact_id", "email", "variant", "status",
	"sent_at", "failed_at", "last_error", "provider_message_id", "opened_at", "clicks",
}

func stamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// SendLogRecords flattens rows for CSV output in SendLogHeader order.
func SendLogRecords(rows []SendLogRow) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{
			r.SendID, r.LeadID, r.ContactID, r.Email, r.Variant, r.Status,
			stamp(r.SentAt), stamp(r.FailedAt), r.LastError, r.ProviderMessageID,
			stamp(r.OpenedAt), strconv.Itoa(r.Clicks),
		}
	}
	return out
}

// WriteCSV writes the header and rows to w.
func WriteCSV(w io.Writer, rows []SendLogRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SendLogHeader); err != nil {
		return err
	}
	if err := cw.WriteAll(SendLogRecords(rows)); err != nil {
		return err
	}
	return cw.Error()
}
