// Package export flattens ledger records into rows and writes them to CSV or
// an aligned text report.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"civicledger/internal/ledger/models"
)

// TimestampLayout is RFC 3339 with millisecond precision, always UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ReportTitle heads every text report.
const ReportTitle = "Civic Engagement Ledger"

var (
	CSVHeader    = []string{"subjectId", "voteType", "region", "timestamp", "receiptHash", "voterHash", "voterAddress"}
	ReportHeader = []string{"subjectId", "voteType", "region", "timestamp", "receiptHash"}
)

// Sink receives a header and the rows below it.
type Sink interface {
	WriteRows(header []string, rows [][]string) error
}

func formatTimestamp(rec *models.VoteRecord) string {
	return rec.Time().Format(TimestampLayout)
}

// CSVRows projects records onto CSVHeader.
func CSVRows(records []*models.VoteRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.SubjectID,
			string(r.VoteType),
			r.Region,
			formatTimestamp(r),
			r.ReceiptHash,
			r.VoterHash,
			r.VoterAddress,
		})
	}
	return rows
}

// ReportRows projects records onto ReportHeader.
func ReportRows(records []*models.VoteRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.SubjectID,
			string(r.VoteType),
			r.Region,
			formatTimestamp(r),
			r.ReceiptHash,
		})
	}
	return rows
}

// CSVSink writes RFC 4180 CSV.
type CSVSink struct {
	w io.Writer
}

func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: w}
}

func (s *CSVSink) WriteRows(header []string, rows [][]string) error {
	cw := csv.NewWriter(s.w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

// ReadCSV parses CSV written by CSVSink and returns the header and rows.
func ReadCSV(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	all, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}

// ReportSink writes a titled, column-aligned plain-text table.
type ReportSink struct {
	w   io.Writer
	now func() time.Time
}

func NewReportSink(w io.Writer, now func() time.Time) *ReportSink {
	if now == nil {
		now = time.Now
	}
	return &ReportSink{w: w, now: now}
}

func (s *ReportSink) WriteRows(header []string, rows [][]string) error {
	if _, err := fmt.Fprintf(s.w, "%s\nGenerated %s, %d records\n\n",
		ReportTitle, s.now().UTC().Format(TimestampLayout), len(rows)); err != nil {
		return fmt.Errorf("write report title: %w", err)
	}
	tw := tabwriter.NewWriter(s.w, 0, 0, 2, ' ', 0)
	if err := writeTabRow(tw, header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writeTabRow(tw, row); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}

// writeTabRow replaces tabs and newlines inside cells so they cannot break
// the column layout.
func writeTabRow(w io.Writer, cells []string) error {
	for i, cell := range cells {
		sep := "\t"
		if i == len(cells)-1 {
			sep = "\n"
		}
		if _, err := io.WriteString(w, sanitizeCell(cell)+sep); err != nil {
			return fmt.Errorf("write report row: %w", err)
		}
	}
	return nil
}

func sanitizeCell(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r == '\t' || r == '\n' || r == '\r' {
			out[i] = ' '
		}
	}
	return string(out)
}
