package query

import (
	"strings"
	"time"

	"civicledger/internal/ledger/models"
	dErrors "civicledger/pkg/domain-errors"
)

// DateLayout is the calendar-day format accepted for From and To.
const DateLayout = "2006-01-02"

// Filter narrows a ledger listing. Every set field must match (AND). The
// zero Filter matches everything.
type Filter struct {
	// Region is a case-insensitive substring of the record's region.
	Region string

	// From and To are calendar days in UTC, both inclusive.
	From *time.Time
	To   *time.Time

	VoteType models.VoteFilter
}

// ParseFilter builds a Filter from query-string values. Empty values leave
// the dimension unconstrained. A To before From is accepted and matches nothing.
func ParseFilter(region, from, to, voteType string) (Filter, error) {
	f := Filter{Region: strings.TrimSpace(region)}

	var err error
	if f.From, err = parseDay("from", from); err != nil {
		return Filter{}, err
	}
	if f.To, err = parseDay("to", to); err != nil {
		return Filter{}, err
	}
	if f.VoteType, err = models.ParseVoteFilter(voteType); err != nil {
		return Filter{}, err
	}
	return f, nil
}

func parseDay(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	day, err := time.Parse(DateLayout, value)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, field+" must be a date in YYYY-MM-DD format")
	}
	return &day, nil
}

// Matches reports whether rec satisfies every set dimension of f.
func (f Filter) Matches(rec *models.VoteRecord) bool {
	if f.Region != "" {
		if rec.Region == "" || !strings.Contains(strings.ToLower(rec.Region), strings.ToLower(f.Region)) {
			return false
		}
	}
	ts := rec.Timestamp
	if f.From != nil && ts < startOfDay(*f.From).UnixMilli() {
		return false
	}
	if f.To != nil && ts > endOfDay(*f.To).UnixMilli() {
		return false
	}
	return f.VoteType.Matches(rec.VoteType)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// endOfDay is the last millisecond of t's day.
func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Millisecond)
}

// Apply returns the records matching f, preserving order.
func Apply(records []*models.VoteRecord, f Filter) []*models.VoteRecord {
	out := make([]*models.VoteRecord, 0, len(records))
	for _, rec := range records {
		if f.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}
