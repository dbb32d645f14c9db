package query

import (
	"strings"

	"civicledger/internal/ledger/models"
)

// SubjectTally is one subject's counts.
type SubjectTally struct {
	SubjectID string `json:"subject_id"`
	models.Tally
}

// TallyBySubject counts votes per subject in a single pass.
func TallyBySubject(records []*models.VoteRecord) map[string]models.Tally {
	out := make(map[string]models.Tally)
	for _, rec := range records {
		t := out[rec.SubjectID]
		t.Add(rec.VoteType)
		out[rec.SubjectID] = t
	}
	return out
}

// Tallies is TallyBySubject ordered by each subject's first appearance in
// records.
func Tallies(records []*models.VoteRecord) []SubjectTally {
	pos := make(map[string]int)
	var out []SubjectTally
	for _, rec := range records {
		i, ok := pos[rec.SubjectID]
		if !ok {
			i = len(out)
			pos[rec.SubjectID] = i
			out = append(out, SubjectTally{SubjectID: rec.SubjectID})
		}
		out[i].Add(rec.VoteType)
	}
	return out
}

// Summary is the dashboard headline for a set of records.
type Summary struct {
	Total    int `json:"total"`
	Yes      int `json:"yes"`
	No       int `json:"no"`
	Abstain  int `json:"abstain"`
	Subjects int `json:"subjects"`
	Regions  int `json:"regions"`
}

// Summarize totals records by vote type and counts distinct subjects and
// regions. Regions compare case-insensitively; records without one are not
// counted as a region.
func Summarize(records []*models.VoteRecord) Summary {
	var (
		tally    models.Tally
		subjects = make(map[string]struct{})
		regions  = make(map[string]struct{})
	)
	for _, rec := range records {
		tally.Add(rec.VoteType)
		subjects[rec.SubjectID] = struct{}{}
		if r := strings.ToLower(strings.TrimSpace(rec.Region)); r != "" {
			regions[r] = struct{}{}
		}
	}
	return Summary{
		Total:    tally.Total(),
		Yes:      tally.Yes,
		No:       tally.No,
		Abstain:  tally.Abstain,
		Subjects: len(subjects),
		Regions:  len(regions),
	}
}
