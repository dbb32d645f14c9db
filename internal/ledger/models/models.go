package models

import (
	"strings"
	"time"

	dErrors "civicledger/pkg/domain-errors"
)

// VoteType is the choice a citizen records on a subject.
// Invariant: the value is one of VoteYes, VoteNo or VoteAbstain.
//
// Construct via ParseVoteType at trust boundaries; direct casting bypasses
// validation.
type VoteType string

const (
	VoteYes     VoteType = "yes"
	VoteNo      VoteType = "no"
	VoteAbstain VoteType = "abstain"
)

var validVoteTypes = map[VoteType]bool{
	VoteYes:     true,
	VoteNo:      true,
	VoteAbstain: true,
}

// VoteTypes lists the enumeration in display order.
var VoteTypes = []VoteType{VoteYes, VoteNo, VoteAbstain}

// ParseVoteType constructs a VoteType from external input. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParseVoteType(s string) (VoteType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "vote_type is required")
	}
	v := VoteType(s)
	if !v.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "vote_type must be one of yes, no, abstain")
	}
	return v, nil
}

// IsValid checks the value against the enumeration.
func (v VoteType) IsValid() bool {
	return validVoteTypes[v]
}

func (v VoteType) String() string {
	return string(v)
}

// VoteRecord is one entry in the append-only ledger. Records are never
// mutated after the pipeline constructs them.
type VoteRecord struct {
	ID           string   `json:"id"`
	SubjectID    string   `json:"subjectId"`
	VoteType     VoteType `json:"voteType"`
	VoterHash    string   `json:"voterHash"`
	Region       string   `json:"region,omitempty"`
	Timestamp    int64    `json:"timestamp"` // unix milliseconds
	ReceiptHash  string   `json:"receiptHash"`
	VoterAddress string   `json:"voterAddress,omitempty"`
}

// Time returns the record's creation instant in UTC.
func (r *VoteRecord) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// Valid reports whether a decoded record satisfies the ledger invariants.
// Stores use it to skip entries that did not survive persistence intact.
func (r *VoteRecord) Valid() bool {
	return r != nil && r.ID != "" && r.SubjectID != "" && r.VoterHash != "" && r.VoteType.IsValid()
}

// Key is the uniqueness key of the ledger: one vote per subject per identity.
func Key(subjectID, voterHash string) string {
	return subjectID + "|" + voterHash
}

// Intent is the payload a voter signs before a record is written. Field
// order is fixed so the serialized form is canonical.
type Intent struct {
	SubjectID    string   `json:"subjectId"`
	VoteType     VoteType `json:"voteType"`
	Timestamp    int64    `json:"timestamp"`
	IdentityHash string   `json:"identityHash"`
}

// Tally counts votes for a single subject.
type Tally struct {
	Yes     int `json:"yes"`
	No      int `json:"no"`
	Abstain int `json:"abstain"`
}

// Add increments the bucket for v.
func (t *Tally) Add(v VoteType) {
	switch v {
	case VoteYes:
		t.Yes++
	case VoteNo:
		t.No++
	case VoteAbstain:
		t.Abstain++
	}
}

// Total returns the number of counted votes.
func (t Tally) Total() int {
	return t.Yes + t.No + t.Abstain
}

// VoteFilter selects records by vote type. The zero value and VoteFilterAll
// match every record.
type VoteFilter string

const VoteFilterAll VoteFilter = "all"

// ParseVoteFilter accepts "all" or a vote type. Empty input means all.
func ParseVoteFilter(s string) (VoteFilter, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == string(VoteFilterAll) {
		return VoteFilterAll, nil
	}
	v, err := ParseVoteType(s)
	if err != nil {
		return "", dErrors.New(dErrors.CodeValidation, "vote_type must be one of all, yes, no, abstain")
	}
	return VoteFilter(v), nil
}

// Matches reports whether v passes the filter.
func (f VoteFilter) Matches(v VoteType) bool {
	return f == "" || f == VoteFilterAll || VoteType(f) == v
}
