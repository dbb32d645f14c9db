// Package events publishes appended ledger records to downstream consumers.
// Publishing is best effort: the ledger is the source of truth and a failed
// publish never rolls back a vote.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"civicledger/internal/ledger/models"
)

// TypeVoteRecorded is the event type for an appended record.
const TypeVoteRecorded = "vote.recorded"

// Event is the wire form of an appended record. The voter address is left
// out; consumers get the pseudonymous hash only.
type Event struct {
	Type        string          `json:"type"`
	RecordID    string          `json:"recordId"`
	SubjectID   string          `json:"subjectId"`
	VoteType    models.VoteType `json:"voteType"`
	Region      string          `json:"region,omitempty"`
	Timestamp   int64           `json:"timestamp"`
	ReceiptHash string          `json:"receiptHash"`
	VoterHash   string          `json:"voterHash"`
	RequestID   string          `json:"requestId,omitempty"`
}

// FromRecord builds the event for rec.
func FromRecord(rec *models.VoteRecord, requestID string) Event {
	return Event{
		Type:        TypeVoteRecorded,
		RecordID:    rec.ID,
		SubjectID:   rec.SubjectID,
		VoteType:    rec.VoteType,
		Region:      rec.Region,
		Timestamp:   rec.Timestamp,
		ReceiptHash: rec.ReceiptHash,
		VoterHash:   rec.VoterHash,
		RequestID:   requestID,
	}
}

func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// Publisher hands appended records to a downstream transport.
type Publisher interface {
	Publish(ctx context.Context, rec *models.VoteRecord) error
}

// Discard drops every event. Used when no broker is configured.
type Discard struct{}

func (Discard) Publish(context.Context, *models.VoteRecord) error { return nil }
