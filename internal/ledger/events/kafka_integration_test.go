//go:build integration

package events_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"civicledger/internal/ledger/events"
	"civicledger/internal/ledger/models"
	"civicledger/pkg/testutil/containers"
)

func TestKafkaPublisherRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	kafka := containers.GetManager().GetKafka(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const topic = "civic.ledger.votes"
	pub, err := events.NewKafkaPublisher([]string{kafka.Broker}, topic, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.EnsureTopic(ctx, 1, 1))
	require.NoError(t, pub.EnsureTopic(ctx, 1, 1), "existing topic is not an error")

	rec := &models.VoteRecord{
		ID: "rec_it", SubjectID: "law-1", VoteType: models.VoteNo,
		VoterHash: "h", Timestamp: 1, ReceiptHash: "0x01",
	}
	require.NoError(t, pub.Publish(ctx, rec))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(kafka.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	var got []events.Event
	fetches.EachRecord(func(r *kgo.Record) {
		var ev events.Event
		require.NoError(t, json.Unmarshal(r.Value, &ev))
		got = append(got, ev)
	})
	require.Len(t, got, 1)
	require.Equal(t, "rec_it", got[0].RecordID)
}
