//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"veritas/internal/notification"
	"veritas/internal/notification/kafka"
	"veritas/internal/platform/config"
	"veritas/internal/platform/logger"
	id "veritas/pkg/domain"
	"veritas/pkg/testutil/containers"
)

func TestPublisher_PublishesCompletion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	broker := containers.GetManager().GetRedpanda(t).Broker
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.Kafka{Brokers: []string{broker}, Topic: "verification.completed.test"}
	pub, err := kafka.New(cfg, logger.Discard())
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Ping(ctx))
	require.NoError(t, pub.EnsureTopic(ctx, 1, 1))
	// second call hits TopicAlreadyExists
	require.NoError(t, pub.EnsureTopic(ctx, 1, 1))

	result := "VERIFIED"
	score := 95.0
	sent := notification.Completion{
		VerificationID: id.NewVerificationID(),
		CertificateID:  id.NewCertificateID(),
		Status:         "COMPLETED",
		Result:         &result,
		Score:          &score,
		CompletedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, pub.NotifyVerificationComplete(ctx, sent))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.Empty(t, fetches.Errors())
	records := fetches.Records()
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, sent.CertificateID.String(), string(rec.Key))
	var got notification.Completion
	require.NoError(t, json.Unmarshal(rec.Value, &got))
	assert.Equal(t, sent.VerificationID, got.VerificationID)
	assert.Equal(t, 95.0, *got.Score)
	require.Len(t, rec.Headers, 1)
	assert.Equal(t, "verification.completed", string(rec.Headers[0].Value))
}
