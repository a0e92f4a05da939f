package ingestion_test

import (
	"context"
	"testing"
	"time"

	"LedgerStats/internal/core"
	"LedgerStats/internal/ingestion"
	"LedgerStats/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: JetStream feed (integration)
// ============================================================================

func TestNATS_FeedDrivesEngine(t *testing.T) {
	testutil.RequireIntegration(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	defer nc.Close()
	require.NoError(t, ingestion.EnsureStreams(ctx, js, zerolog.Nop()))

	stream, err := js.Stream(ctx, ingestion.StreamName)
	require.NoError(t, err)
	require.NoError(t, stream.Purge(ctx))

	events := testutil.Scenario()
	for _, evt := range events {
		data, err := ingestion.EncodeEvent(evt)
		require.NoError(t, err)
		_, err = js.Publish(ctx, ingestion.SubjectFor(evt.EventType()), data)
		require.NoError(t, err)
	}

	e := core.NewEngine(core.DefaultConfig(), core.Outputs{}, nil, nil, zerolog.Nop())
	t.Cleanup(e.Close)
	subs := make(chan core.Submission)
	go e.Run(ctx, subs)

	rawCh := make(chan ingestion.RawEvent, 16)
	cfg := ingestion.DefaultSubscriberConfig()
	cfg.Durable = "stats-test-" + uuid.NewString()[:8]
	sub := ingestion.NewNATSSubscriber(js, rawCh, cfg, zerolog.Nop())
	require.NoError(t, sub.Subscribe(ctx))
	defer sub.Stop()
	go ingestion.NewFeeder(rawCh, subs, nil, zerolog.Nop()).Run(ctx)

	want := events[len(events)-1].Sequence()
	require.Eventually(t, func() bool {
		cp, err := e.RequestCheckpoint(ctx)
		return err == nil && cp.Sequence == want
	}, 20*time.Second, 100*time.Millisecond)

	consumer, err := js.Consumer(ctx, ingestion.StreamName, cfg.Durable)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, err := consumer.Info(ctx)
		return err == nil && info.NumAckPending == 0
	}, 5*time.Second, 100*time.Millisecond)
	assert.NoError(t, js.DeleteConsumer(ctx, ingestion.StreamName, cfg.Durable))
}
