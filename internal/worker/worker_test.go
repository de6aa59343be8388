package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/opensource-finance/cogsolver/internal/bus"
	"github.com/opensource-finance/cogsolver/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRecommender struct {
	rows map[string]*domain.ReportRow
}

func (s *stubRecommender) RecommendOne(ctx context.Context, appID string) (*domain.ReportRow, error) {
	row, ok := s.rows[appID]
	if !ok {
		return nil, domain.NotFound("application", appID)
	}
	return row, nil
}

func newWorker(t *testing.T) (*Worker, *bus.ChannelBus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eventBus := bus.NewChannelBus(10, logger)
	t.Cleanup(func() { eventBus.Close() })

	rec := &stubRecommender{rows: map[string]*domain.ReportRow{
		"app-1": {CurrentStatusID: "preliminary", RecommendedStatusID: "urgent", Changed: true},
	}}
	return NewWorker(eventBus, rec, logger), eventBus
}

func TestStartAndStop(t *testing.T) {
	w, _ := newWorker(t)

	require.NoError(t, w.Start())
	stats := w.GetStats()
	assert.Equal(t, 1, stats.SubscriptionCount)
	assert.Equal(t, []string{domain.TopicApplicationSubmitted}, stats.Topics)

	require.NoError(t, w.Stop())
	assert.Zero(t, w.GetStats().SubscriptionCount)
}

func TestPublishesRecommendation(t *testing.T) {
	ctx := context.Background()
	w, eventBus := newWorker(t)
	require.NoError(t, w.Start())
	defer w.Stop()

	got := make(chan *domain.Message, 1)
	_, err := eventBus.Subscribe(ctx, domain.TopicRecommendationComputed, func(ctx context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.PublishJSON(ctx, eventBus, domain.TopicApplicationSubmitted, domain.ApplicationSubmitted{ApplicationID: "app-1"}))

	select {
	case msg := <-got:
		rec, err := bus.Decode[domain.Recommendation](msg)
		require.NoError(t, err)
		assert.Equal(t, "app-1", rec.ApplicationID)
		assert.Equal(t, "urgent", rec.RecommendedStatusID)
		assert.True(t, rec.Changed)
	case <-time.After(2 * time.Second):
		t.Fatal("no recommendation published")
	}

	require.Eventually(t, func() bool { return w.GetStats().Processed == 1 }, time.Second, 10*time.Millisecond)
}

func TestCountsFailures(t *testing.T) {
	ctx := context.Background()
	w, eventBus := newWorker(t)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, bus.PublishJSON(ctx, eventBus, domain.TopicApplicationSubmitted, domain.ApplicationSubmitted{ApplicationID: "missing"}))
	require.NoError(t, eventBus.Publish(ctx, domain.TopicApplicationSubmitted, []byte("not json")))
	require.NoError(t, bus.PublishJSON(ctx, eventBus, domain.TopicApplicationSubmitted, domain.ApplicationSubmitted{}))

	require.Eventually(t, func() bool { return w.GetStats().Failed == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, w.GetStats().Processed)
}
