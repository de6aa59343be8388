// Package worker computes recommendations for submitted applications
// asynchronously from the event bus.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/cogsolver/internal/bus"
	"github.com/opensource-finance/cogsolver/internal/domain"
)

// Recommender computes the report row for one stored application.
type Recommender interface {
	RecommendOne(ctx context.Context, appID string) (*domain.ReportRow, error)
}

// Worker listens for submitted applications and publishes a
// recommendation for each. It never changes the stored status.
type Worker struct {
	bus         domain.EventBus
	recommender Recommender
	logger      *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates a worker.
func NewWorker(eventBus domain.EventBus, recommender Recommender, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:         eventBus,
		recommender: recommender,
		logger:      logger.With("component", "worker"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start subscribes to submitted applications.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicApplicationSubmitted, w.handleSubmitted)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	w.logger.Info("worker started", "topic", domain.TopicApplicationSubmitted)
	return nil
}

func (w *Worker) handleSubmitted(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	event, err := bus.Decode[domain.ApplicationSubmitted](msg)
	if err != nil {
		w.failed.Add(1)
		return err
	}
	if event.ApplicationID == "" {
		w.failed.Add(1)
		return errors.New("submitted event without application ID")
	}

	traceID := event.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	row, err := w.recommender.RecommendOne(ctx, event.ApplicationID)
	if err != nil {
		w.failed.Add(1)
		w.logger.Error("recommendation failed",
			"application_id", event.ApplicationID,
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	rec := domain.Recommendation{
		ApplicationID:       event.ApplicationID,
		CurrentStatusID:     row.CurrentStatusID,
		RecommendedStatusID: row.RecommendedStatusID,
		Changed:             row.Changed,
		ComputedAt:          time.Now().UTC(),
	}
	if err := bus.PublishJSON(ctx, w.bus, domain.TopicRecommendationComputed, rec); err != nil {
		w.failed.Add(1)
		return err
	}

	w.processed.Add(1)
	w.logger.Info("recommendation computed",
		"application_id", event.ApplicationID,
		"trace_id", traceID,
		"current_status", rec.CurrentStatusID,
		"recommended_status", rec.RecommendedStatusID,
		"changed", rec.Changed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes and cancels in-flight handlers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
			errs = append(errs, err)
		}
	}
	w.subscriptions = nil

	w.logger.Info("worker stopped")
	return errors.Join(errs...)
}

// Stats is a snapshot of worker activity.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
