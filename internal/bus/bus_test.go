package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/opensource-finance/cogsolver/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestChannelBus(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		b := NewChannelBus(10, quietLogger())
		defer b.Close()

		got := make(chan *domain.Message, 1)
		sub, err := b.Subscribe(ctx, domain.TopicRuleChanged, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TopicRuleChanged, sub.Topic())

		require.NoError(t, b.Publish(ctx, domain.TopicRuleChanged, []byte("hello")))

		msg := receive(t, got)
		assert.Equal(t, "hello", string(msg.Payload))
		assert.Equal(t, domain.TopicRuleChanged, msg.Topic)
		assert.NotEmpty(t, msg.ID)
	})

	t.Run("TopicsAreIsolated", func(t *testing.T) {
		b := NewChannelBus(10, quietLogger())
		defer b.Close()

		got := make(chan *domain.Message, 2)
		_, err := b.Subscribe(ctx, "a", func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, b.Publish(ctx, "b", []byte("ignored")))
		require.NoError(t, b.Publish(ctx, "a", []byte("wanted")))

		assert.Equal(t, "wanted", string(receive(t, got).Payload))
	})

	t.Run("FanOut", func(t *testing.T) {
		b := NewChannelBus(10, quietLogger())
		defer b.Close()

		got := make(chan *domain.Message, 2)
		for i := 0; i < 2; i++ {
			_, err := b.Subscribe(ctx, "fan", func(ctx context.Context, msg *domain.Message) error {
				got <- msg
				return nil
			})
			require.NoError(t, err)
		}

		require.NoError(t, b.Publish(ctx, "fan", []byte("x")))
		receive(t, got)
		receive(t, got)
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		b := NewChannelBus(10, quietLogger())
		defer b.Close()

		sub, err := b.Subscribe(ctx, "t", func(ctx context.Context, msg *domain.Message) error { return nil })
		require.NoError(t, err)
		require.NoError(t, sub.Unsubscribe())

		b.mu.RLock()
		_, ok := b.subscriptions["t"]
		b.mu.RUnlock()
		assert.False(t, ok)
	})

	t.Run("DropsWhenBufferFull", func(t *testing.T) {
		b := NewChannelBus(1, quietLogger())
		defer b.Close()

		release := make(chan struct{})
		_, err := b.Subscribe(ctx, "slow", func(ctx context.Context, msg *domain.Message) error {
			<-release
			return nil
		})
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			require.NoError(t, b.Publish(ctx, "slow", []byte("x")))
		}
		close(release)

		assert.GreaterOrEqual(t, b.Dropped(), uint64(1))
	})

	t.Run("Closed", func(t *testing.T) {
		b := NewChannelBus(10, quietLogger())
		require.NoError(t, b.Ping(ctx))
		require.NoError(t, b.Close())
		require.NoError(t, b.Close())

		assert.ErrorIs(t, b.Ping(ctx), ErrClosed)
		assert.ErrorIs(t, b.Publish(ctx, "t", nil), ErrClosed)
		_, err := b.Subscribe(ctx, "t", func(ctx context.Context, msg *domain.Message) error { return nil })
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestPublishJSONAndDecode(t *testing.T) {
	ctx := context.Background()
	b := NewChannelBus(10, quietLogger())
	defer b.Close()

	got := make(chan *domain.Message, 1)
	_, err := b.Subscribe(ctx, domain.TopicApplicationSubmitted, func(ctx context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, PublishJSON(ctx, b, domain.TopicApplicationSubmitted, domain.ApplicationSubmitted{ApplicationID: "app-1"}))

	event, err := Decode[domain.ApplicationSubmitted](receive(t, got))
	require.NoError(t, err)
	assert.Equal(t, "app-1", event.ApplicationID)

	_, err = Decode[domain.ApplicationSubmitted](&domain.Message{Topic: "x", Payload: []byte("nope")})
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel"}, nil)
	require.NoError(t, err)
	defer b.Close()
	assert.IsType(t, &ChannelBus{}, b)

	_, err = New(domain.EventBusConfig{Type: "kafka"}, nil)
	assert.Error(t, err)
}
