package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"datapack-backend/internal/db"
	"datapack-backend/internal/model"
	"datapack-backend/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	return store.NewGormStore(gormDB)
}

// mockSender records sent notifications and answers with a canned status.
type mockSender struct {
	mu         sync.Mutex
	sent       []sentPush
	statusCode int
}

type sentPush struct {
	endpoint string
	payload  []byte
}

func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentPush{endpoint: sub.Endpoint, payload: payload})
	status := m.statusCode
	if status == 0 {
		status = http.StatusCreated
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func (m *mockSender) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func subscribe(t *testing.T, s store.Store, ownerID, endpoint string) {
	t.Helper()
	require.NoError(t, s.UpsertPushSubscription(context.Background(), &model.PushSubscription{
		Endpoint: endpoint,
		OwnerID:  ownerID,
		P256DH:   "p256dh-key",
		Auth:     "auth-secret",
	}))
}

func TestWorkerPool_DeliversToEverySubscription(t *testing.T) {
	s := newTestStore(t)
	subscribe(t, s, "owner-1", "https://push.example.com/a")
	subscribe(t, s, "owner-1", "https://push.example.com/b")
	subscribe(t, s, "owner-2", "https://push.example.com/other")

	sender := &mockSender{}
	pool := NewWorkerPool(2, 16, s, &webpush.Options{})
	pool.SetSender(sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	pool.Notify("owner-1", KindLowBalance, map[string]any{"remaining_mb": int64(42)})

	require.Eventually(t, func() bool {
		return sender.sentCount() == 2
	}, 3*time.Second, 10*time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	endpoints := []string{sender.sent[0].endpoint, sender.sent[1].endpoint}
	assert.ElementsMatch(t, []string{"https://push.example.com/a", "https://push.example.com/b"}, endpoints)

	var body map[string]any
	require.NoError(t, json.Unmarshal(sender.sent[0].payload, &body))
	assert.Equal(t, KindLowBalance, body["kind"])
	assert.Equal(t, float64(42), body["remaining_mb"])
}

func TestWorkerPool_PrunesGoneSubscriptions(t *testing.T) {
	s := newTestStore(t)
	subscribe(t, s, "owner-1", "https://push.example.com/stale")

	sender := &mockSender{statusCode: http.StatusGone}
	pool := NewWorkerPool(1, 16, s, &webpush.Options{})
	pool.SetSender(sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	pool.Notify("owner-1", KindAllowanceExpired, nil)

	require.Eventually(t, func() bool {
		subs, err := s.PushSubscriptionsByOwner(context.Background(), "owner-1")
		return err == nil && len(subs) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWorkerPool_FullQueueDropsWithoutBlocking(t *testing.T) {
	s := newTestStore(t)

	// No workers draining: the second alert overflows the queue and must
	// return immediately.
	pool := NewWorkerPool(1, 1, s, &webpush.Options{})

	done := make(chan struct{})
	go func() {
		pool.Notify("owner-1", KindLowBalance, nil)
		pool.Notify("owner-1", KindLowBalance, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
}
