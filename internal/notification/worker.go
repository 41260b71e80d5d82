package notification

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"datapack-backend/internal/store"
)

// Alert kinds emitted by the core.
const (
	KindLowBalance       = "low_balance"
	KindUsageThreshold   = "usage_threshold"
	KindAllowanceExpired = "allowance_expired"
	KindSessionExhausted = "session_exhausted"
)

// Notifier delivers fire-and-forget alerts to an owner. Implementations
// must never block the caller; failures are logged, not returned.
type Notifier interface {
	Notify(ownerID, kind string, payload map[string]any)
}

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of Sender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

type job struct {
	ownerID string
	kind    string
	payload map[string]any
}

// WorkerPool fans alerts out to every push subscription an owner holds.
type WorkerPool struct {
	size    int
	jobs    chan job
	store   store.Store
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size, queueSize int, s store.Store, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan job, queueSize),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// SetSender replaces the delivery mechanism; used by tests.
func (wp *WorkerPool) SetSender(s Sender) {
	wp.sender = s
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("notification worker %d started", id)
	for {
		select {
		case j := <-wp.jobs:
			wp.deliver(ctx, j)
		case <-ctx.Done():
			log.Printf("notification worker %d shutting down", id)
			return
		}
	}
}

// Notify queues an alert for delivery. A full queue drops the alert:
// alerts must never block or fail the core logic that raised them.
func (wp *WorkerPool) Notify(ownerID, kind string, payload map[string]any) {
	select {
	case wp.jobs <- job{ownerID: ownerID, kind: kind, payload: payload}:
	default:
		log.Printf("notification queue full, dropping %s alert for owner %s", kind, ownerID)
	}
}

// deliver sends one alert to every subscription the owner holds.
func (wp *WorkerPool) deliver(ctx context.Context, j job) {
	subs, err := wp.store.PushSubscriptionsByOwner(ctx, j.ownerID)
	if err != nil {
		log.Printf("Error fetching push subscriptions for owner %s: %v", j.ownerID, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	body := map[string]any{"kind": j.kind}
	for k, v := range j.payload {
		body[k] = v
	}
	message, err := json.Marshal(body)
	if err != nil {
		log.Printf("Error marshaling %s alert for owner %s: %v", j.kind, j.ownerID, err)
		return
	}

	log.Printf("Sending %d %s notifications for owner %s", len(subs), j.kind, j.ownerID)
	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256DH,
				Auth:   sub.Auth,
			},
		}

		resp, err := wp.sender.Send(message, wpSub, wp.webpush)
		if err != nil {
			log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
			continue
		}
		resp.Body.Close()

		// Expired subscriptions are pruned on the spot.
		if resp.StatusCode == http.StatusGone {
			log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
			if err := wp.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
				log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
			}
		}
	}
}
