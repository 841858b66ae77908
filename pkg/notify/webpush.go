package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Subscription is a browser push subscription registered by a console's web
// companion page.
type Subscription struct {
	ID        string
	Endpoint  string
	P256dh    string
	Auth      string
	Principal string
	UserAgent string
	CreatedAt time.Time
}

// VAPIDKeyPair holds the VAPID key pair for Web Push.
type VAPIDKeyPair struct {
	PublicKey  string
	PrivateKey string
}

// SubscriptionStore persists push subscriptions and the VAPID key pair
// across restarts.
type SubscriptionStore interface {
	SavePushSubscription(sub *Subscription) error
	ListPushSubscriptionsByPrincipal(principal string) ([]*Subscription, error)
	DeletePushSubscriptionByEndpoint(endpoint string) error
	GetVAPIDKeys() (*VAPIDKeyPair, error)
	SaveVAPIDKeys(keys *VAPIDKeyPair) error
}

// WebPushNotifier delivers notifications to subscribed browsers via the Web
// Push protocol.
type WebPushNotifier struct {
	store   SubscriptionStore
	subject string // mailto: or https:// URL

	mu       sync.RWMutex
	vapidKey *VAPIDKeyPair

	sendFn func(ctx context.Context, sub *Subscription, payload []byte) error
}

// NewWebPushNotifier creates a Web Push notifier, loading or generating the
// VAPID key pair.
func NewWebPushNotifier(store SubscriptionStore, subject string) (*WebPushNotifier, error) {
	if subject == "" {
		subject = "mailto:admin@agrilink.app"
	}

	w := &WebPushNotifier{
		store:   store,
		subject: subject,
	}

	if err := w.ensureVAPIDKeys(); err != nil {
		return nil, fmt.Errorf("vapid keys: %w", err)
	}

	return w, nil
}

// ensureVAPIDKeys loads existing keys or generates new ones.
func (w *WebPushNotifier) ensureVAPIDKeys() error {
	keys, err := w.store.GetVAPIDKeys()
	if err != nil {
		return fmt.Errorf("load vapid keys: %w", err)
	}

	if keys == nil {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			return fmt.Errorf("generate vapid keys: %w", err)
		}
		keys = &VAPIDKeyPair{PublicKey: pub, PrivateKey: priv}
		if err := w.store.SaveVAPIDKeys(keys); err != nil {
			return fmt.Errorf("save vapid keys: %w", err)
		}
	}

	w.mu.Lock()
	w.vapidKey = keys
	w.mu.Unlock()
	return nil
}

// PublicKey returns the VAPID public key for browser subscription.
func (w *WebPushNotifier) PublicKey() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.vapidKey == nil {
		return ""
	}
	return w.vapidKey.PublicKey
}

// Name returns the adapter name.
func (w *WebPushNotifier) Name() string { return "webpush" }

// Notify sends the notification to every browser subscribed under the
// notification's principal. Subscriptions rejected by the push service with
// 404 or 410 are pruned from the store.
func (w *WebPushNotifier) Notify(ctx context.Context, n *Notification) error {
	subs, err := w.store.ListPushSubscriptionsByPrincipal(n.Principal)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload := n.JSON()

	sendFn := w.sendFn
	if sendFn == nil {
		sendFn = w.send
	}

	var wg sync.WaitGroup
	var failureMu sync.Mutex
	var failures int

	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()

			if err := sendFn(ctx, sub, payload); err != nil {
				failureMu.Lock()
				failures++
				failureMu.Unlock()

				if isGone(err) {
					w.store.DeletePushSubscriptionByEndpoint(sub.Endpoint)
				}
			}
		}(sub)
	}

	wg.Wait()

	if failures == len(subs) {
		return fmt.Errorf("all %d push deliveries failed", failures)
	}
	return nil
}

// send delivers a push notification to a single subscription.
func (w *WebPushNotifier) send(ctx context.Context, sub *Subscription, payload []byte) error {
	w.mu.RLock()
	vapidKey := w.vapidKey
	subject := w.subject
	w.mu.RUnlock()

	if vapidKey == nil {
		return fmt.Errorf("no VAPID keys configured")
	}

	subscription := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	options := &webpush.Options{
		Subscriber:      subject,
		VAPIDPublicKey:  vapidKey.PublicKey,
		VAPIDPrivateKey: vapidKey.PrivateKey,
		TTL:             300, // 5 minutes
		Urgency:         webpush.UrgencyHigh,
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, subscription, options)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("push failed with status %d", resp.StatusCode)
	}
	return nil
}

// isGone checks if the error indicates the subscription is no longer valid.
func isGone(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "410") || strings.Contains(msg, "404") || strings.Contains(msg, "gone")
}
