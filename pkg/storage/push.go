package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shonalidesh/agrilink/pkg/notify"
)

const (
	settingVAPIDPublic  = "vapid_public_key"
	settingVAPIDPrivate = "vapid_private_key"
)

// SavePushSubscription stores a browser push subscription, replacing any
// previous row for the same endpoint.
func (s *Store) SavePushSubscription(sub *notify.Subscription) error {
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO push_subscriptions
		(id, endpoint, p256dh, auth, principal, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			principal = excluded.principal,
			user_agent = excluded.user_agent`,
		sub.ID, sub.Endpoint, sub.P256dh, sub.Auth, sub.Principal, sub.UserAgent,
		createdAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save push subscription: %w", err)
	}
	return nil
}

// ListPushSubscriptionsByPrincipal returns the subscriptions registered
// under a principal.
func (s *Store) ListPushSubscriptionsByPrincipal(principal string) ([]*notify.Subscription, error) {
	rows, err := s.db.Query(`SELECT id, endpoint, p256dh, auth, principal, user_agent, created_at
		FROM push_subscriptions WHERE principal = ?`, principal)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*notify.Subscription
	for rows.Next() {
		var sub notify.Subscription
		var createdAt string
		if err := rows.Scan(&sub.ID, &sub.Endpoint, &sub.P256dh, &sub.Auth,
			&sub.Principal, &sub.UserAgent, &createdAt); err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		sub.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &sub)
	}
	return out, rows.Err()
}

// DeletePushSubscriptionByEndpoint removes a subscription. Deleting a
// missing endpoint is not an error.
func (s *Store) DeletePushSubscriptionByEndpoint(endpoint string) error {
	if _, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

// GetVAPIDKeys loads the persisted VAPID key pair; nil when none exists yet.
func (s *Store) GetVAPIDKeys() (*notify.VAPIDKeyPair, error) {
	pub, err := s.getSetting(settingVAPIDPublic)
	if err != nil {
		return nil, err
	}
	priv, err := s.getSetting(settingVAPIDPrivate)
	if err != nil {
		return nil, err
	}
	if pub == "" || priv == "" {
		return nil, nil
	}
	return &notify.VAPIDKeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// SaveVAPIDKeys persists the VAPID key pair.
func (s *Store) SaveVAPIDKeys(keys *notify.VAPIDKeyPair) error {
	if err := s.setSetting(settingVAPIDPublic, keys.PublicKey); err != nil {
		return err
	}
	return s.setSetting(settingVAPIDPrivate, keys.PrivateKey)
}

func (s *Store) getSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) setSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
