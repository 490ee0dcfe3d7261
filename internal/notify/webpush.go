package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"parking-sensor-service/internal/domain/parking"
	"parking-sensor-service/internal/repository"
)

var ErrNotConfigured = errors.New("push notifications are not configured")

// WebPushNotifier delivers notifications to every Web Push subscription
// a user holds. Delivery is best effort: per-endpoint failures are
// logged and do not fail the send.
type WebPushNotifier struct {
	repo    *repository.ParkingRepository
	log     zerolog.Logger
	options webpush.Options
	timeout time.Duration
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	Timeout         time.Duration
}

func NewWebPushNotifier(repo *repository.ParkingRepository, cfg Config, log zerolog.Logger) (*WebPushNotifier, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, ErrNotConfigured
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebPushNotifier{
		repo: repo,
		log:  log,
		options: webpush.Options{
			Subscriber:      cfg.Subscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             60,
		},
		timeout: timeout,
	}, nil
}

func (n *WebPushNotifier) Send(ctx context.Context, notification parking.Notification) error {
	if n == nil {
		return ErrNotConfigured
	}

	subs, err := n.repo.SubscriptionsForUser(ctx, notification.UserID)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		n.log.Debug().
			Str("user_id", notification.UserID.String()).
			Msg("no push subscriptions for user")
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"title": notification.Title,
		"body":  notification.Body,
		"data":  notification.Data,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			n.push(ctx, sub, payload)
			return nil
		})
	}
	return g.Wait()
}

func (n *WebPushNotifier) push(ctx context.Context, sub repository.PushSubscription, payload []byte) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &n.options)
	if err != nil {
		n.log.Warn().
			Err(err).
			Str("user_id", sub.UserID.String()).
			Str("endpoint", sub.Endpoint).
			Msg("push delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.log.Warn().
			Int("status", resp.StatusCode).
			Str("user_id", sub.UserID.String()).
			Msg("push endpoint rejected notification")
	}
}

// Fanout sends a batch of notifications concurrently, swallowing
// individual failures. Used for the renter/owner notification pairs.
func Fanout(ctx context.Context, n Notifier, log zerolog.Logger, notifications []parking.Notification) {
	if n == nil || len(notifications) == 0 {
		return
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, notification := range notifications {
		notification := notification
		g.Go(func() error {
			if err := n.Send(ctx, notification); err != nil && !errors.Is(err, ErrNotConfigured) {
				log.Warn().
					Err(err).
					Str("user_id", notification.UserID.String()).
					Str("title", notification.Title).
					Msg("failed to send notification")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Notifier is implemented by WebPushNotifier; split out so the
// service can be tested without a push transport.
type Notifier interface {
	Send(ctx context.Context, notification parking.Notification) error
}

var _ Notifier = (*WebPushNotifier)(nil)
