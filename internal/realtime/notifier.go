package realtime

import (
	"context"
	"log/slog"

	pubnub "github.com/pubnub/go"

	"waitly/config"
	"waitly/monitoring"
	"waitly/utils"
)

// Notifier is the outbound notification sink. Delivery failures are
// advisory: callers log them and move on, state transitions never roll
// back on a failed send.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string) error
}

// PubNubNotifier delivers user notifications over a per-user PubNub
// channel. All publishes go through a circuit breaker so a dead sink
// cannot stall ticket transitions.
type PubNubNotifier struct {
	pubnub  *pubnub.PubNub
	breaker *utils.CircuitBreaker
}

func NewPubNubNotifier(pn *pubnub.PubNub, cfg *config.Config) *PubNubNotifier {
	return &PubNubNotifier{
		pubnub: pn,
		breaker: utils.NewCircuitBreaker("pubnub-notify",
			uint32(cfg.BreakerMaxRequests), cfg.BreakerTimeout, cfg.BreakerFailureRatio),
	}
}

func (n *PubNubNotifier) Notify(ctx context.Context, userID, title, body string) error {
	_, err := n.breaker.Execute(ctx, func() (interface{}, error) {
		_, _, err := n.pubnub.Publish().
			Channel("user-" + userID).
			Message(map[string]any{
				"type":  "notification",
				"title": title,
				"body":  body,
			}).
			Execute()
		return nil, err
	})
	if err != nil {
		monitoring.TrackNotification("user", "failed")
		slog.Error("notification send failed", "user_id", userID, "title", title, "error", err)
		return err
	}
	monitoring.TrackNotification("user", "sent")
	return nil
}

// NopNotifier discards notifications. Used in tests and when PubNub keys
// are not configured.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, userID, title, body string) error { return nil }
