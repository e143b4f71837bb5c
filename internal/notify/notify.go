// Package notify pushes best-effort realtime messages to users.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	pubnub "github.com/pubnub/go"
	"golang.org/x/sync/errgroup"
)

const (
	TypeLotteryResult     = "lottery_result"
	TypeTicketUsed        = "ticket_used"
	TypeTicketTransferred = "ticket_transferred"
)

type Notifier interface {
	Notify(ctx context.Context, userID string, message map[string]any) error
}

// UserChannel is the per-user channel clients subscribe to.
func UserChannel(userID string) string {
	return fmt.Sprintf("user-%s", userID)
}

type PubNubNotifier struct {
	publish func(channel string, message map[string]any) error
}

func NewPubNubNotifier(publishKey, subscribeKey, secretKey string) *PubNubNotifier {
	cfg := pubnub.NewConfig()
	cfg.PublishKey = publishKey
	cfg.SubscribeKey = subscribeKey
	cfg.SecretKey = secretKey
	pn := pubnub.NewPubNub(cfg)

	return &PubNubNotifier{
		publish: func(channel string, message map[string]any) error {
			_, _, err := pn.Publish().
				Channel(channel).
				Message(message).
				Execute()
			return err
		},
	}
}

func (n *PubNubNotifier) Notify(ctx context.Context, userID string, message map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.publish(UserChannel(userID), message); err != nil {
		return fmt.Errorf("publish to %s: %w", UserChannel(userID), err)
	}
	return nil
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, map[string]any) error { return nil }

type Message struct {
	UserID string
	Body   map[string]any
}

const broadcastConcurrency = 8

// Broadcast delivers messages in parallel and returns how many failed.
// Failures are logged; they never abort the remaining deliveries.
func Broadcast(ctx context.Context, n Notifier, msgs []Message) int {
	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastConcurrency)

	for _, msg := range msgs {
		g.Go(func() error {
			if err := n.Notify(gctx, msg.UserID, msg.Body); err != nil {
				failed.Add(1)
				slog.Warn("Failed to notify user", "component", "notify", "error", err, "user_id", msg.UserID, "type", msg.Body["type"])
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(failed.Load())
}
