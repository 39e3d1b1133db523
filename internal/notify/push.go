package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"simjur/internal/model"
	"simjur/internal/simjur"
)

// PushMessage is the payload handed to a browser push endpoint.
type PushMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// Deliverer sends one push message to one subscription.
type Deliverer interface {
	Deliver(ctx context.Context, sub model.PushSubscription, msg PushMessage) error
}

// PushManager keeps browser push subscriptions and sends messages to them.
type PushManager struct {
	database  simjur.Database
	deliverer Deliverer
	logger    simjur.Logger
	clock     simjur.Clock
}

func NewPushManager(database simjur.Database, deliverer Deliverer, logger simjur.Logger, clock simjur.Clock) *PushManager {
	return &PushManager{database: database, deliverer: deliverer, logger: logger, clock: clock}
}

// Subscribe stores sub for userID, replacing the keys of a known endpoint.
func (p *PushManager) Subscribe(ctx context.Context, userID string, sub model.PushSubscription) error {
	verr := simjur.NewValidationError("invalid push subscription")
	if u, err := url.Parse(sub.Endpoint); err != nil || u.Scheme != "https" || u.Host == "" {
		verr.Fields = append(verr.Fields, simjur.FieldError{Field: "endpoint", Error: "must be an https URL"})
	}
	if strings.TrimSpace(sub.Keys.P256dh) == "" {
		verr.Fields = append(verr.Fields, simjur.FieldError{Field: "keys.p256dh", Error: "this field is required"})
	}
	if strings.TrimSpace(sub.Keys.Auth) == "" {
		verr.Fields = append(verr.Fields, simjur.FieldError{Field: "keys.auth", Error: "this field is required"})
	}
	if len(verr.Fields) > 0 {
		return verr
	}

	sub.UserID = userID
	sub.CreatedAt = p.clock.Now()
	if err := p.database.SavePushSubscription(ctx, &sub); err != nil {
		return err
	}
	p.logger.Info("push subscription saved", "user", userID)
	return nil
}

// Unsubscribe removes one endpoint of userID.
func (p *PushManager) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return p.database.DeletePushSubscription(ctx, userID, endpoint)
}

// Send delivers msg to every subscription of userID and returns how many
// deliveries succeeded.
func (p *PushManager) Send(ctx context.Context, userID string, msg PushMessage) (int, error) {
	if userID == "" {
		return 0, simjur.NewValidationError("invalid push target", "user_id", "this field is required")
	}
	return p.deliver(ctx, userID, msg)
}

// Broadcast delivers msg to every subscription.
func (p *PushManager) Broadcast(ctx context.Context, msg PushMessage) (int, error) {
	return p.deliver(ctx, "", msg)
}

func (p *PushManager) deliver(ctx context.Context, userID string, msg PushMessage) (int, error) {
	if strings.TrimSpace(msg.Title) == "" {
		return 0, simjur.NewValidationError("invalid push message", "title", "this field is required")
	}
	subs, err := p.database.ListPushSubscriptions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("listing subscriptions: %w", err)
	}

	sent := 0
	var errs []error
	for _, sub := range subs {
		if err := p.deliverer.Deliver(ctx, *sub, msg); err != nil {
			p.logger.Warn("push delivery failed", "user", sub.UserID, "endpoint", sub.Endpoint, "error", err)
			errs = append(errs, err)
			continue
		}
		sent++
	}
	if sent == 0 && len(errs) > 0 {
		return 0, fmt.Errorf("push delivery failed: %w", errors.Join(errs...))
	}
	return sent, nil
}

// LogDeliverer only logs deliveries. Used when no push worker is configured.
type LogDeliverer struct {
	Logger simjur.Logger
}

func (d LogDeliverer) Deliver(_ context.Context, sub model.PushSubscription, msg PushMessage) error {
	d.Logger.Info("push message", "user", sub.UserID, "endpoint", sub.Endpoint, "title", msg.Title)
	return nil
}

var _ Deliverer = LogDeliverer{}
