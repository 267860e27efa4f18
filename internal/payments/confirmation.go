package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/internal/store"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, update store.StatusUpdate) (*models.Order, error)
}

type ChangePublisher interface {
	Publish(event models.ChangeEvent) error
}

// transition is the status an event drives an order to and the statuses it
// may be applied from. Deliveries arriving in any other state are replays or
// arrive after staff already moved the order on.
type transition struct {
	target models.Status
	from   []models.Status
}

var transitions = map[EventKind]transition{
	EventCheckoutCompleted: {
		target: models.StatusReceived,
		from:   []models.Status{models.StatusPendingPayment, models.StatusPaymentFailed},
	},
	EventAsyncPaymentSucceeded: {
		target: models.StatusReceived,
		from:   []models.Status{models.StatusPendingPayment, models.StatusPaymentFailed},
	},
	// Delayed methods report checkout.session.completed before they settle,
	// so the failure usually finds the order already RECEIVED.
	EventAsyncPaymentFailed: {
		target: models.StatusPaymentFailed,
		from:   []models.Status{models.StatusPendingPayment, models.StatusReceived},
	},
}

func (t transition) appliesFrom(status models.Status) bool {
	for _, s := range t.from {
		if s == status {
			return true
		}
	}
	return false
}

// Confirmer turns verified payment events into order status writes. Every
// event may arrive more than once.
type Confirmer struct {
	verifier  Verifier
	store     OrderStore
	publisher ChangePublisher
	logger    *logrus.Logger
}

func NewConfirmer(verifier Verifier, st OrderStore, publisher ChangePublisher, logger *logrus.Logger) *Confirmer {
	return &Confirmer{verifier: verifier, store: st, publisher: publisher, logger: logger}
}

// HandlePaymentEvent verifies the raw body and applies the event. A nil
// error means the delivery can be acknowledged. Signature failures have no
// side effects; storage failures are returned so the provider redelivers.
func (c *Confirmer) HandlePaymentEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := c.verifier.Verify(payload, signatureHeader)
	if err != nil {
		c.logger.WithError(err).Warn("Rejected payment webhook")
		return err
	}

	log := c.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Kind,
	})
	t, ok := transitions[event.Kind]
	if !ok {
		log.Debug("Ignoring payment event")
		return nil
	}
	if event.OrderID == "" {
		log.Error("Payment event has no order id in metadata, discarding")
		return nil
	}
	return c.apply(ctx, log.WithField("order_id", event.OrderID), event.OrderID, t)
}

func (c *Confirmer) apply(ctx context.Context, log *logrus.Entry, orderID string, t transition) error {
	const op = "payments.confirm"

	order, err := c.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		log.Error("Payment event references unknown order, discarding")
		return nil
	}
	if err != nil {
		return apperr.Storage(op, err)
	}

	if order.Status == t.target {
		log.Debug("Order already at target status, replay ignored")
		return nil
	}
	if !t.appliesFrom(order.Status) {
		log.WithField("current_status", order.Status).Info("Stale payment event ignored")
		return nil
	}

	expected := order.Status
	updated, err := c.store.UpdateOrderStatus(ctx, orderID, store.StatusUpdate{
		Status:   t.target,
		Expected: &expected,
	})
	switch {
	case errors.Is(err, store.ErrConflict):
		// Another writer got there first; this event no longer applies.
		log.Info("Order status changed concurrently, payment event ignored")
		return nil
	case errors.Is(err, store.ErrNotFound):
		log.Error("Order disappeared before payment status write, discarding")
		return nil
	case err != nil:
		return apperr.Storage(op, err)
	}

	log.WithFields(logrus.Fields{
		"from": expected,
		"to":   updated.Status,
	}).Info("Order payment status updated")
	c.publish(updated)
	return nil
}

func (c *Confirmer) publish(order *models.Order) {
	if c.publisher == nil {
		return
	}
	event := models.ChangeEvent{
		ID:        uuid.New().String(),
		Table:     models.TableOrders,
		Kind:      models.ChangeUpdate,
		Order:     order,
		EventTime: time.Now().UTC(),
	}
	if err := c.publisher.Publish(event); err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Error("Failed to publish order change")
	}
}
