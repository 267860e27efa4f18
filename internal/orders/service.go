package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/internal/sanitize"
	"github.com/jogardn/fromentine-orders/internal/store"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

const (
	maxNameLen    = 255
	maxPhoneLen   = 50
	maxAddressLen = 500
	maxReasonLen  = 500
)

type Store interface {
	InsertOrder(ctx context.Context, order *models.Order) error
	InsertItems(ctx context.Context, orderID string, items []models.OrderItem) error
	DeleteOrder(ctx context.Context, id string) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, filter store.OrderFilter) ([]*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, update store.StatusUpdate) (*models.Order, error)
}

// AtomicCreator is implemented by stores that can write an order and its
// items in one transaction. When present the compensating delete is skipped.
type AtomicCreator interface {
	CreateOrderWithItems(ctx context.Context, order *models.Order) error
}

type ChangePublisher interface {
	Publish(event models.ChangeEvent) error
}

type AddressData struct {
	FormattedAddress string `json:"formatted_address"`
}

type ItemInput struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Qty        int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

type CreateOrderInput struct {
	LocationID      string           `json:"locationId"`
	CustomerName    string           `json:"customerName"`
	CustomerPhone   string           `json:"customerPhone"`
	CustomerAddress string           `json:"customerAddress"`
	AddressData     *AddressData     `json:"addressData,omitempty"`
	Type            models.OrderType `json:"orderType"`
	Items           []ItemInput      `json:"items"`
	TotalCents      int64            `json:"totalCents"`

	// PaymentGated starts the order at PENDING_PAYMENT instead of RECEIVED.
	PaymentGated bool `json:"-"`
}

type Service struct {
	store     Store
	publisher ChangePublisher
	logger    *logrus.Logger
	strict    bool
	now       func() time.Time
}

func NewService(st Store, publisher ChangePublisher, logger *logrus.Logger) *Service {
	return &Service{
		store:     st,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetStrictStatusUpdates makes SetStatus write only if the status it read
// is still current. A lost race is reported as an invalid transition.
func (s *Service) SetStrictStatusUpdates(strict bool) {
	s.strict = strict
}

func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	const op = "orders.create"

	order, err := s.buildOrder(in)
	if err != nil {
		return nil, err
	}

	if creator, ok := s.store.(AtomicCreator); ok {
		if err := creator.CreateOrderWithItems(ctx, order); err != nil {
			return nil, apperr.Storage(op, err)
		}
	} else if err := s.createWithCompensation(ctx, order); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"location_id": order.LocationID,
		"type":        order.Type,
		"status":      order.Status,
		"total_cents": order.TotalCents,
		"items_count": len(order.Items),
	}).Info("Order created successfully")

	s.publish(models.ChangeInsert, order)
	return order, nil
}

// createWithCompensation inserts the order, then its items, and deletes the
// order again if the items cannot be written.
func (s *Service) createWithCompensation(ctx context.Context, order *models.Order) error {
	const op = "orders.create"

	if err := s.store.InsertOrder(ctx, order); err != nil {
		return apperr.Storage(op, err)
	}
	if err := s.store.InsertItems(ctx, order.ID, order.Items); err != nil {
		storageErr := apperr.Storage(op, err)
		s.logger.WithError(err).WithField("order_id", order.ID).Error("Failed to insert order items, deleting order")

		if delErr := s.store.DeleteOrder(context.WithoutCancel(ctx), order.ID); delErr != nil {
			s.logger.WithError(delErr).WithField("order_id", order.ID).Warn("Compensating delete failed, partial order left behind")
			return apperr.Compensation(op, storageErr, delErr)
		}
		return storageErr
	}
	return nil
}

func (s *Service) buildOrder(in CreateOrderInput) (*models.Order, error) {
	const op = "orders.create"

	name := sanitize.Text(in.CustomerName, maxNameLen)
	phone := sanitize.Text(in.CustomerPhone, maxPhoneLen)
	var address string
	if in.Type == models.OrderTypeDelivery {
		if in.AddressData != nil {
			address = sanitize.Text(in.AddressData.FormattedAddress, maxAddressLen)
		}
		if address == "" {
			address = sanitize.Text(in.CustomerAddress, maxAddressLen)
		}
	}

	switch {
	case in.LocationID == "":
		return nil, apperr.Validation(op, "location is required")
	case name == "":
		return nil, apperr.Validation(op, "customer name is required")
	case phone == "":
		return nil, apperr.Validation(op, "customer phone is required")
	case !in.Type.Valid():
		return nil, apperr.Validation(op, "order type must be pickup or delivery")
	case in.Type == models.OrderTypeDelivery && address == "":
		return nil, apperr.Validation(op, "delivery address required for delivery orders")
	case len(in.Items) == 0:
		return nil, apperr.Validation(op, "order must contain at least one item")
	case in.TotalCents <= 0:
		return nil, apperr.Validation(op, "total must be a positive amount in cents")
	}

	items := make([]models.OrderItem, 0, len(in.Items))
	for i, item := range in.Items {
		switch {
		case item.ProductID == "":
			return nil, apperr.Validationf(op, "item %d: product is required", i+1)
		case item.Qty <= 0:
			return nil, apperr.Validationf(op, "item %d: quantity must be positive", i+1)
		case item.PriceCents < 0:
			return nil, apperr.Validationf(op, "item %d: price must not be negative", i+1)
		}
		items = append(items, models.OrderItem{
			ProductID:  item.ProductID,
			Name:       sanitize.Text(item.Name, maxNameLen),
			Qty:        item.Qty,
			PriceCents: item.PriceCents,
		})
	}

	status := models.StatusReceived
	if in.PaymentGated {
		status = models.StatusPendingPayment
	}
	now := s.now()
	id := uuid.New().String()
	for i := range items {
		items[i].OrderID = id
	}
	return &models.Order{
		ID:              id,
		LocationID:      in.LocationID,
		CustomerName:    name,
		CustomerPhone:   phone,
		CustomerAddress: address,
		Type:            in.Type,
		Status:          status,
		TotalCents:      in.TotalCents,
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	const op = "orders.get"
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound(op, "order not found")
		}
		return nil, apperr.Storage(op, err)
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, status models.Status) ([]*models.Order, error) {
	const op = "orders.list"
	if status != "" && !status.Valid() {
		return nil, apperr.Validation(op, "unknown status filter")
	}
	orders, err := s.store.ListOrders(ctx, store.OrderFilter{Status: status})
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return orders, nil
}

// SetStatus reads the order, validates the move and writes the new status.
// The returned order is the stored row after the write.
func (s *Service) SetStatus(ctx context.Context, id string, requested models.Status, cancelReason string) (*models.Order, error) {
	const op = "orders.set_status"

	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Validate(current.Status, requested); err != nil {
		return nil, err
	}

	update := store.StatusUpdate{Status: requested}
	if requested == models.StatusCancelled {
		update.CancelReason = sanitize.Text(cancelReason, maxReasonLen)
	}
	if s.strict {
		expected := current.Status
		update.Expected = &expected
	}

	updated, err := s.store.UpdateOrderStatus(ctx, id, update)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.NotFound(op, "order not found")
	case errors.Is(err, store.ErrConflict):
		return nil, apperr.InvalidTransition(op, "order status changed since it was read, reload and retry")
	case err != nil:
		return nil, apperr.Storage(op, err)
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": id,
		"from":     current.Status,
		"to":       updated.Status,
	}).Info("Order status updated")

	s.publish(models.ChangeUpdate, updated)
	return updated, nil
}

func (s *Service) publish(kind models.ChangeKind, order *models.Order) {
	if s.publisher == nil {
		return
	}
	event := models.ChangeEvent{
		ID:        uuid.New().String(),
		Table:     models.TableOrders,
		Kind:      kind,
		Order:     order,
		EventTime: s.now(),
	}
	if err := s.publisher.Publish(event); err != nil {
		// Don't fail the request, watchers catch up on the next change
		s.logger.WithError(err).WithField("order_id", order.ID).Error("Failed to publish order change")
	}
}
