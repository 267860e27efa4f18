package inventory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/internal/store"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

type Store interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	UpdateInventory(ctx context.Context, id string, inventory models.Inventory) (*models.Product, error)
}

type ChangePublisher interface {
	Publish(event models.ChangeEvent) error
}

type Service struct {
	store     Store
	publisher ChangePublisher
	logger    *logrus.Logger
}

func NewService(st Store, publisher ChangePublisher, logger *logrus.Logger) *Service {
	return &Service{store: st, publisher: publisher, logger: logger}
}

type Update struct {
	// Category is optional. When given it must match the stored product.
	Category   string
	Count      *int64
	OutOfStock *bool
}

// UpdateInventory reconciles the update against the product's stored
// category and writes the result.
func (s *Service) UpdateInventory(ctx context.Context, productID string, u Update) (*models.Product, error) {
	const op = "inventory.update"

	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound(op, "product not found")
		}
		return nil, apperr.Storage(op, err)
	}

	if c := strings.TrimSpace(u.Category); c != "" && !strings.EqualFold(c, product.Category) {
		return nil, apperr.Validationf(op, "category %q does not match product category %q", c, product.Category)
	}

	next, err := Reconcile(product.Category, product.Inventory, u.Count, u.OutOfStock)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateInventory(ctx, productID, next)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound(op, "product not found")
		}
		return nil, apperr.Storage(op, err)
	}

	s.logger.WithFields(logrus.Fields{
		"product_id": productID,
		"category":   product.Category,
		"from":       product.Inventory.String(),
		"to":         next.String(),
	}).Info("Inventory updated")

	if s.publisher != nil {
		event := models.ChangeEvent{
			ID:        uuid.New().String(),
			Table:     models.TableProducts,
			Kind:      models.ChangeUpdate,
			Product:   updated,
			EventTime: time.Now().UTC(),
		}
		if err := s.publisher.Publish(event); err != nil {
			s.logger.WithError(err).WithField("product_id", productID).Error("Failed to publish product change")
		}
	}
	return updated, nil
}
