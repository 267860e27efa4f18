// Package catalog serves the menu and the admin product editor.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/internal/inventory"
	"github.com/jogardn/fromentine-orders/internal/sanitize"
	"github.com/jogardn/fromentine-orders/internal/store"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

type Store interface {
	ListProducts(ctx context.Context, filter store.ProductFilter) ([]*models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	InsertProduct(ctx context.Context, product *models.Product) error
	UpdateProduct(ctx context.Context, product *models.Product) error
	DeleteProduct(ctx context.Context, id string) error
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

type NewProduct struct {
	Name        string
	Description string
	PriceCents  int64
	Category    string
	ImageURL    string
	Count       *int64
	OutOfStock  *bool
}

// ProductPatch carries only the fields to change. ClearInventory stops
// tracking stock altogether.
type ProductPatch struct {
	Name           *string
	Description    *string
	PriceCents     *int64
	Category       *string
	ImageURL       *string
	Count          *int64
	OutOfStock     *bool
	ClearInventory bool
}

func (p ProductPatch) empty() bool {
	return p.Name == nil && p.Description == nil && p.PriceCents == nil && p.Category == nil &&
		p.ImageURL == nil && p.Count == nil && p.OutOfStock == nil && !p.ClearInventory
}

func (s *Service) List(ctx context.Context, filter store.ProductFilter) ([]*models.Product, error) {
	filter.Category = models.NormalizeCategory(filter.Category)
	products, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		return nil, apperr.Storage("catalog.list", err)
	}
	if products == nil {
		products = []*models.Product{}
	}
	return products, nil
}

func (s *Service) Create(ctx context.Context, in NewProduct) (*models.Product, error) {
	const op = "catalog.create"

	name := sanitize.Text(in.Name, 255)
	category := models.NormalizeCategory(sanitize.Text(in.Category, 100))
	switch {
	case name == "" || category == "":
		return nil, apperr.Validation(op, "name, price_cents and category are required")
	case in.PriceCents <= 0:
		return nil, apperr.Validation(op, "price_cents must be a positive integer")
	}
	inv, err := inventory.Initial(category, in.Count, in.OutOfStock)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	product := &models.Product{
		ID:          uuid.New().String(),
		Name:        name,
		Description: sanitize.Text(in.Description, 2000),
		PriceCents:  in.PriceCents,
		Category:    category,
		ImageURL:    sanitize.Text(in.ImageURL, 2000),
		Inventory:   inv,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertProduct(ctx, product); err != nil {
		return nil, apperr.Storage(op, err)
	}

	s.logger.WithFields(logrus.Fields{
		"product_id": product.ID,
		"category":   product.Category,
	}).Info("Product created")
	s.publish(models.ChangeInsert, product)
	return product, nil
}

func (s *Service) Update(ctx context.Context, id string, patch ProductPatch) (*models.Product, error) {
	const op = "catalog.update"

	if patch.empty() {
		return nil, apperr.Validation(op, "no valid fields to update")
	}
	product, err := s.get(ctx, op, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if product.Name = sanitize.Text(*patch.Name, 255); product.Name == "" {
			return nil, apperr.Validation(op, "name must not be empty")
		}
	}
	if patch.Description != nil {
		product.Description = sanitize.Text(*patch.Description, 2000)
	}
	if patch.PriceCents != nil {
		if *patch.PriceCents <= 0 {
			return nil, apperr.Validation(op, "price_cents must be a positive integer")
		}
		product.PriceCents = *patch.PriceCents
	}
	if patch.Category != nil {
		if product.Category = models.NormalizeCategory(sanitize.Text(*patch.Category, 100)); product.Category == "" {
			return nil, apperr.Validation(op, "category must not be empty")
		}
	}
	if patch.ImageURL != nil {
		product.ImageURL = sanitize.Text(*patch.ImageURL, 2000)
	}

	switch {
	case patch.ClearInventory:
		product.Inventory = models.Untracked()
	case patch.Count != nil || patch.OutOfStock != nil:
		if product.Inventory, err = inventory.Reconcile(product.Category, product.Inventory, patch.Count, patch.OutOfStock); err != nil {
			return nil, err
		}
	case !models.IsGrocery(product.Category) && product.Inventory.Kind() == models.InventoryInStock:
		// Moved out of groceries: a count no longer means anything.
		product.Inventory = models.Untracked()
	}

	if err := s.store.UpdateProduct(ctx, product); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound(op, "product not found")
		}
		return nil, apperr.Storage(op, err)
	}

	s.logger.WithField("product_id", id).Info("Product updated")
	s.publish(models.ChangeUpdate, product)
	return product, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	const op = "catalog.delete"
	if err := s.store.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(op, "product not found")
		}
		return apperr.Storage(op, err)
	}
	s.logger.WithField("product_id", id).Info("Product deleted")
	return nil
}

func (s *Service) get(ctx context.Context, op, id string) (*models.Product, error) {
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound(op, "product not found")
		}
		return nil, apperr.Storage(op, err)
	}
	return product, nil
}

func (s *Service) publish(kind models.ChangeKind, product *models.Product) {
	if s.publisher == nil {
		return
	}
	event := models.ChangeEvent{
		ID:        uuid.New().String(),
		Table:     models.TableProducts,
		Kind:      kind,
		Product:   product,
		EventTime: time.Now().UTC(),
	}
	if err := s.publisher.Publish(event); err != nil {
		s.logger.WithError(err).WithField("product_id", product.ID).Error("Failed to publish product change")
	}
}
