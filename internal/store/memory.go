package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jogardn/fromentine-orders/pkg/models"
)

// MemoryStore keeps every table in process memory. It backs local runs with
// STORE_DRIVER=memory and the package tests; it offers no multi-table
// atomic commit, so order creation goes through the compensation path.
type MemoryStore struct {
	mutex     sync.RWMutex
	orders    map[string]*models.Order
	items     map[string][]models.OrderItem
	products  map[string]*models.Product
	locations map[string]models.Location
	contacts  []models.Contact
	nextItem  int64
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]*models.Order),
		items:     make(map[string][]models.OrderItem),
		products:  make(map[string]*models.Product),
		locations: make(map[string]models.Location),
		now:       time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) InsertOrder(_ context.Context, order *models.Order) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored := copyOrder(order)
	stored.Items = nil
	s.orders[order.ID] = stored
	return nil
}

func (s *MemoryStore) InsertItems(_ context.Context, orderID string, items []models.OrderItem) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.orders[orderID]; !ok {
		return ErrNotFound
	}
	for _, item := range items {
		s.nextItem++
		item.ID = s.nextItem
		item.OrderID = orderID
		s.items[orderID] = append(s.items[orderID], item)
	}
	return nil
}

func (s *MemoryStore) DeleteOrder(_ context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.orders[id]; !ok {
		return ErrNotFound
	}
	delete(s.orders, id)
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.hydrateLocked(order), nil
}

func (s *MemoryStore) ListOrders(_ context.Context, filter OrderFilter) ([]*models.Order, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var orders []*models.Order
	for _, order := range s.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		orders = append(orders, s.hydrateLocked(order))
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, id string, update StatusUpdate) (*models.Order, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if update.Expected != nil && order.Status != *update.Expected {
		return nil, ErrConflict
	}
	order.Status = update.Status
	order.CancelReason = update.CancelReason
	order.UpdatedAt = s.now()
	return s.hydrateLocked(order), nil
}

func (s *MemoryStore) hydrateLocked(order *models.Order) *models.Order {
	out := copyOrder(order)
	out.Items = append([]models.OrderItem(nil), s.items[order.ID]...)
	if loc, ok := s.locations[order.LocationID]; ok {
		out.LocationName = loc.Name
	}
	return out
}

func (s *MemoryStore) ListProducts(_ context.Context, filter ProductFilter) ([]*models.Product, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var products []*models.Product
	for _, p := range s.products {
		if !matchesProduct(p, filter) {
			continue
		}
		c := *p
		products = append(products, &c)
	}
	sort.Slice(products, func(i, j int) bool {
		return strings.ToLower(products[i].Name) < strings.ToLower(products[j].Name)
	})
	return products, nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*models.Product, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *MemoryStore) InsertProduct(_ context.Context, product *models.Product) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	c := *product
	s.products[product.ID] = &c
	return nil
}

func (s *MemoryStore) UpdateProduct(_ context.Context, product *models.Product) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.products[product.ID]; !ok {
		return ErrNotFound
	}
	c := *product
	c.UpdatedAt = s.now()
	s.products[product.ID] = &c
	product.UpdatedAt = c.UpdatedAt
	return nil
}

func (s *MemoryStore) UpdateInventory(_ context.Context, id string, inventory models.Inventory) (*models.Product, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Inventory = inventory
	p.UpdatedAt = s.now()
	c := *p
	return &c, nil
}

func (s *MemoryStore) DeleteProduct(_ context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.products[id]; !ok {
		return ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *MemoryStore) SeedLocations(locations ...models.Location) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, loc := range locations {
		s.locations[loc.ID] = loc
	}
}

func (s *MemoryStore) ListLocations(context.Context) ([]models.Location, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	locations := make([]models.Location, 0, len(s.locations))
	for _, loc := range s.locations {
		locations = append(locations, loc)
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].Name < locations[j].Name })
	return locations, nil
}

func (s *MemoryStore) GetLocation(_ context.Context, id string) (*models.Location, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	loc, ok := s.locations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &loc, nil
}

func (s *MemoryStore) InsertContact(_ context.Context, contact *models.Contact) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.contacts = append(s.contacts, *contact)
	return nil
}

func (s *MemoryStore) Contacts() []models.Contact {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return append([]models.Contact(nil), s.contacts...)
}
