package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GroceriesCategory selects counted inventory semantics; every other
// category is binary in/out of stock.
const GroceriesCategory = "groceries"

// NormalizeCategory is the stored form of a category: trimmed, lower case.
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

func IsGrocery(category string) bool {
	return NormalizeCategory(category) == GroceriesCategory
}

type InventoryKind int

const (
	InventoryUntracked InventoryKind = iota
	InventoryOutOfStock
	InventoryInStock
)

func (k InventoryKind) String() string {
	switch k {
	case InventoryUntracked:
		return "untracked"
	case InventoryOutOfStock:
		return "out_of_stock"
	case InventoryInStock:
		return "in_stock"
	default:
		return "unknown"
	}
}

// Inventory replaces the nullable inventory_count column. On the wire and in
// storage it is still null (Untracked), 0 (OutOfStock) or a positive count.
type Inventory struct {
	kind  InventoryKind
	count int64
}

func Untracked() Inventory {
	return Inventory{kind: InventoryUntracked}
}

func OutOfStock() Inventory {
	return Inventory{kind: InventoryOutOfStock}
}

// InStock returns a tracked count. A zero count collapses to OutOfStock.
func InStock(count int64) Inventory {
	if count <= 0 {
		return OutOfStock()
	}
	return Inventory{kind: InventoryInStock, count: count}
}

// InventoryFromCount maps the stored nullable column onto the variant.
func InventoryFromCount(count *int64) (Inventory, error) {
	if count == nil {
		return Untracked(), nil
	}
	if *count < 0 {
		return Inventory{}, fmt.Errorf("inventory count %d is negative", *count)
	}
	return InStock(*count), nil
}

func (i Inventory) Kind() InventoryKind { return i.kind }

func (i Inventory) Count() int64 { return i.count }

// OutOfStock is true only for a confirmed-empty product, never for untracked.
func (i Inventory) OutOfStock() bool {
	return i.kind == InventoryOutOfStock
}

// Column returns the nullable column value.
func (i Inventory) Column() *int64 {
	switch i.kind {
	case InventoryOutOfStock:
		zero := int64(0)
		return &zero
	case InventoryInStock:
		n := i.count
		return &n
	default:
		return nil
	}
}

func (i Inventory) String() string {
	if i.kind == InventoryInStock {
		return fmt.Sprintf("in_stock(%d)", i.count)
	}
	return i.kind.String()
}

func (i Inventory) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Column())
}

func (i *Inventory) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*i = Untracked()
		return nil
	}
	var count int64
	if err := json.Unmarshal(data, &count); err != nil {
		return fmt.Errorf("inventory count must be an integer or null: %w", err)
	}
	inv, err := InventoryFromCount(&count)
	if err != nil {
		return err
	}
	*i = inv
	return nil
}

type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Category    string    `json:"category"`
	ImageURL    string    `json:"image_url,omitempty"`
	Inventory   Inventory `json:"inventory_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (p Product) MarshalJSON() ([]byte, error) {
	type alias Product
	return json.Marshal(struct {
		alias
		OutOfStock bool `json:"is_out_of_stock"`
	}{alias: alias(p), OutOfStock: p.Inventory.OutOfStock()})
}
