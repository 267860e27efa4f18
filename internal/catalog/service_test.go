package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/internal/store"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

func setupCatalogTest(t *testing.T) (*Service, *mux.Router) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	svc := NewService(store.NewMemoryStore(), nil, logger)
	h := NewHandler(svc, logger)
	router := mux.NewRouter()
	router.HandleFunc("/api/products", h.ListPublic).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/products", h.ListAdmin).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/products", h.Create).Methods(http.MethodPost)
	router.HandleFunc("/api/admin/products/{id}", h.Update).Methods(http.MethodPatch)
	router.HandleFunc("/api/admin/products/{id}", h.Delete).Methods(http.MethodDelete)
	return svc, router
}

func do(router *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type productBody struct {
	Product struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		Category       string `json:"category"`
		InventoryCount *int64 `json:"inventory_count"`
		OutOfStock     bool   `json:"is_out_of_stock"`
	} `json:"product"`
}

func TestCreateAndListProducts(t *testing.T) {
	_, router := setupCatalogTest(t)

	w := do(router, http.MethodPost, "/api/admin/products",
		`{"name": "Eggs", "price_cents": 450, "category": "groceries", "inventory_count": 24}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created productBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotNil(t, created.Product.InventoryCount)
	assert.Equal(t, int64(24), *created.Product.InventoryCount)

	w = do(router, http.MethodPost, "/api/admin/products",
		`{"name": "Baguette", "price_cents": "350", "category": "bakery"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(router, http.MethodGet, "/api/admin/products?is_grocery=false", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Products []struct {
			Name           string `json:"name"`
			InventoryCount *int64 `json:"inventory_count"`
		} `json:"products"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Products, 1)
	assert.Equal(t, "Baguette", list.Products[0].Name)
	assert.Nil(t, list.Products[0].InventoryCount)

	w = do(router, http.MethodGet, "/api/products?category=groceries", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Products, 1)
	assert.Equal(t, "Eggs", list.Products[0].Name)
}

func TestCreateProductValidation(t *testing.T) {
	_, router := setupCatalogTest(t)

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/api/admin/products",
		`{"name": "Eggs", "category": "groceries"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/api/admin/products",
		`{"name": "Eggs", "price_cents": 0, "category": "groceries"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/api/admin/products",
		`{"name": "Eggs", "price_cents": 100, "category": "groceries", "inventory_count": -2}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/api/admin/products",
		`{"name": "Tart", "price_cents": 100, "category": "bakery", "inventory_count": 5}`).Code)
}

func TestUpdateProductPartially(t *testing.T) {
	svc, router := setupCatalogTest(t)
	count := int64(6)
	p, err := svc.Create(context.Background(), NewProduct{Name: "Milk", PriceCents: 200, Category: "groceries", Count: &count})
	require.NoError(t, err)

	w := do(router, http.MethodPatch, "/api/admin/products/"+p.ID, `{"name": "Whole Milk"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated productBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "Whole Milk", updated.Product.Name)
	require.NotNil(t, updated.Product.InventoryCount)
	assert.Equal(t, int64(6), *updated.Product.InventoryCount)

	w = do(router, http.MethodPatch, "/api/admin/products/"+p.ID, `{"is_out_of_stock": true}`)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.True(t, updated.Product.OutOfStock)

	w = do(router, http.MethodPatch, "/api/admin/products/"+p.ID, `{"inventory_count": null}`)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Nil(t, updated.Product.InventoryCount)

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPatch, "/api/admin/products/"+p.ID, `{}`).Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodPatch, "/api/admin/products/nope", `{"name": "x"}`).Code)
}

func TestMovingOutOfGroceriesDropsCount(t *testing.T) {
	svc, _ := setupCatalogTest(t)
	count := int64(3)
	p, err := svc.Create(context.Background(), NewProduct{Name: "Jam", PriceCents: 600, Category: "groceries", Count: &count})
	require.NoError(t, err)

	category := "pantry"
	updated, err := svc.Update(context.Background(), p.ID, ProductPatch{Category: &category})
	require.NoError(t, err)
	assert.Equal(t, models.InventoryUntracked, updated.Inventory.Kind())
}

func TestDeleteProduct(t *testing.T) {
	svc, router := setupCatalogTest(t)
	p, err := svc.Create(context.Background(), NewProduct{Name: "Quiche", PriceCents: 900, Category: "bakery"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(router, http.MethodDelete, "/api/admin/products/"+p.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodDelete, "/api/admin/products/"+p.ID, "").Code)

	err = svc.Delete(context.Background(), p.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCategoriesAreStoredNormalized(t *testing.T) {
	svc, _ := setupCatalogTest(t)
	count := int64(12)
	eggs, err := svc.Create(context.Background(), NewProduct{Name: "Eggs", PriceCents: 450, Category: " Groceries ", Count: &count})
	require.NoError(t, err)
	assert.Equal(t, "groceries", eggs.Category)

	tart, err := svc.Create(context.Background(), NewProduct{Name: "Tart", PriceCents: 500, Category: "bakery"})
	require.NoError(t, err)
	category := "BAKERY"
	tart, err = svc.Update(context.Background(), tart.ID, ProductPatch{Category: &category})
	require.NoError(t, err)
	assert.Equal(t, "bakery", tart.Category)

	for _, filter := range []string{"groceries", "Groceries", " GROCERIES"} {
		products, err := svc.List(context.Background(), store.ProductFilter{Category: filter})
		require.NoError(t, err)
		require.Len(t, products, 1, filter)
		assert.Equal(t, "Eggs", products[0].Name)
	}

	grocery := true
	products, err := svc.List(context.Background(), store.ProductFilter{Grocery: &grocery})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Eggs", products[0].Name)
}
