package legacymenu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtogo/foodorders/internal/contracts"
)

func newSeededServer(t *testing.T) (*httptest.Server, *Repository) {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "menu.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.Seed(context.Background()))
	require.NoError(t, repo.Seed(context.Background()), "seeding twice must be harmless")

	srv := httptest.NewServer(NewServer(repo, zerolog.Nop()).Routes([]string{"*"}))
	t.Cleanup(srv.Close)
	return srv, repo
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	return resp.StatusCode, raw
}

func TestGetMenu(t *testing.T) {
	srv, _ := newSeededServer(t)

	status, body := get(t, srv.URL+"/api/legacy/menu/"+contracts.SeedRestaurantID)
	require.Equal(t, http.StatusOK, status)
	var items []struct {
		ID    string  `json:"id"`
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}
	require.NoError(t, json.Unmarshal(body, &items))
	require.Len(t, items, 3)
	prices := map[string]float64{}
	for _, it := range items {
		prices[it.ID] = it.Price
	}
	assert.Equal(t, 79.0, prices[contracts.SeedBurgerID])
	assert.Equal(t, 29.0, prices[contracts.SeedFriesID])
	assert.Equal(t, 19.0, prices[contracts.SeedSodaID])
}

func TestGetMenuNotFound(t *testing.T) {
	srv, _ := newSeededServer(t)

	status, body := get(t, srv.URL+"/api/legacy/menu/99999999-9999-9999-9999-999999999999")
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{"message":"Restaurant not found"}`, string(body))

	status, _ = get(t, srv.URL+"/api/legacy/menu/not-a-guid")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGetMenuItem(t *testing.T) {
	srv, _ := newSeededServer(t)

	status, body := get(t, srv.URL+"/api/legacy/menu/item/"+contracts.SeedFriesID)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":"`+contracts.SeedFriesID+`","restaurantId":"`+contracts.SeedRestaurantID+`","name":"Fries","price":29.00}`, string(body))

	status, _ = get(t, srv.URL+"/api/legacy/menu/item/99999999-9999-9999-9999-999999999999")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRestaurantWithoutItems(t *testing.T) {
	srv, repo := newSeededServer(t)
	const id = "55555555-5555-5555-5555-555555555555"
	require.NoError(t, repo.AddRestaurant(context.Background(), Restaurant{ID: id, Name: "Empty Kitchen"}))

	status, body := get(t, srv.URL+"/api/legacy/menu/"+id)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))
}

func TestHealth(t *testing.T) {
	srv, _ := newSeededServer(t)
	status, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok","service":"legacy-menu"}`, string(body))
}

func TestAddedMenuItemIsServed(t *testing.T) {
	srv, repo := newSeededServer(t)
	ctx := context.Background()
	const (
		restaurantID = "66666666-6666-6666-6666-666666666666"
		itemID       = "77777777-7777-7777-7777-777777777777"
	)
	require.NoError(t, repo.AddRestaurant(ctx, Restaurant{ID: restaurantID, Name: "Taco Corner"}))
	require.NoError(t, repo.AddMenuItem(ctx, MenuItem{
		ID: itemID, RestaurantID: restaurantID, Name: "Taco", Price: decimal.RequireFromString("12.5"),
	}))

	status, body := get(t, srv.URL+"/api/legacy/menu/"+restaurantID)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[{"id":"`+itemID+`","name":"Taco","price":12.50}]`, string(body))

	status, body = get(t, srv.URL+"/api/legacy/menu/item/"+itemID)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":"`+itemID+`","restaurantId":"`+restaurantID+`","name":"Taco","price":12.50}`, string(body))

	// menu items belong to an existing restaurant
	err := repo.AddMenuItem(ctx, MenuItem{
		ID: "88888888-8888-8888-8888-888888888888", RestaurantID: "99999999-9999-9999-9999-999999999999",
		Name: "Ghost", Price: decimal.RequireFromString("1.00"),
	})
	assert.Error(t, err)
}
