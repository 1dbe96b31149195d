package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/orderid"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store/memstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type response struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func setupRouter(t *testing.T, deps map[string]Pinger) *gin.Engine {
	router, _ := setupRouterWithRedis(t, deps)
	return router
}

func setupRouterWithRedis(t *testing.T, deps map[string]Pinger) (*gin.Engine, *miniredis.Miniredis) {
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	cache := redisclient.NewFromRedis(rdb)

	repo := memstore.NewMemoryStore()
	orders := service.NewOrderService(repo, cache, nil, orderid.NewGenerator(orderid.DefaultPrefix),
		service.OrderServiceConfig{
			Regions:         []string{"Addis Ababa", "Oromia"},
			MaxIDAttempts:   5,
			CacheTTL:        time.Minute,
			IdempotencyWait: 200 * time.Millisecond,
		})
	catalog := service.NewCatalogService(repo)
	team := service.NewTeamService(repo, cache, time.Second)

	router := gin.New()
	NewHandler(orders, catalog, team, Options{
		CORSOrigins:  []string{"http://localhost:3000"},
		MaxBodyBytes: 64 << 10,
		Dependencies: deps,
	}).SetupRoutes(router)
	return router, mr
}

func do(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

const validOrder = `{
	"customer": {"fullName": "Abebe Kebede", "phone": "0911000000", "address": "Bole", "region": "Addis Ababa"},
	"items": [
		{"productId": "p1", "name": "Tomatoes", "price": 50, "quantity": 2},
		{"productId": "p2", "name": "Onions", "price": 30, "quantity": 1}
	],
	"total": 130
}`

func TestCreateListAndUpdateOrder(t *testing.T) {
	router := setupRouter(t, nil)

	w, resp := do(t, router, http.MethodPost, "/api/orders", validOrder)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.True(t, resp.Success)

	var created service.CreateOrderResponse
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Regexp(t, `^GAF-\d{4}$`, created.OrderID)
	assert.NotEmpty(t, created.ID)

	w, resp = do(t, router, http.MethodGet, "/api/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	var orders []models.Order
	require.NoError(t, json.Unmarshal(resp.Data, &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusPending, orders[0].Status)
	assert.Equal(t, 130.0, orders[0].Total)
	assert.Len(t, orders[0].Items, 2)

	w, resp = do(t, router, http.MethodPut, "/api/orders/"+created.ID+"/status", `{"status":"delivered"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Order
	require.NoError(t, json.Unmarshal(resp.Data, &updated))
	assert.Equal(t, models.OrderStatusDelivered, updated.Status)
	assert.True(t, updated.UpdatedAt.After(orders[0].UpdatedAt))

	// the listing reflects the change despite the cache
	_, resp = do(t, router, http.MethodGet, "/api/orders", "")
	require.NoError(t, json.Unmarshal(resp.Data, &orders))
	assert.Equal(t, models.OrderStatusDelivered, orders[0].Status)

	w, resp = do(t, router, http.MethodGet, "/api/orders/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), created.OrderID)
}

func TestCreateOrderValidation(t *testing.T) {
	router := setupRouter(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"customer":`},
		{"missing items", `{"customer":{"fullName":"A","phone":"1","address":"x","region":"Oromia"},"total":10}`},
		{"missing total", `{"customer":{"fullName":"A","phone":"1","address":"x","region":"Oromia"},"items":[{"productId":"p1","name":"n","price":1,"quantity":1}]}`},
		{"zero quantity", `{"customer":{"fullName":"A","phone":"1","address":"x","region":"Oromia"},"items":[{"productId":"p1","name":"n","price":1,"quantity":0}],"total":1}`},
		{"missing phone", `{"customer":{"fullName":"A","address":"x","region":"Oromia"},"items":[{"productId":"p1","name":"n","price":1,"quantity":1}],"total":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, router, http.MethodPost, "/api/orders", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestCreateOrderUnknownRegion(t *testing.T) {
	router := setupRouter(t, nil)

	body := strings.Replace(validOrder, "Addis Ababa", "Atlantis", 1)
	w, resp := do(t, router, http.MethodPost, "/api/orders", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "unknown region", resp.Errors["customer.region"])
}

func TestCreateOrderIdempotencyKey(t *testing.T) {
	router := setupRouter(t, nil)

	send := func() service.CreateOrderResponse {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(validOrder))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "abc-123")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusCreated, w.Code)

		var resp response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		var created service.CreateOrderResponse
		require.NoError(t, json.Unmarshal(resp.Data, &created))
		return created
	}

	assert.Equal(t, send(), send())

	_, resp := do(t, router, http.MethodGet, "/api/orders", "")
	var orders []models.Order
	require.NoError(t, json.Unmarshal(resp.Data, &orders))
	assert.Len(t, orders, 1)
}

func TestCreateOrderKeyHeldByRunningRequest(t *testing.T) {
	router, mr := setupRouterWithRedis(t, nil)

	// another replica reserved the key and has not finished
	require.NoError(t, mr.Set("idempotency:busy-key", "__pending__"))

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(validOrder))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "busy-key")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)

	_, resp = do(t, router, http.MethodGet, "/api/orders", "")
	var orders []models.Order
	require.NoError(t, json.Unmarshal(resp.Data, &orders))
	assert.Empty(t, orders)
}

func TestUpdateStatusErrors(t *testing.T) {
	router := setupRouter(t, nil)

	_, resp := do(t, router, http.MethodPost, "/api/orders", validOrder)
	var created service.CreateOrderResponse
	require.NoError(t, json.Unmarshal(resp.Data, &created))

	w, resp := do(t, router, http.MethodPut, "/api/orders/"+created.ID+"/status", `{"status":"shipped"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "invalid order status")

	w, resp = do(t, router, http.MethodPut, "/api/orders/"+created.ID+"/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)

	w, resp = do(t, router, http.MethodPut, "/api/orders/999/status", `{"status":"delivered"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)

	w, _ = do(t, router, http.MethodGet, "/api/orders/999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProductRoutes(t *testing.T) {
	router := setupRouter(t, nil)

	w, resp := do(t, router, http.MethodPost, "/api/products",
		`{"name":"Tomatoes","description":"fresh","price":50,"category":"Vegetables","stock":10}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tomato models.Product
	require.NoError(t, json.Unmarshal(resp.Data, &tomato))

	_, _ = do(t, router, http.MethodPost, "/api/products", `{"name":"Mango","price":80,"category":"Fruits"}`)

	w, resp = do(t, router, http.MethodGet, "/api/products?category=vegetables", "")
	require.Equal(t, http.StatusOK, w.Code)
	var products []models.Product
	require.NoError(t, json.Unmarshal(resp.Data, &products))
	require.Len(t, products, 1)
	assert.Equal(t, "Tomatoes", products[0].Name)

	_, resp = do(t, router, http.MethodGet, "/api/products?search=man", "")
	require.NoError(t, json.Unmarshal(resp.Data, &products))
	require.Len(t, products, 1)
	assert.Equal(t, "Mango", products[0].Name)

	_, resp = do(t, router, http.MethodGet, "/api/products/categories", "")
	var categories []string
	require.NoError(t, json.Unmarshal(resp.Data, &categories))
	assert.Equal(t, []string{"Fruits", "Vegetables"}, categories)

	w, _ = do(t, router, http.MethodPut, "/api/products/"+tomato.ID,
		`{"name":"Tomatoes","price":45,"category":"Vegetables"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, router, http.MethodPost, "/api/products", `{"name":"Bad","category":"X","image":"data:image/png;base64,###"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, router, http.MethodDelete, "/api/products/"+tomato.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, resp = do(t, router, http.MethodGet, "/api/products/"+tomato.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
}

func TestTeamSecondLeaderConflict(t *testing.T) {
	router := setupRouter(t, nil)

	w, _ := do(t, router, http.MethodPost, "/api/team", `{"name":"Almaz","role":"Founder","isLeader":true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, resp := do(t, router, http.MethodPost, "/api/team", `{"name":"Dawit","role":"Lead","isLeader":true}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, resp.Success)

	w, _ = do(t, router, http.MethodPut, "/api/team/999", `{"name":"Ghost","role":"None"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, router, http.MethodPost, "/api/team", `{"name":"Sara","role":"Sales","email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, resp = do(t, router, http.MethodGet, "/api/team", "")
	var members []models.TeamMember
	require.NoError(t, json.Unmarshal(resp.Data, &members))
	assert.Len(t, members, 1)
}

func TestRegions(t *testing.T) {
	router := setupRouter(t, nil)

	_, resp := do(t, router, http.MethodGet, "/api/regions", "")
	var regions []string
	require.NoError(t, json.Unmarshal(resp.Data, &regions))
	assert.Equal(t, []string{"Addis Ababa", "Oromia"}, regions)
}

func TestHealthAndReadiness(t *testing.T) {
	healthy := pingFunc(func(ctx context.Context) error { return nil })
	down := pingFunc(func(ctx context.Context) error { return errors.New("connection refused") })

	router := setupRouter(t, map[string]Pinger{"store": healthy})
	w, _ := do(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, router, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)

	router = setupRouter(t, map[string]Pinger{"store": healthy, "redis": down})
	w, _ = do(t, router, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestBodyLimit(t *testing.T) {
	router := setupRouter(t, nil)

	big := bytes.Repeat([]byte("A"), 70<<10)
	body := `{"name":"Huge","category":"X","image":"data:image/png;base64,` + string(big) + `"}`
	w, resp := do(t, router, http.MethodPost, "/api/products", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.False(t, resp.Success)
}

func TestCORSPreflight(t *testing.T) {
	router := setupRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	router := setupRouter(t, nil)

	w, resp := do(t, router, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
}
