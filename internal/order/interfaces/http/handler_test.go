package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	market "github.com/wyfcoding/economyengine/internal/market/domain"
	marketmysql "github.com/wyfcoding/economyengine/internal/market/infrastructure/persistence/mysql"
	"github.com/wyfcoding/economyengine/internal/order/application"
	"github.com/wyfcoding/economyengine/internal/order/domain"
	ordermysql "github.com/wyfcoding/economyengine/internal/order/infrastructure/persistence/mysql"
	simulation "github.com/wyfcoding/economyengine/internal/simulation/domain"
	"github.com/wyfcoding/economyengine/pkg/db"
	"github.com/wyfcoding/economyengine/pkg/logger"
)

type oneSession struct{ s *simulation.Session }

func (o oneSession) Get(_ context.Context, id string) (*simulation.Session, error) {
	if id != o.s.ID() {
		return nil, simulation.PreconditionError(id, "clock")
	}
	return o.s, nil
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	database, err := db.Init(db.Config{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	gdb := database.DB
	require.NoError(t, ordermysql.AutoMigrate(gdb))
	require.NoError(t, marketmysql.AutoMigrate(gdb))

	clock := simulation.NewClock("sim-1", time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC), time.Minute)
	require.NoError(t, clock.Start(time.Now()))
	bulk := market.NewMarket("sim-1", market.KindBulkMaterial, decimal.NewFromFloat(0.01), []market.InventoryLine{
		{ItemID: "copper", ItemName: "copper", UnitCost: decimal.NewFromInt(10), Quantity: decimal.NewFromInt(5)},
	})
	session := simulation.NewSession(clock, map[market.Kind]*market.Market{market.KindBulkMaterial: bulk})

	classifier, err := domain.NewItemClassifier(map[string]string{"1": "bulk_material"}, domain.FallbackReject)
	require.NoError(t, err)

	orders := ordermysql.NewOrderRepository(gdb)
	collections := ordermysql.NewCollectionRepository(gdb)
	manager := application.NewOrderManager(orders, collections, marketmysql.NewMarketRepository(gdb),
		oneSession{session}, classifier, db.NewTxManager(gdb), logger.Discard())
	svc := application.NewOrderService(manager, application.NewOrderQuery(orders, collections))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewOrderHandler(svc).RegisterRoutes(r.Group(""))
	return r
}

type envelope struct {
	Code string          `json:"code"`
	Data json.RawMessage `json:"data"`
}

func do(t *testing.T, r *gin.Engine, method, path, body string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	r := newRouter(t)

	status, env := do(t, r, http.MethodPost, "/api/v1/orders", `{"simulation_id":"sim-1","item_name":"copper","item_type_id":"1","quantity":"3"}`)
	require.Equal(t, http.StatusCreated, status)
	var created application.OrderDTO
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "30.00", created.TotalPrice)

	status, env = do(t, r, http.MethodPost, "/api/v1/orders/"+created.OrderID+"/pay", `{"company_name":"Acme"}`)
	require.Equal(t, http.StatusOK, status)
	var paid application.PayResult
	require.NoError(t, json.Unmarshal(env.Data, &paid))
	assert.True(t, paid.CanFulfill)
	assert.Equal(t, "completed", paid.Status)

	status, env = do(t, r, http.MethodPost, "/api/v1/orders/"+created.OrderID+"/pay", `{"company_name":"Acme"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ORDER_ALREADY_FINALIZED", env.Code)

	status, _ = do(t, r, http.MethodGet, "/api/v1/orders/"+created.OrderID+"/collection", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestInsufficientInventoryIsNotAnError(t *testing.T) {
	r := newRouter(t)

	_, env := do(t, r, http.MethodPost, "/api/v1/orders", `{"simulation_id":"sim-1","item_name":"copper","item_type_id":"1","quantity":"9"}`)
	var created application.OrderDTO
	require.NoError(t, json.Unmarshal(env.Data, &created))

	status, env := do(t, r, http.MethodPost, "/api/v1/orders/"+created.OrderID+"/pay", `{"company_name":"Acme"}`)
	require.Equal(t, http.StatusOK, status)
	var paid application.PayResult
	require.NoError(t, json.Unmarshal(env.Data, &paid))
	assert.False(t, paid.CanFulfill)
	assert.Equal(t, "5", paid.Available)
}

func TestErrorStatusMapping(t *testing.T) {
	r := newRouter(t)

	status, env := do(t, r, http.MethodGet, "/api/v1/orders/ORD-missing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "ORDER_NOT_FOUND", env.Code)

	status, env = do(t, r, http.MethodPost, "/api/v1/orders", `{"simulation_id":"sim-1","item_name":"copper","item_type_id":"9","quantity":"1"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "UNKNOWN_ITEM_TYPE", env.Code)

	status, _ = do(t, r, http.MethodPost, "/api/v1/orders", `{`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, r, http.MethodGet, "/api/v1/orders", "")
	assert.Equal(t, http.StatusBadRequest, status)
}
