package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"loop-economy/config"
	"loop-economy/services"
	"loop-economy/store"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	app    *fiber.App
	engine *services.Engine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	econ := config.DefaultEconomy()
	econ.Catalog = []config.CatalogSeed{
		{Slug: "rose", Name: "Rose", CoinPrice: 10, Multiplier: 1, GrantsInventory: true},
		{Slug: "rocket", Name: "Rocket", CoinPrice: 50, Multiplier: 4, GrantsInventory: true},
	}
	engine := services.NewEngine(store.NewMemoryStore(), services.Options{
		Economy: econ,
		Clock:   func() time.Time { return testNow },
	})
	require.NoError(t, engine.Seed(context.Background()))

	app := fiber.New()
	SetupRoutes(app, Deps{Engine: engine})
	return &testAPI{app: app, engine: engine}
}

type call struct {
	method, path string
	body         any
	userID       string
	roles        string
	key          string
}

func (a *testAPI) do(t *testing.T, c call) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, reader)
	req.Header.Set("Content-Type", "application/json")
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	if c.roles != "" {
		req.Header.Set("X-User-Roles", c.roles)
	}
	if c.key != "" {
		req.Header.Set("Idempotency-Key", c.key)
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (a *testAPI) itemID(t *testing.T, slug string) string {
	t.Helper()
	items, err := a.engine.ListCatalog(context.Background())
	require.NoError(t, err)
	for _, it := range items {
		if it.Slug == slug {
			return it.ID
		}
	}
	t.Fatalf("no item %q", slug)
	return ""
}

func (a *testAPI) grant(t *testing.T, userID string, amount int64) {
	t.Helper()
	status, body := a.do(t, call{
		method: http.MethodPost, path: "/s/admin/coins/grant",
		userID: "admin-1", roles: "admin",
		body: map[string]any{"user_id": userID, "amount": amount},
	})
	require.Equal(t, http.StatusOK, status, body)
}

func TestCatalogIsPublic(t *testing.T) {
	api := newTestAPI(t)
	status, body := api.do(t, call{method: http.MethodGet, path: "/catalog"})
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["items"], 2)
}

func TestUserRoutesNeedIdentity(t *testing.T) {
	api := newTestAPI(t)
	status, body := api.do(t, call{method: http.MethodGet, path: "/user/overview"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["error"])
}

func TestSendGiftFlow(t *testing.T) {
	api := newTestAPI(t)
	rose := api.itemID(t, "rose")

	status, body := api.do(t, call{
		method: http.MethodPost, path: "/user/gifts", userID: "alice",
		body: map[string]any{"recipient_id": "bob", "item_id": "not-a-uuid"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALIDATION_ERROR", body["error"])

	status, body = api.do(t, call{
		method: http.MethodPost, path: "/user/gifts", userID: "alice",
		body: map[string]any{"recipient_id": "bob", "item_id": rose},
	})
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "INSUFFICIENT_FUNDS", body["error"])

	api.grant(t, "alice", 25)

	status, body = api.do(t, call{
		method: http.MethodPost, path: "/user/gifts", userID: "alice", key: "k-1",
		body: map[string]any{"recipient_id": "bob", "item_id": rose, "message": "hi"},
	})
	require.Equal(t, http.StatusCreated, status, body)
	giftID := body["id"]

	status, body = api.do(t, call{
		method: http.MethodPost, path: "/user/gifts", userID: "alice", key: "k-1",
		body: map[string]any{"recipient_id": "bob", "item_id": rose, "message": "hi"},
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, giftID, body["id"])

	status, body = api.do(t, call{method: http.MethodGet, path: "/user/overview", userID: "alice"})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 15, body["balance"])

	status, body = api.do(t, call{method: http.MethodGet, path: "/user/inventory", userID: "bob"})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["items"], 1)

	status, body = api.do(t, call{method: http.MethodGet, path: "/user/ledger?limit=1", userID: "alice"})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["entries"], 1)
	assert.NotEmpty(t, body["next_cursor"])
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	api := newTestAPI(t)
	status, body := api.do(t, call{
		method: http.MethodPost, path: "/s/admin/coins/grant",
		userID: "alice", roles: "user",
		body: map[string]any{"user_id": "alice", "amount": 1000},
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", body["error"])

	status, body = api.do(t, call{
		method: http.MethodPut, path: "/s/admin/catalog",
		userID: "admin-1", roles: "admin",
		body: map[string]any{"name": "Golden Loop", "coin_price": 500},
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "golden-loop", body["slug"])
	assert.Equal(t, true, body["is_active"])

	status, _ = api.do(t, call{
		method: http.MethodPost, path: "/s/admin/achievements",
		userID: "admin-1", roles: "admin",
		body: map[string]any{"name": "Whale", "rarity": "mythic"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestGroupGiftRoutes(t *testing.T) {
	api := newTestAPI(t)
	api.grant(t, "alice", 300)

	status, body := api.do(t, call{
		method: http.MethodPost, path: "/user/group-gifts", userID: "olive",
		body: map[string]any{
			"recipient_id": "rita",
			"item_id":      api.itemID(t, "rocket"),
			"deadline":     testNow.Add(48 * time.Hour).Format(time.RFC3339),
		},
	})
	require.Equal(t, http.StatusCreated, status, body)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	status, body = api.do(t, call{
		method: http.MethodPost, path: "/user/group-gifts/" + id + "/contribute", userID: "alice",
		body: map[string]any{"amount": 250},
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 200, body["accepted"])
	assert.EqualValues(t, 50, body["refunded"])
	assert.Equal(t, true, body["completed"])

	status, body = api.do(t, call{method: http.MethodGet, path: "/user/group-gifts/" + id, userID: "rita"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "delivered", body["delivery_status"])

	status, body = api.do(t, call{
		method: http.MethodPost, path: "/user/group-gifts/" + id + "/contribute", userID: "alice",
		body: map[string]any{"amount": 10},
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "GROUP_GIFT_COMPLETED", body["error"])

	status, body = api.do(t, call{method: http.MethodGet, path: "/user/group-gifts/" + uuid.NewString(), userID: "rita"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "GROUP_GIFT_NOT_FOUND", body["error"])
}

func TestGroupGiftRoutesRejectMalformedID(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.do(t, call{method: http.MethodGet, path: "/user/group-gifts/does-not-exist", userID: "rita"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "GROUP_GIFT_NOT_FOUND", body["error"])

	status, body = api.do(t, call{
		method: http.MethodPost, path: "/user/group-gifts/42/contribute", userID: "alice",
		body: map[string]any{"amount": 10},
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "GROUP_GIFT_NOT_FOUND", body["error"])
}

func TestEventRoutes(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.do(t, call{method: http.MethodGet, path: "/user/challenges", userID: "alice"})
	require.Equal(t, http.StatusOK, status)
	challenges, _ := body["challenges"].([]any)
	require.NotEmpty(t, challenges)
	first := challenges[0].(map[string]any)

	status, _ = api.do(t, call{
		method: http.MethodPost, path: "/s/events/challenge-progress",
		userID: "svc-feed", roles: "user",
		body: map[string]any{"user_id": "alice", "type": first["type"], "increment": 1},
	})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = api.do(t, call{
		method: http.MethodPost, path: "/s/events/challenge-progress",
		userID: "svc-feed", roles: "service",
		body: map[string]any{"user_id": "alice", "type": first["type"], "increment": 1000},
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["completed"])

	status, body = api.do(t, call{
		method: http.MethodPost, path: "/s/events/xp",
		userID: "svc-feed", roles: "service",
		body: map[string]any{"user_id": "alice", "amount": 1000, "action": "loop_posted"},
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 2, body["level"])
}
