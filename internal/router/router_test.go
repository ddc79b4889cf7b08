package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/harrys-tix/internal/clock"
	"github.com/iliyamo/harrys-tix/internal/handler"
	"github.com/iliyamo/harrys-tix/internal/model"
	"github.com/iliyamo/harrys-tix/internal/payment"
	"github.com/iliyamo/harrys-tix/internal/repository"
	"github.com/iliyamo/harrys-tix/internal/service"
	"github.com/iliyamo/harrys-tix/internal/utils"
)

const secret = "test-secret"

// Seeded users: 1 admin, 2 member with a gateway customer, 3 non-member.
const (
	adminID  uint64 = 1
	memberID uint64 = 2
	guestID  uint64 = 3
)

type api struct {
	t *testing.T
	e *echo.Echo
}

func newAPI(t *testing.T) *api {
	t.Helper()
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	now := time.Date(2026, time.October, 13, 10, 0, 0, 0, london)
	clk := clock.Func(func() time.Time { return now })
	logger := zaptest.NewLogger(t)

	events := repository.NewMemoryEvents()
	users := repository.NewMemoryUsers()
	repository.SeedDemo(events, users, now)
	store := repository.NewMemoryPreOrders(events, users)
	gw := payment.Sandbox{}

	svc := service.NewPreOrderService(store, events, users, gw, nil, clk, london, logger)
	ful := service.NewFulfiller(svc, gw, service.Window{Weekday: time.Tuesday, Hour: 19, Location: london}, "gbp", nil, logger)

	e := echo.New()
	RegisterRoutes(e)
	RegisterMember(e, handler.NewPreOrderHandler(svc, logger), secret, nil)
	RegisterAdmin(e, handler.NewAdminPreOrderHandler(svc, ful, logger), secret)
	RegisterWebhooks(e, handler.NewWebhookHandler(gw, svc, logger))
	return &api{t: t, e: e}
}

func (a *api) token(userID uint64, role string) string {
	tok, err := utils.NewAccessToken(secret, userID, role, 5)
	require.NoError(a.t, err)
	return tok.Token
}

func (a *api) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (a *api) createPreOrder(userID uint64, body string) map[string]interface{} {
	rec := a.do(http.MethodPost, "/v1/pre-orders", a.token(userID, model.RoleUser), body)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(a.t, rec)
}

func TestPublicRoutes(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = a.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodGet, "/v1/pre-orders", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreatePreOrder(t *testing.T) {
	a := newAPI(t)

	got := a.createPreOrder(memberID, `{"event_id":1,"quantity":2,"payment_method_id":"pm_card_visa"}`)
	assert.Equal(t, "24.00", got["total_price"])
	assert.Equal(t, "pending", got["status"])
	assert.Equal(t, float64(2), got["quantity"])
	assert.Equal(t, "cus_demo_member", got["gateway_customer_id"])

	rec := a.do(http.MethodPost, "/v1/pre-orders", a.token(memberID, model.RoleUser), `{"event_id":2,"quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "already reserved this week", decode(t, rec)["error"])

	rec = a.do(http.MethodGet, "/v1/pre-orders/weekly", a.token(memberID, model.RoleUser), "")
	require.Equal(t, http.StatusOK, rec.Code)
	item := decode(t, rec)["item"].(map[string]interface{})
	assert.Equal(t, got["id"], item["id"])

	rec = a.do(http.MethodGet, "/v1/pre-orders", a.token(memberID, model.RoleUser), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["items"], 1)
}

func TestCreatePreOrderErrors(t *testing.T) {
	a := newAPI(t)
	member := a.token(memberID, model.RoleUser)

	cases := []struct {
		name   string
		token  string
		body   string
		status int
	}{
		{"non-member", a.token(guestID, model.RoleUser), `{"event_id":1,"quantity":1}`, http.StatusForbidden},
		{"zero quantity", member, `{"event_id":1,"quantity":0}`, http.StatusBadRequest},
		{"missing event id", member, `{"quantity":1}`, http.StatusBadRequest},
		{"unknown event", member, `{"event_id":99,"quantity":1}`, http.StatusNotFound},
		{"malformed body", member, `{"event_id":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := a.do(http.MethodPost, "/v1/pre-orders", tc.token, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}

	rec := a.do(http.MethodGet, "/v1/pre-orders/weekly", a.token(guestID, model.RoleUser), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"item":null}`, rec.Body.String())
}

func TestCancelPreOrder(t *testing.T) {
	a := newAPI(t)
	got := a.createPreOrder(memberID, `{"event_id":1,"quantity":1}`)
	path := fmt.Sprintf("/v1/pre-orders/%s", got["id"])

	rec := a.do(http.MethodDelete, path, a.token(adminID, model.RoleAdmin), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodDelete, "/v1/pre-orders/unknown", a.token(memberID, model.RoleUser), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodDelete, path, a.token(memberID, model.RoleUser), "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "cancelled", body["status"])
	assert.NotNil(t, body["cancelled_at"])

	rec = a.do(http.MethodDelete, path, a.token(memberID, model.RoleUser), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentMethodEndpoints(t *testing.T) {
	a := newAPI(t)
	member := a.token(memberID, model.RoleUser)

	rec := a.do(http.MethodPost, "/v1/payment-methods/setup", member, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(decode(t, rec)["client_secret"].(string), "seti_sandbox_"))

	rec = a.do(http.MethodPost, "/v1/payment-methods/setup", a.token(guestID, model.RoleUser), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	got := a.createPreOrder(memberID, `{"event_id":1,"quantity":1}`)
	assert.Nil(t, got["payment_method_id"])
	path := fmt.Sprintf("/v1/pre-orders/%s/payment-method", got["id"])

	rec = a.do(http.MethodPost, path, member, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, path, member, `{"payment_method_id":"pm_card_visa"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "pm_card_visa", body["payment_method_id"])
	assert.Equal(t, "cus_demo_member", body["gateway_customer_id"])
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodGet, "/v1/admin/pre-orders", a.token(memberID, model.RoleUser), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/v1/admin/fulfillment/run", a.token(memberID, model.RoleUser), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminPatch(t *testing.T) {
	a := newAPI(t)
	admin := a.token(adminID, model.RoleAdmin)
	got := a.createPreOrder(memberID, `{"event_id":1,"quantity":2}`)
	path := fmt.Sprintf("/v1/admin/pre-orders/%s", got["id"])

	rec := a.do(http.MethodGet, "/v1/admin/pre-orders", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]interface{})
	require.Len(t, items, 1)
	first := items[0].(map[string]interface{})
	assert.Equal(t, "Friday Late Show", first["event_title"])
	assert.Equal(t, "member@harrystix.test", first["user_email"])

	rec = a.do(http.MethodPatch, path, admin, `{"status":"paid"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPatch, path, admin, `{"status":"shipped"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPatch, "/v1/admin/pre-orders/unknown", admin, `{"status":"approved"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodPatch, path, admin, `{"status":"approved","payment_method_id":"pm_card_visa","gateway_customer_id":"cus_x"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "approved", body["status"])
	assert.Equal(t, "pm_card_visa", body["payment_method_id"])
	assert.Equal(t, "cus_x", body["gateway_customer_id"])
	assert.NotNil(t, body["approved_at"])
}

func TestFulfillNowAndWebhook(t *testing.T) {
	a := newAPI(t)
	admin := a.token(adminID, model.RoleAdmin)
	got := a.createPreOrder(memberID, `{"event_id":1,"quantity":2,"payment_method_id":"pm_card_visa"}`)

	rec := a.do(http.MethodPost, "/v1/admin/fulfill-pre-orders", admin, `{"preOrderIds":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/v1/admin/fulfill-pre-orders", admin, fmt.Sprintf(`{"preOrderIds":[%q]}`, got["id"]))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decode(t, rec)["results"].([]interface{})
	require.Len(t, results, 1)
	res := results[0].(map[string]interface{})
	assert.Equal(t, "processing", res["status"])
	intent := res["gateway_payment_intent_id"].(string)
	assert.True(t, strings.HasPrefix(intent, "pi_sandbox_"))

	rec = a.do(http.MethodPost, "/v1/webhooks/stripe", "", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/v1/webhooks/stripe", "", `{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_unknown"}}}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPost, "/v1/webhooks/stripe", "", fmt.Sprintf(`{"type":"payment_intent.succeeded","data":{"object":{"id":%q}}}`, intent))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodGet, "/v1/pre-orders", a.token(memberID, model.RoleUser), "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]interface{})
	require.Len(t, items, 1)
	item := items[0].(map[string]interface{})
	assert.Equal(t, "paid", item["status"])
	assert.NotNil(t, item["paid_at"])

	// nothing approved is left for the batch
	rec = a.do(http.MethodPost, "/v1/admin/fulfillment/run", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"results":[]}`, rec.Body.String())
}

func TestWebhookFailureMarksFailed(t *testing.T) {
	a := newAPI(t)
	admin := a.token(adminID, model.RoleAdmin)
	got := a.createPreOrder(memberID, `{"event_id":2,"quantity":1,"payment_method_id":"pm_card_visa"}`)

	rec := a.do(http.MethodPost, "/v1/admin/fulfill-pre-orders", admin, fmt.Sprintf(`{"preOrderIds":[%q]}`, got["id"]))
	require.Equal(t, http.StatusOK, rec.Code)
	intent := decode(t, rec)["results"].([]interface{})[0].(map[string]interface{})["gateway_payment_intent_id"].(string)

	body := fmt.Sprintf(`{"type":"payment_intent.payment_failed","data":{"object":{"id":%q,"last_payment_error":{"message":"Insufficient funds"}}}}`, intent)
	rec = a.do(http.MethodPost, "/v1/webhooks/stripe", "", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodGet, "/v1/admin/pre-orders", admin, "")
	item := decode(t, rec)["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "failed", item["status"])
	assert.Equal(t, "Insufficient funds", item["failure_reason"])
	assert.Equal(t, "8.50", item["total_price"])
}

func TestFulfillNowDeclinedCard(t *testing.T) {
	a := newAPI(t)
	admin := a.token(adminID, model.RoleAdmin)
	got := a.createPreOrder(memberID, fmt.Sprintf(`{"event_id":1,"quantity":1,"payment_method_id":%q}`, payment.DeclinedPaymentMethod))

	rec := a.do(http.MethodPost, "/v1/admin/fulfill-pre-orders", admin, fmt.Sprintf(`{"preOrderIds":[%q, "missing"]}`, got["id"]))
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode(t, rec)["results"].([]interface{})
	require.Len(t, results, 2)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "failed", first["status"])
	assert.Contains(t, first["error"], "card_declined")
	assert.NotEmpty(t, results[1].(map[string]interface{})["error"])
}

func TestAdminPatchCannotSetProcessing(t *testing.T) {
	a := newAPI(t)
	admin := a.token(adminID, model.RoleAdmin)
	got := a.createPreOrder(memberID, `{"event_id":1,"quantity":1}`)
	path := fmt.Sprintf("/v1/admin/pre-orders/%s", got["id"])

	rec := a.do(http.MethodPatch, path, admin, `{"status":"approved"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPatch, path, admin, `{"status":"processing"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodGet, "/v1/pre-orders", a.token(memberID, model.RoleUser), "")
	item := decode(t, rec)["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "approved", item["status"])
	assert.Nil(t, item["payment_method_id"])
}

func TestWebhookBeforeChargeRecordedIsRetried(t *testing.T) {
	a := newAPI(t)
	admin := a.token(adminID, model.RoleAdmin)
	got := a.createPreOrder(memberID, `{"event_id":1,"quantity":1,"payment_method_id":"pm_card_visa"}`)
	path := fmt.Sprintf("/v1/admin/pre-orders/%s", got["id"])

	rec := a.do(http.MethodPatch, path, admin, `{"status":"approved"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := fmt.Sprintf(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_not_recorded","metadata":{"pre_order_id":%q}}}}`, got["id"])
	rec = a.do(http.MethodPost, "/v1/webhooks/stripe", "", body)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = a.do(http.MethodGet, "/v1/pre-orders", a.token(memberID, model.RoleUser), "")
	item := decode(t, rec)["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "approved", item["status"])
}
