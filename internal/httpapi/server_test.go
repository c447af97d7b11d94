package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"skillzio/internal/catalog"
	"skillzio/internal/certificate"
	"skillzio/internal/checkout"
	"skillzio/internal/enrollment"
	"skillzio/internal/gateway"
	"skillzio/internal/httpapi"
	"skillzio/internal/messaging"
	"skillzio/internal/order"
	"skillzio/internal/payment"
	"skillzio/internal/revenue"
	"skillzio/internal/wallet"

	"github.com/google/uuid"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	srv      *httptest.Server
	buyer    uuid.UUID
	course   catalog.Course
	chapter  uuid.UUID
	wallets  *wallet.Ledger
	admin    uuid.UUID
	ordersDB *order.Ledger
}

func newAPI(t *testing.T) apiFixture {
	logger := slogt.New(t)
	cat := catalog.NewMemory()

	f := apiFixture{
		buyer:   uuid.New(),
		admin:   uuid.New(),
		chapter: uuid.New(),
	}
	f.course = catalog.Course{ID: uuid.New(), InstructorID: uuid.New(), Name: "Intro to SQL", Price: 1000}
	cat.AddUser(catalog.User{ID: f.admin, Name: "Admin", Email: "admin@example.com", Role: "admin"})
	cat.AddUser(catalog.User{ID: f.buyer, Name: "Student", Email: "s@example.com", Role: "student"})
	cat.AddUser(catalog.User{ID: f.course.InstructorID, Name: "Mentor", Email: "t@example.com", Role: "instructor"})
	cat.AddCourse(f.course, f.chapter)

	enrollStore := enrollment.NewMemoryStore()
	issuer := certificate.NewIssuer(enrollStore, cat, cat, certificate.URLRenderer{BaseURL: "https://certs.example.com"}, logger)
	enrollments := enrollment.NewManager(enrollStore, cat, issuer, logger)
	f.ordersDB = order.NewLedger(order.NewMemoryStore(), logger)
	f.wallets = wallet.NewLedger(wallet.NewMemoryStore(), logger)
	payments := payment.NewRecorder(payment.NewMemoryStore(), logger)
	distributor, err := revenue.NewDistributor(f.wallets, cat, revenue.Config{}, logger)
	require.NoError(t, err)

	orch := checkout.New(checkout.Deps{
		Orders:      f.ordersDB,
		Wallets:     f.wallets,
		Payments:    payments,
		Enrollments: enrollments,
		Revenue:     distributor,
		Catalog:     cat,
		Cart:        cat,
		Gateway:     gateway.Sandbox{Secret: "s3cret"},
		Outbox:      messaging.NewMemoryOutbox(),
	}, checkout.Options{VerifySignatures: true}, logger)

	api := httpapi.NewServer(httpapi.Deps{
		Checkout:    orch,
		Orders:      f.ordersDB,
		Payments:    payments,
		Enrollments: enrollments,
		Wallets:     f.wallets,
	}, logger)
	f.srv = httptest.NewServer(api)
	t.Cleanup(f.srv.Close)
	return f
}

func (f apiFixture) do(t *testing.T, method, path string, user uuid.UUID, body any, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if user != uuid.Nil {
		req.Header.Set("X-User-ID", user.String())
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestWalletFlow(t *testing.T) {
	f := newAPI(t)

	resp, _ := f.do(t, http.MethodPost, "/wallet/deposit", f.buyer, map[string]int64{"amount": 600})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/wallet/deposit", f.buyer, map[string]int64{"amount": 600}, "Idempotency-Key", "dep-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 600, body["balance"])

	resp, body = f.do(t, http.MethodPost, "/wallet/deposit", f.buyer, map[string]int64{"amount": 600}, "Idempotency-Key", "dep-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 600, body["balance"])

	checkoutBody := map[string]any{"course_ids": []uuid.UUID{f.course.ID}, "amount": 1000, "channel": "wallet"}
	resp, _ = f.do(t, http.MethodPost, "/checkout", f.buyer, checkoutBody)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/wallet/deposit", f.buyer, map[string]int64{"amount": 400}, "Idempotency-Key", "dep-2")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/checkout", f.buyer, checkoutBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	settled := body["order"].(map[string]any)
	assert.Equal(t, "SUCCESS", settled["status"])

	resp, body = f.do(t, http.MethodPost, "/checkout", f.buyer, checkoutBody)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, []any{f.course.Name}, body["courses"])

	resp, body = f.do(t, http.MethodGet, "/wallet", f.buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["balance"])

	resp, body = f.do(t, http.MethodGet, "/orders", f.buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["orders"], 1)

	resp, body = f.do(t, http.MethodGet, "/orders/"+settled["id"].(string), f.buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["payments"], 1)

	resp, _ = f.do(t, http.MethodGet, "/orders/"+settled["id"].(string), uuid.New(), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	platform, err := f.wallets.Balance(t.Context(), f.admin)
	require.NoError(t, err)
	require.Equal(t, int64(100), platform)
}

func TestGatewayFlow(t *testing.T) {
	f := newAPI(t)

	resp, body := f.do(t, http.MethodPost, "/checkout", f.buyer, map[string]any{
		"course_ids": []uuid.UUID{f.course.ID}, "amount": 1000, "channel": "gateway",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	pending := body["order"].(map[string]any)
	orderID := pending["id"].(string)
	gatewayOrderID := pending["gateway_order_id"].(string)

	resp, _ = f.do(t, http.MethodPost, "/checkout/"+orderID+"/complete", f.buyer, map[string]any{
		"payment_ref": "pay_1", "method": "card", "amount": 1000, "signature": "bad",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/checkout/"+orderID+"/complete", f.buyer, map[string]any{
		"payment_ref": "pay_1", "method": "card", "amount": 1000,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	confirm := map[string]any{
		"payment_ref": "pay_1", "method": "card", "amount": 1000,
		"signature": gateway.Sign("s3cret", gatewayOrderID, "pay_1"),
	}
	resp, body = f.do(t, http.MethodPost, "/checkout/"+orderID+"/complete", f.buyer, confirm)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SUCCESS", body["order"].(map[string]any)["status"])

	resp, _ = f.do(t, http.MethodPost, "/checkout/"+orderID+"/complete", f.buyer, confirm)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/checkout/"+orderID+"/fail", f.buyer, map[string]any{"reason": "late"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	o, err := f.ordersDB.Get(t.Context(), uuid.MustParse(orderID))
	require.NoError(t, err)
	require.Equal(t, order.StatusSuccess, o.Status)
}

func TestLearningFlow(t *testing.T) {
	f := newAPI(t)
	_, err := f.wallets.Deposit(t.Context(), f.buyer, 1000, "seed")
	require.NoError(t, err)

	resp, _ := f.do(t, http.MethodGet, "/enrollments/"+f.course.ID.String(), f.buyer, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/checkout", f.buyer, map[string]any{
		"course_ids": []uuid.UUID{f.course.ID}, "amount": 1000, "channel": "wallet",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	base := "/enrollments/" + f.course.ID.String()
	resp, _ = f.do(t, http.MethodPost, base+"/chapters/"+uuid.NewString()+"/complete", f.buyer, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, base+"/chapters/"+f.chapter.String()+"/complete", f.buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "IN_PROGRESS", body["completion_status"])

	resp, _ = f.do(t, http.MethodPost, base+"/quizzes", f.buyer, map[string]any{"quiz_id": uuid.New(), "correct": 5, "total": 0})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, base+"/quizzes", f.buyer, map[string]any{"quiz_id": uuid.New(), "correct": 9, "total": 10})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	e := body["enrollment"].(map[string]any)
	assert.Equal(t, true, e["certificate_generated"])
	assert.Equal(t, "COMPLETED", e["completion_status"])

	resp, body = f.do(t, http.MethodGet, "/enrollments", f.buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["enrollments"], 1)

	resp, _ = f.do(t, http.MethodGet, "/enrollments", uuid.Nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
