package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	app "github.com/R3E-Network/raffle/internal/app"
	"github.com/R3E-Network/raffle/internal/app/storage"
	"github.com/R3E-Network/raffle/internal/config"
	"github.com/R3E-Network/raffle/internal/serviceauth"
	"github.com/R3E-Network/raffle/pkg/logger"
)

const callbackSecret = "callback-secret-for-tests-0123456789"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestServer(t *testing.T, opts Options) (http.Handler, *app.Application, *testClock) {
	t.Helper()
	cfg := config.Default()
	cfg.Raffle.EntryFee = 100
	cfg.Raffle.Interval = 30 * time.Second
	cfg.VRF.FulfilDelay = 0
	cfg.Keeper.Enabled = false

	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	application, err := app.New(context.Background(), cfg, storage.NewMemory(), logger.NewNop(), app.Options{Clock: clock.Now})
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	handler, err := NewHandler(application, opts)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, application, clock
}

func marshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func TestRaffleLifecycle(t *testing.T) {
	h, application, clock := newTestServer(t, Options{})

	rec := do(t, h, http.MethodGet, "/v1/raffle/entrance-fee", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	if fee := decode(t, rec)["entrance_fee"]; fee != float64(100) {
		t.Fatalf("entrance_fee = %v", fee)
	}

	rec = do(t, h, http.MethodPost, "/v1/raffle/enter", marshal(enterRequest{Participant: "alice", Amount: 50}), nil)
	expectStatus(t, rec, http.StatusPaymentRequired)
	if code := decode(t, rec)["code"]; code != "PAYMENT_REQUIRED" {
		t.Fatalf("code = %v", code)
	}

	for _, who := range []string{"alice", "bob", "alice"} {
		rec = do(t, h, http.MethodPost, "/v1/raffle/enter", marshal(enterRequest{Participant: who, Amount: 100}), nil)
		expectStatus(t, rec, http.StatusAccepted)
	}

	rec = do(t, h, http.MethodGet, "/v1/raffle/players/count", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	if n := decode(t, rec)["count"]; n != float64(3) {
		t.Fatalf("count = %v", n)
	}
	rec = do(t, h, http.MethodGet, "/v1/raffle/players/1", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	if p := decode(t, rec)["participant"]; p != "bob" {
		t.Fatalf("participant = %v", p)
	}
	expectStatus(t, do(t, h, http.MethodGet, "/v1/raffle/players/3", nil, nil), http.StatusNotFound)
	expectStatus(t, do(t, h, http.MethodGet, "/v1/raffle/players/x", nil, nil), http.StatusBadRequest)

	rec = do(t, h, http.MethodGet, "/v1/raffle/upkeep", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	var upkeep upkeepResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &upkeep); err != nil {
		t.Fatal(err)
	}
	if upkeep.UpkeepNeeded || upkeep.Diagnostic != 1 || upkeep.PerformData != "0x1" {
		t.Fatalf("unexpected upkeep %+v", upkeep)
	}

	rec = do(t, h, http.MethodPost, "/v1/raffle/upkeep", nil, nil)
	expectStatus(t, rec, http.StatusConflict)
	details, _ := decode(t, rec)["details"].(map[string]any)
	if details["participants"] != float64(3) {
		t.Fatalf("details = %v", details)
	}

	clock.Advance(31 * time.Second)
	rec = do(t, h, http.MethodPost, "/v1/raffle/upkeep", nil, nil)
	expectStatus(t, rec, http.StatusAccepted)
	requestID := uint64(decode(t, rec)["request_id"].(float64))

	rec = do(t, h, http.MethodPost, "/v1/raffle/enter", marshal(enterRequest{Participant: "carol", Amount: 100}), nil)
	expectStatus(t, rec, http.StatusConflict)

	rec = do(t, h, http.MethodGet, "/v1/raffle/pending-request", nil, nil)
	if got := decode(t, rec); got["pending"] != true || got["request_id"] != float64(requestID) {
		t.Fatalf("pending = %v", got)
	}

	application.VRF.ProcessDue(context.Background())

	rec = do(t, h, http.MethodGet, "/v1/raffle", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	snap := decode(t, rec)
	if snap["state"] != "open" || snap["balance"] != float64(0) || snap["round"] != float64(2) {
		t.Fatalf("snapshot = %v", snap)
	}
	winner, _ := snap["recent_winner"].(string)
	if winner != "alice" && winner != "bob" {
		t.Fatalf("winner = %q", winner)
	}

	rec = do(t, h, http.MethodGet, "/v1/gasbank/accounts/"+winner, nil, nil)
	expectStatus(t, rec, http.StatusOK)
	if bal := decode(t, rec)["balance"]; bal != float64(300) {
		t.Fatalf("winner balance = %v", bal)
	}
	rec = do(t, h, http.MethodGet, "/v1/gasbank/accounts/"+winner+"/transactions", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	var txs []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &txs); err != nil || len(txs) != 1 {
		t.Fatalf("transactions = %s", rec.Body.String())
	}
	expectStatus(t, do(t, h, http.MethodGet, "/v1/gasbank/accounts/nobody", nil, nil), http.StatusNotFound)

	rec = do(t, h, http.MethodGet, "/v1/vrf/requests/"+strconv.FormatUint(requestID, 10), nil, nil)
	expectStatus(t, rec, http.StatusOK)
	if status := decode(t, rec)["status"]; status != "fulfilled" {
		t.Fatalf("vrf status = %v", status)
	}

	rec = do(t, h, http.MethodGet, "/v1/events?type=raffle.winner_picked", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	var picked []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &picked); err != nil || len(picked) != 1 {
		t.Fatalf("events = %s", rec.Body.String())
	}
	if picked[0]["winner"] != winner || picked[0]["amount"] != float64(300) {
		t.Fatalf("winner event = %v", picked[0])
	}
}

func TestEnter_RejectsBadBodies(t *testing.T) {
	h, _, _ := newTestServer(t, Options{})

	expectStatus(t, do(t, h, http.MethodPost, "/v1/raffle/enter", []byte(`{"participant":`), nil), http.StatusBadRequest)
	expectStatus(t, do(t, h, http.MethodPost, "/v1/raffle/enter", []byte(`{"who":"x"}`), nil), http.StatusBadRequest)
	expectStatus(t, do(t, h, http.MethodPost, "/v1/raffle/enter", marshal(enterRequest{Participant: " ", Amount: 100}), nil), http.StatusBadRequest)
	expectStatus(t, do(t, h, http.MethodGet, "/v1/raffle/enter", nil, nil), http.StatusMethodNotAllowed)
}

func TestEnter_RateLimited(t *testing.T) {
	h, _, _ := newTestServer(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 1})
	body := marshal(enterRequest{Participant: "alice", Amount: 100})

	expectStatus(t, do(t, h, http.MethodPost, "/v1/raffle/enter", body, nil), http.StatusAccepted)
	expectStatus(t, do(t, h, http.MethodPost, "/v1/raffle/enter", body, nil), http.StatusTooManyRequests)
}

func TestFulfill_NotMountedWithoutSecret(t *testing.T) {
	h, _, _ := newTestServer(t, Options{})
	rec := do(t, h, http.MethodPost, "/v1/raffle/fulfill", marshal(fulfillRequest{RequestID: 1, RandomWords: []string{"1"}}), nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func serviceToken(t *testing.T, service string) http.Header {
	t.Helper()
	gen, err := serviceauth.NewTokenGenerator([]byte(callbackSecret), service, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := gen.GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	return http.Header{serviceauth.ServiceTokenHeader: []string{tok}}
}

func TestFulfill_ServiceCallback(t *testing.T) {
	h, application, clock := newTestServer(t, Options{
		CallbackSecret:  callbackSecret,
		CallbackClients: []string{"vrf-node"},
	})
	ctx := context.Background()
	for _, who := range []string{"alice", "bob", "carol"} {
		if err := application.Raffle.Enter(ctx, who, 100); err != nil {
			t.Fatal(err)
		}
	}
	clock.Advance(time.Minute)
	requestID, err := application.Raffle.PerformUpkeep(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}

	body := marshal(fulfillRequest{RequestID: uint64(requestID), RandomWords: []string{"7"}})
	expectStatus(t, do(t, h, http.MethodPost, "/v1/raffle/fulfill", body, nil), http.StatusUnauthorized)
	expectStatus(t, do(t, h, http.MethodPost, "/v1/raffle/fulfill", body, serviceToken(t, "intruder")), http.StatusForbidden)

	auth := serviceToken(t, "vrf-node")
	unknown := marshal(fulfillRequest{RequestID: uint64(requestID) + 1, RandomWords: []string{"7"}})
	expectStatus(t, do(t, h, http.MethodPost, "/v1/raffle/fulfill", unknown, auth), http.StatusNotFound)

	bad := marshal(fulfillRequest{RequestID: uint64(requestID), RandomWords: []string{"-1"}})
	expectStatus(t, do(t, h, http.MethodPost, "/v1/raffle/fulfill", bad, auth), http.StatusBadRequest)

	empty := marshal(fulfillRequest{RequestID: uint64(requestID)})
	expectStatus(t, do(t, h, http.MethodPost, "/v1/raffle/fulfill", empty, auth), http.StatusBadRequest)

	rec := do(t, h, http.MethodPost, "/v1/raffle/fulfill", body, auth)
	expectStatus(t, rec, http.StatusOK)
	// 7 mod 3 = 1
	if winner := decode(t, rec)["recent_winner"]; winner != "bob" {
		t.Fatalf("winner = %v", winner)
	}
	expectStatus(t, do(t, h, http.MethodPost, "/v1/raffle/fulfill", body, auth), http.StatusNotFound)
}

func TestFulfill_TransferFailed(t *testing.T) {
	h, application, clock := newTestServer(t, Options{CallbackSecret: callbackSecret})
	ctx := context.Background()
	if err := application.Raffle.Enter(ctx, "alice", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := application.Bank.SetFrozen(ctx, "alice", true); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	requestID, err := application.Raffle.PerformUpkeep(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}

	body := marshal(fulfillRequest{RequestID: uint64(requestID), RandomWords: []string{"0x2a"}})
	rec := do(t, h, http.MethodPost, "/v1/raffle/fulfill", body, serviceToken(t, "any"))
	expectStatus(t, rec, http.StatusBadGateway)
	if application.Raffle.Balance() != 100 || application.Raffle.RecentWinner() != "" {
		t.Fatalf("round mutated after failed transfer: %+v", application.Raffle.Snapshot())
	}
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestServer(t, Options{Checks: map[string]CheckFunc{
		"database": func(context.Context) error { return nil },
	}})
	rec := do(t, h, http.MethodGet, "/health", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode(t, rec); got["status"] != "ok" || got["state"] != "open" {
		t.Fatalf("health = %v", got)
	}

	h, _, _ = newTestServer(t, Options{Checks: map[string]CheckFunc{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}})
	rec = do(t, h, http.MethodGet, "/health", nil, nil)
	expectStatus(t, rec, http.StatusServiceUnavailable)
	checks, _ := decode(t, rec)["checks"].(map[string]any)
	if checks["redis"] != "connection refused" {
		t.Fatalf("checks = %v", checks)
	}
}

func TestKeeperAndMetrics(t *testing.T) {
	h, _, _ := newTestServer(t, Options{})
	rec := do(t, h, http.MethodGet, "/v1/keeper", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	if enabled := decode(t, rec)["enabled"]; enabled != false {
		t.Fatalf("enabled = %v", enabled)
	}

	rec = do(t, h, http.MethodGet, "/metrics", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	if !bytes.Contains(rec.Body.Bytes(), []byte("raffle_")) {
		t.Fatal("expected raffle metrics in exposition")
	}
}

func TestEvents_BadLimit(t *testing.T) {
	h, _, _ := newTestServer(t, Options{})
	expectStatus(t, do(t, h, http.MethodGet, "/v1/events?limit=-2", nil, nil), http.StatusBadRequest)
}
