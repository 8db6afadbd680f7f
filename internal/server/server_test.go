package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paisatrail/paisatrail/internal/scheduler"
	"github.com/paisatrail/paisatrail/pkg/api"
	"github.com/paisatrail/paisatrail/pkg/config"
	"github.com/paisatrail/paisatrail/pkg/store/postgres"
)

type mockStore struct {
	transactions []*api.StoredTransaction
	pingErr      error
	renameErr    map[int64]error
	deleted      int64
	lastOpts     postgres.ListOptions
}

func (m *mockStore) Ping(context.Context) error { return m.pingErr }

func (m *mockStore) EnsureUser(_ context.Context, email string) (string, error) {
	return "uid-" + email, nil
}

func (m *mockStore) ListTransactions(_ context.Context, _ string, opts postgres.ListOptions) ([]*api.StoredTransaction, int64, error) {
	m.lastOpts = opts
	return m.transactions, int64(len(m.transactions)), nil
}

func (m *mockStore) Rename(_ context.Context, _ string, id int64, _ string) error {
	return m.renameErr[id]
}

func (m *mockStore) SetNote(context.Context, string, int64, string) error { return nil }

func (m *mockStore) SetTag(context.Context, string, int64, string) error { return nil }

func (m *mockStore) DeleteAll(context.Context, string) (int64, error) { return m.deleted, nil }

func (m *mockStore) Overview(context.Context, string) (*api.Overview, error) {
	return &api.Overview{Count: int64(len(m.transactions))}, nil
}

func (m *mockStore) ExportAll(context.Context, string) ([]*api.StoredTransaction, error) {
	return m.transactions, nil
}

type mockScheduler struct {
	report     *api.Report
	triggerErr error
	known      map[string]bool
}

func (m *mockScheduler) TriggerSync(context.Context, string) (*api.Report, error) {
	return m.report, m.triggerErr
}

func (m *mockScheduler) Status() []scheduler.UserStatus { return nil }

func (m *mockScheduler) UserStatusFor(email string) (scheduler.UserStatus, bool) {
	if !m.known[email] {
		return scheduler.UserStatus{}, false
	}
	return scheduler.UserStatus{Email: email, LastRun: time.Now()}, true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(cfg config.ServerConfig, store *mockStore, sched *mockScheduler) *Server {
	if store == nil {
		store = &mockStore{}
	}
	if sched == nil {
		sched = &mockScheduler{known: map[string]bool{}}
	}
	return New(cfg, store, sched, testLogger())
}

func doRequest(t *testing.T, srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *strings.Reader
	if body == "" {
		reqBody = strings.NewReader("")
	} else {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		headers    map[string]string
		wantStatus int
	}{
		{
			name:       "no key configured allows all",
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing key rejected",
			apiKey:     "secret",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "bearer token accepted",
			apiKey:     "secret",
			headers:    map[string]string{"Authorization": "Bearer secret"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "x-api-key accepted",
			apiKey:     "secret",
			headers:    map[string]string{"X-API-Key": "secret"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong key rejected",
			apiKey:     "secret",
			headers:    map[string]string{"Authorization": "Bearer nope"},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(config.ServerConfig{APIKey: tt.apiKey}, nil, nil)
			rec := doRequest(t, srv, http.MethodGet, "/api/v1/tags", "", tt.headers)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(config.ServerConfig{APIKey: "secret"}, nil, nil)
	rec := doRequest(t, srv, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health requires no auth, status = %d", rec.Code)
	}
}

func TestHealthDegraded(t *testing.T) {
	store := &mockStore{pingErr: context.DeadlineExceeded}
	srv := newTestServer(config.ServerConfig{}, store, nil)
	rec := doRequest(t, srv, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when the store is unreachable", rec.Code)
	}
}

func TestListTransactions(t *testing.T) {
	store := &mockStore{transactions: []*api.StoredTransaction{
		{ID: 1, Transaction: api.Transaction{MessageID: "m1", Amount: 500, Name: "AMAZON PAY"}},
	}}
	srv := newTestServer(config.ServerConfig{}, store, nil)

	rec := doRequest(t, srv, http.MethodGet,
		"/api/v1/users/a@example.com/transactions?page=2&page_size=10&sort=amount&order=asc&tag=food", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || len(resp.Transactions) != 1 {
		t.Errorf("resp = %+v", resp)
	}
	if store.lastOpts.Page != 2 || store.lastOpts.PageSize != 10 ||
		store.lastOpts.Sort != "amount" || store.lastOpts.Order != "asc" || store.lastOpts.Tag != "food" {
		t.Errorf("opts not passed through: %+v", store.lastOpts)
	}
}

func TestBatchRenamePartialFailure(t *testing.T) {
	store := &mockStore{renameErr: map[int64]error{2: postgres.ErrNotFound}}
	srv := newTestServer(config.ServerConfig{}, store, nil)

	body := `[{"id":1,"name":"GROCERIES"},{"id":2,"name":"CAB"},{"id":3,"name":""}]`
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/users/a@example.com/transactions/rename", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp RenameResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Renamed != 1 || resp.Failed != 2 {
		t.Errorf("renamed %d failed %d, want 1/2", resp.Renamed, resp.Failed)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.Results))
	}
	if resp.Results[1].Error != "transaction not found" {
		t.Errorf("result[1].Error = %q", resp.Results[1].Error)
	}
}

func TestSetTagValidatesVocabulary(t *testing.T) {
	srv := newTestServer(config.ServerConfig{}, nil, nil)

	rec := doRequest(t, srv, http.MethodPatch,
		"/api/v1/users/a@example.com/transactions/1/tag", `{"tag":"gambling"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown tag status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPatch,
		"/api/v1/users/a@example.com/transactions/1/tag", `{"tag":"food"}`, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("valid tag status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPatch,
		"/api/v1/users/a@example.com/transactions/1/tag", `{"tag":""}`, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("clearing tag status = %d, want 200", rec.Code)
	}
}

func TestDeleteAll(t *testing.T) {
	store := &mockStore{deleted: 7}
	srv := newTestServer(config.ServerConfig{}, store, nil)

	rec := doRequest(t, srv, http.MethodDelete, "/api/v1/users/a@example.com/transactions", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["deleted"] != 7 {
		t.Errorf("deleted = %d, want 7", resp["deleted"])
	}
}

func TestTriggerSync(t *testing.T) {
	sched := &mockScheduler{report: &api.Report{User: "a@example.com", New: 2}}
	srv := newTestServer(config.ServerConfig{}, nil, sched)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/users/a@example.com/sync", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var report api.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.New != 2 {
		t.Errorf("report.New = %d, want 2", report.New)
	}
}

func TestTriggerSyncConflict(t *testing.T) {
	sched := &mockScheduler{triggerErr: scheduler.ErrSyncRunning}
	srv := newTestServer(config.ServerConfig{}, nil, sched)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/users/a@example.com/sync", "", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestSyncStatusUnknownUser(t *testing.T) {
	srv := newTestServer(config.ServerConfig{}, nil, nil)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/users/nobody@example.com/sync/status", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestExportCSV(t *testing.T) {
	store := &mockStore{transactions: []*api.StoredTransaction{
		{ID: 1, Transaction: api.Transaction{
			MessageID: "m1", Amount: 500, Name: "AMAZON PAY",
			Date: "2024-03-10", Time: "15:30:00", Kind: api.KindDebit,
		}},
	}}
	srv := newTestServer(config.ServerConfig{}, store, nil)

	rec := doRequest(t, srv, http.MethodGet,
		"/api/v1/users/a@example.com/transactions/export?format=csv", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "AMAZON PAY") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	srv := newTestServer(config.ServerConfig{}, nil, nil)
	rec := doRequest(t, srv, http.MethodGet,
		"/api/v1/users/a@example.com/transactions/export?format=xml", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(config.ServerConfig{RateLimitRPS: 1, RateLimitBurst: 2}, nil, nil)

	var last int
	for range 4 {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/tags", "", nil)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status after burst = %d, want 429", last)
	}
}
