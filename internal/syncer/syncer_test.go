package syncer

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/paisatrail/paisatrail/pkg/api"
	"github.com/paisatrail/paisatrail/pkg/extract"
	"github.com/paisatrail/paisatrail/pkg/store/postgres"
)

type fakeStore struct {
	marker     *api.StoredTransaction
	inserted   map[string]*api.Transaction
	lockBusy   bool
	lockErr    error
	insertErr  error
	advanced   int
	lockTaken  int
	lockFreed  int
	markerErrs error
}

func newFakeStore() *fakeStore {
	return &fakeStore{inserted: map[string]*api.Transaction{}}
}

func (f *fakeStore) EnsureUser(_ context.Context, email string) (string, error) {
	return "uid-" + email, nil
}

func (f *fakeStore) AcquireRunLock(context.Context, string) (func(), bool, error) {
	if f.lockErr != nil {
		return nil, false, f.lockErr
	}
	if f.lockBusy {
		return nil, false, nil
	}
	f.lockTaken++
	return func() { f.lockFreed++ }, true, nil
}

func (f *fakeStore) LastChecked(context.Context, string) (*api.StoredTransaction, error) {
	return f.marker, f.markerErrs
}

func (f *fakeStore) InsertTransaction(_ context.Context, _ string, tx *api.Transaction) (postgres.Outcome, error) {
	if f.insertErr != nil {
		return "", f.insertErr
	}
	if _, ok := f.inserted[tx.MessageID]; ok {
		return postgres.OutcomeDuplicate, nil
	}
	f.inserted[tx.MessageID] = tx
	return postgres.OutcomeInserted, nil
}

func (f *fakeStore) AdvanceMarker(context.Context, string) error {
	f.advanced++
	return nil
}

type fakeSource struct {
	msgs []*api.RawMessage
	err  error
	seen api.Query
}

func (f *fakeSource) Fetch(ctx context.Context, q api.Query, out chan<- *api.RawMessage) error {
	defer close(out)
	f.seen = q
	for _, m := range f.msgs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- m:
		}
	}
	return f.err
}

func debitMessage(id string) *api.RawMessage {
	return &api.RawMessage{
		ID:         id,
		From:       "alerts@hdfcbank.net",
		Subject:    "Rs. 500 has been debited from account *1234 to AMAZON PAY on 10-03-24",
		ReceivedAt: "2024-03-10T10:00:00Z",
		BodyText:   "Rs. 500 has been debited from account *1234 to AMAZON PAY on 10-03-24.",
	}
}

func newTestSyncer(store Store, src api.Source) *Syncer {
	factory := func(context.Context, string) (api.Source, error) { return src, nil }
	return New(store, factory, extract.New(extract.Options{}), Config{
		LookbackDays: 365,
		MaxResults:   500,
	}, nil)
}

func TestSyncUserStoresExtractedTransactions(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{msgs: []*api.RawMessage{
		debitMessage("msg-1"),
		{ID: "msg-2", Subject: "Your OTP is 482910", ReceivedAt: "2024-03-10T10:00:00Z", BodyText: "482910"},
	}}

	report, err := newTestSyncer(store, src).SyncUser(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("SyncUser: %v", err)
	}

	if report.Fetched != 2 || report.New != 1 || report.Skipped != 1 {
		t.Errorf("report = fetched %d new %d skipped %d, want 2/1/1",
			report.Fetched, report.New, report.Skipped)
	}
	tx, ok := store.inserted["msg-1"]
	if !ok {
		t.Fatal("msg-1 was not stored")
	}
	if tx.Amount != 500 || tx.Kind != api.KindDebit || tx.Name != "AMAZON PAY" {
		t.Errorf("stored transaction = %+v", tx)
	}
	if store.advanced != 1 {
		t.Errorf("marker advanced %d times, want 1", store.advanced)
	}
	if store.lockTaken != 1 || store.lockFreed != 1 {
		t.Errorf("lock taken %d freed %d, want 1/1", store.lockTaken, store.lockFreed)
	}
}

func TestSyncUserSecondRunIsNoOp(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{msgs: []*api.RawMessage{debitMessage("msg-1")}}
	s := newTestSyncer(store, src)

	if _, err := s.SyncUser(context.Background(), "a@example.com"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := s.SyncUser(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if report.New != 0 || report.Duplicates != 1 {
		t.Errorf("second run new %d duplicates %d, want 0/1", report.New, report.Duplicates)
	}
	if store.advanced != 2 {
		t.Errorf("marker advanced %d times, want 2 (advanced even with no new rows)", store.advanced)
	}
}

func TestSyncUserAdvancesMarkerWithNoMail(t *testing.T) {
	store := newFakeStore()
	report, err := newTestSyncer(store, &fakeSource{}).SyncUser(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	if report.Fetched != 0 {
		t.Errorf("fetched = %d, want 0", report.Fetched)
	}
	if store.advanced != 1 {
		t.Errorf("marker advanced %d times, want 1", store.advanced)
	}
}

func TestSyncUserRunInProgress(t *testing.T) {
	store := newFakeStore()
	store.lockBusy = true

	_, err := newTestSyncer(store, &fakeSource{}).SyncUser(context.Background(), "a@example.com")
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}
}

func TestSyncUserStorageFailureMarksItemFailed(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("connection reset")
	src := &fakeSource{msgs: []*api.RawMessage{debitMessage("msg-1"), debitMessage("msg-2")}}

	report, err := newTestSyncer(store, src).SyncUser(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	if report.Failed != 2 {
		t.Errorf("failed = %d, want 2 (sibling items still processed)", report.Failed)
	}
	if store.advanced != 1 {
		t.Errorf("marker advanced %d times, want 1", store.advanced)
	}
}

func TestSyncUserFetchFailureAborts(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{err: errors.New("gmail unreachable")}

	_, err := newTestSyncer(store, src).SyncUser(context.Background(), "a@example.com")
	if err == nil || !strings.Contains(err.Error(), "gmail unreachable") {
		t.Fatalf("err = %v, want fetch failure", err)
	}
	if store.advanced != 0 {
		t.Errorf("marker advanced after failed fetch")
	}
}

func TestPlanFirstRunUsesLookback(t *testing.T) {
	p := NewPlanner(newFakeStore(), 90, 250, extract.DefaultLocation)

	q, err := p.Plan(context.Background(), "uid")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !strings.Contains(q.Raw, "newer_than:90d") {
		t.Errorf("query %q missing lookback window", q.Raw)
	}
	if strings.Contains(q.Raw, "after:") {
		t.Errorf("query %q carries a lower bound without a marker", q.Raw)
	}
	if q.MaxResults != 250 {
		t.Errorf("MaxResults = %d, want 250", q.MaxResults)
	}
}

func TestPlanWithMarkerAppendsUnixBound(t *testing.T) {
	store := newFakeStore()
	store.marker = &api.StoredTransaction{
		Transaction: api.Transaction{Date: "2024-03-10", Time: "15:30:00"},
	}
	p := NewPlanner(store, 365, 500, extract.DefaultLocation)

	q, err := p.Plan(context.Background(), "uid")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// 2024-03-10 15:30:00 +05:30 is 2024-03-10T10:00:00Z.
	want := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC).Unix()
	if !strings.Contains(q.Raw, "after:"+strconv.FormatInt(want, 10)) {
		t.Errorf("query %q missing after:%d", q.Raw, want)
	}
	if strings.Contains(q.Raw, "newer_than:") {
		t.Errorf("query %q still carries the lookback window", q.Raw)
	}
}

func TestSyncAllContinuesPastFailures(t *testing.T) {
	store := newFakeStore()
	factory := func(_ context.Context, email string) (api.Source, error) {
		if email == "bad@example.com" {
			return nil, errors.New("no token")
		}
		return &fakeSource{msgs: []*api.RawMessage{debitMessage("msg-" + email)}}, nil
	}
	s := New(store, factory, extract.New(extract.Options{}), Config{LookbackDays: 365, MaxResults: 500}, nil)

	results := s.SyncAll(context.Background(), []string{"bad@example.com", "good@example.com"})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Err == nil {
		t.Error("bad user should report an error")
	}
	if results[1].Err != nil {
		t.Errorf("good user failed: %v", results[1].Err)
	}
	if len(store.inserted) != 1 {
		t.Errorf("stored %d transactions, want 1", len(store.inserted))
	}
}
