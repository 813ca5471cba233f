package eod

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/services/validation"
)

// ---- fakes ----

type fakeBatch struct {
	id        int64
	status    models.BatchStatus
	positions []models.SnapshotPosition
}

type fakePositionStore struct {
	batches      map[string][]*fakeBatch // by account
	nextID       int64
	dropRows     bool // simulate staged rows going missing
	prevByDate   map[string][]*models.Position
	activateErr  error
	rollbackOK   bool
	rollbackErr  error
	rolledBack   []string
	activateDone []int64
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{
		batches:    make(map[string][]*fakeBatch),
		prevByDate: make(map[string][]*models.Position),
		rollbackOK: true,
	}
}

func (f *fakePositionStore) CreateBatch(_ context.Context, accountID, _ string) (int64, error) {
	f.nextID++
	f.batches[accountID] = append(f.batches[accountID], &fakeBatch{id: f.nextID, status: models.BatchStaging})
	return f.nextID, nil
}

func (f *fakePositionStore) find(accountID string, batchID int64) *fakeBatch {
	for _, b := range f.batches[accountID] {
		if b.id == batchID {
			return b
		}
	}
	return nil
}

func (f *fakePositionStore) InsertPositions(_ context.Context, accountID string, batchID int64, positions []models.SnapshotPosition, _ models.PositionSource) error {
	b := f.find(accountID, batchID)
	if b == nil {
		return models.ErrNotFound
	}
	b.positions = positions
	return nil
}

func (f *fakePositionStore) CountBatchPositions(_ context.Context, accountID string, batchID int64) (int, int, error) {
	b := f.find(accountID, batchID)
	if b == nil {
		return 0, 0, models.ErrNotFound
	}
	if f.dropRows {
		return len(b.positions) - 1, 0, nil
	}
	nulls := 0
	for _, p := range b.positions {
		if p.ProductID == "" {
			nulls++
		}
	}
	return len(b.positions), nulls, nil
}

func (f *fakePositionStore) ActivateBatch(_ context.Context, accountID string, batchID int64) error {
	if f.activateErr != nil {
		return f.activateErr
	}
	for _, b := range f.batches[accountID] {
		if b.status == models.BatchActive {
			b.status = models.BatchArchived
		}
	}
	b := f.find(accountID, batchID)
	if b == nil || b.status != models.BatchStaging {
		return models.ErrConcurrencyConflict
	}
	b.status = models.BatchActive
	f.activateDone = append(f.activateDone, batchID)
	return nil
}

func (f *fakePositionStore) RollbackBatch(_ context.Context, accountID, businessDate string) (bool, error) {
	if f.rollbackErr != nil {
		return false, f.rollbackErr
	}
	if f.rollbackOK {
		f.rolledBack = append(f.rolledBack, accountID+"/"+businessDate)
	}
	return f.rollbackOK, nil
}

func (f *fakePositionStore) CleanupBatches(context.Context, string, int) (int, error) { return 0, nil }
func (f *fakePositionStore) PurgeBatchesBefore(context.Context, time.Time) (int, error) {
	return 0, nil
}
func (f *fakePositionStore) GetBatch(context.Context, string, int64) (*models.Batch, error) {
	return nil, nil
}
func (f *fakePositionStore) GetActiveBatch(context.Context, string, string) (*models.Batch, error) {
	return nil, nil
}
func (f *fakePositionStore) ListBatches(context.Context, string, int) ([]*models.Batch, error) {
	return nil, nil
}
func (f *fakePositionStore) GetActivePositions(context.Context, string, string) ([]*models.Position, error) {
	return nil, nil
}
func (f *fakePositionStore) GetPositionsByDate(_ context.Context, _ string, date string) ([]*models.Position, error) {
	return f.prevByDate[date], nil
}
func (f *fakePositionStore) GetQuantityAsOf(context.Context, string, string, string, time.Time) (float64, error) {
	return 0, models.ErrNotFound
}
func (f *fakePositionStore) AdjustPosition(context.Context, string, string, string, float64, float64, models.PositionSource) error {
	return nil
}

func (f *fakePositionStore) active(accountID string) *fakeBatch {
	for _, b := range f.batches[accountID] {
		if b.status == models.BatchActive {
			return b
		}
	}
	return nil
}

type fakeEodStore struct {
	statuses map[string]*models.EodStatus
	hashes   map[string]*models.SnapshotHash
}

func newFakeEodStore() *fakeEodStore {
	return &fakeEodStore{statuses: make(map[string]*models.EodStatus), hashes: make(map[string]*models.SnapshotHash)}
}

func key(accountID, date string) string { return accountID + "_" + date }

func (f *fakeEodStore) GetStatus(_ context.Context, accountID, date string) (*models.EodStatus, error) {
	if s, ok := f.statuses[key(accountID, date)]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeEodStore) SetStatus(_ context.Context, status *models.EodStatus) error {
	copied := *status
	f.statuses[key(status.AccountID, status.BusinessDate)] = &copied
	return nil
}

func (f *fakeEodStore) ResetStatus(_ context.Context, accountID, date string) error {
	delete(f.statuses, key(accountID, date))
	return nil
}

func (f *fakeEodStore) ListStatusHistory(context.Context, string, int) ([]*models.EodStatus, error) {
	return nil, nil
}

func (f *fakeEodStore) CountCompleted(_ context.Context, accountIDs []string, date string) (int, error) {
	n := 0
	for _, id := range accountIDs {
		if s, ok := f.statuses[key(id, date)]; ok && s.Status == models.EodCompleted {
			n++
		}
	}
	return n, nil
}

func (f *fakeEodStore) GetSnapshotHash(_ context.Context, accountID, date string) (*models.SnapshotHash, error) {
	return f.hashes[key(accountID, date)], nil
}

func (f *fakeEodStore) SaveSnapshotHash(_ context.Context, hash *models.SnapshotHash) error {
	f.hashes[key(hash.AccountID, hash.BusinessDate)] = hash
	return nil
}

func (f *fakeEodStore) DeleteSnapshotHash(_ context.Context, accountID, date string) error {
	delete(f.hashes, key(accountID, date))
	return nil
}

type fakeRefDataStore struct {
	clientAccounts map[string][]string
	accounts       []*models.Account
	products       []*models.Product
}

func (f *fakeRefDataStore) UpsertAccount(_ context.Context, a *models.Account) error {
	f.accounts = append(f.accounts, a)
	return nil
}
func (f *fakeRefDataStore) GetAccount(context.Context, string) (*models.Account, error) {
	return nil, nil
}
func (f *fakeRefDataStore) ListAccountIDs(context.Context) ([]string, error) { return nil, nil }
func (f *fakeRefDataStore) ListClientAccounts(_ context.Context, clientID string) ([]string, error) {
	return f.clientAccounts[clientID], nil
}
func (f *fakeRefDataStore) UpsertProduct(_ context.Context, p *models.Product) error {
	f.products = append(f.products, p)
	return nil
}
func (f *fakeRefDataStore) ListHolidays(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeRefDataStore) UpsertHoliday(context.Context, *models.Holiday) error   { return nil }

type fakeStorage struct {
	positions *fakePositionStore
	eod       *fakeEodStore
	refdata   *fakeRefDataStore
}

func (f *fakeStorage) PositionStore() interfaces.PositionStore { return f.positions }
func (f *fakeStorage) EodStore() interfaces.EodStore           { return f.eod }
func (f *fakeStorage) RefDataStore() interfaces.RefDataStore   { return f.refdata }
func (f *fakeStorage) SnapshotCache() interfaces.SnapshotCache { return nil }
func (f *fakeStorage) LockStore() interfaces.LockStore         { return nil }
func (f *fakeStorage) Close() error                            { return nil }

type fakeUpstream struct {
	snapshots map[string]*models.Snapshot
	err       error
}

func (f *fakeUpstream) FetchSnapshot(_ context.Context, accountID, _ string) (*models.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.snapshots[accountID]; ok {
		return s, nil
	}
	return &models.Snapshot{AccountID: accountID, Status: models.SnapshotUnavailable}, nil
}

type weekdayCalendar struct{}

func (weekdayCalendar) IsBusinessDay(date string) bool {
	t, err := common.ParseBusinessDate(date)
	if err != nil {
		return false
	}
	return t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
}

func (c weekdayCalendar) PreviousBusinessDay(date string) string {
	t, err := common.ParseBusinessDate(date)
	if err != nil {
		return ""
	}
	for {
		t = t.AddDate(0, 0, -1)
		if c.IsBusinessDay(common.FormatBusinessDate(t)) {
			return common.FormatBusinessDate(t)
		}
	}
}

func (weekdayCalendar) Refresh(context.Context) error { return nil }

type capturedEvents struct {
	changes  []*models.PositionChangeEvent
	signOffs []*models.ClientSignOffEvent
	alerts   []*models.Alert
}

func (c *capturedEvents) PublishChange(_ context.Context, e *models.PositionChangeEvent) error {
	c.changes = append(c.changes, e)
	return nil
}
func (c *capturedEvents) PublishSignOff(_ context.Context, e *models.ClientSignOffEvent) error {
	c.signOffs = append(c.signOffs, e)
	return nil
}
func (c *capturedEvents) PublishAlert(_ context.Context, a *models.Alert) error {
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *capturedEvents) alertsOfType(alertType string) []*models.Alert {
	var out []*models.Alert
	for _, a := range c.alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

// ---- fixture ----

const (
	bizDate  = "2026-08-21" // Friday
	saturday = "2026-08-22"
)

type fixture struct {
	svc      *Service
	storage  *fakeStorage
	upstream *fakeUpstream
	events   *capturedEvents
}

func newFixture() *fixture {
	storage := &fakeStorage{
		positions: newFakePositionStore(),
		eod:       newFakeEodStore(),
		refdata:   &fakeRefDataStore{clientAccounts: map[string][]string{}},
	}
	upstream := &fakeUpstream{snapshots: map[string]*models.Snapshot{}}
	events := &capturedEvents{}

	config := common.EodConfig{
		StrictValidation:      true,
		ZeroPriceThresholdPct: 10,
		LateEodMaxDays:        5,
		MaxQuantity:           1e9,
		MaxPrice:              1e6,
		QuantityJumpPct:       200,
	}
	logger := common.NewSilentLogger()
	svc := NewService(storage, upstream,
		validation.NewService(config, logger), weekdayCalendar{}, events, config, logger)

	return &fixture{svc: svc, storage: storage, upstream: upstream, events: events}
}

func goodSnapshot(accountID, clientID string, n int) *models.Snapshot {
	snap := &models.Snapshot{
		AccountID:    accountID,
		ClientID:     clientID,
		BusinessDate: bizDate,
		Status:       models.SnapshotAvailable,
	}
	for i := 0; i < n; i++ {
		snap.Positions = append(snap.Positions, models.SnapshotPosition{
			ProductID:    fmt.Sprintf("P%03d", i),
			Ticker:       "AAPL",
			PositionType: "LONG",
			BusinessDate: bizDate,
			Quantity:     float64(100 + i),
			Price:        10.5,
			Currency:     "USD",
		})
	}
	return snap
}

// ---- tests ----

func TestProcessEodHappyPath(t *testing.T) {
	fx := newFixture()
	fx.upstream.snapshots["ACC-001"] = goodSnapshot("ACC-001", "CLI-1", 5)

	status, err := fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate)
	if err != nil {
		t.Fatalf("ProcessEod failed: %v", err)
	}
	if status.Status != models.EodCompleted {
		t.Fatalf("Expected COMPLETED, got %s", status.Status)
	}
	if status.PositionCount != 5 {
		t.Errorf("Expected 5 positions, got %d", status.PositionCount)
	}

	active := fx.storage.positions.active("ACC-001")
	if active == nil {
		t.Fatal("No active batch after EOD")
	}
	if len(active.positions) != 5 {
		t.Errorf("Active batch has %d positions", len(active.positions))
	}
	if fx.storage.eod.hashes[key("ACC-001", bizDate)] == nil {
		t.Error("Content hash not stored")
	}
	if len(fx.events.changes) != 1 || fx.events.changes[0].EventType != models.EventEodComplete {
		t.Errorf("Expected one EOD_COMPLETE event, got %+v", fx.events.changes)
	}
	if len(fx.storage.refdata.products) != 5 {
		t.Errorf("Expected 5 product upserts, got %d", len(fx.storage.refdata.products))
	}
}

func TestProcessEodIsIdempotent(t *testing.T) {
	fx := newFixture()
	fx.upstream.snapshots["ACC-001"] = goodSnapshot("ACC-001", "CLI-1", 3)

	if _, err := fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	batchesAfterFirst := len(fx.storage.positions.batches["ACC-001"])

	status, err := fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if status.Status != models.EodCompleted {
		t.Errorf("Expected COMPLETED, got %s", status.Status)
	}
	if len(fx.storage.positions.batches["ACC-001"]) != batchesAfterFirst {
		t.Error("Completed re-run must not create batches")
	}
	if len(fx.events.changes) != 1 {
		t.Errorf("Completed re-run must not re-publish, got %d events", len(fx.events.changes))
	}
}

func TestProcessEodSkipsNonBusinessDay(t *testing.T) {
	fx := newFixture()

	status, err := fx.svc.ProcessEod(context.Background(), "ACC-001", saturday)
	if err != nil {
		t.Fatalf("ProcessEod failed: %v", err)
	}
	if status.Status != models.EodSkipped || status.Reason != models.SkipReasonNonBusiness {
		t.Errorf("Expected SKIPPED/NON_BUSINESS_DAY, got %s/%s", status.Status, status.Reason)
	}
	if len(fx.storage.positions.batches["ACC-001"]) != 0 {
		t.Error("Non-business day must not touch positions")
	}
}

func TestProcessEodSkipsDuplicateSnapshot(t *testing.T) {
	fx := newFixture()
	fx.upstream.snapshots["ACC-001"] = goodSnapshot("ACC-001", "CLI-1", 3)

	if _, err := fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	// Reset status but keep the hash: the same content must be rejected.
	delete(fx.storage.eod.statuses, key("ACC-001", bizDate))
	batches := len(fx.storage.positions.batches["ACC-001"])

	status, err := fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate)
	if err != nil {
		t.Fatalf("Duplicate run errored: %v", err)
	}
	if status.Status != models.EodSkipped || status.Reason != models.SkipReasonDuplicate {
		t.Errorf("Expected SKIPPED/DUPLICATE, got %s/%s", status.Status, status.Reason)
	}
	if len(fx.storage.positions.batches["ACC-001"]) != batches {
		t.Error("Duplicate snapshot must not be staged")
	}

	// Changed content for the same date must load.
	changed := goodSnapshot("ACC-001", "CLI-1", 4)
	fx.upstream.snapshots["ACC-001"] = changed
	status, err = fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate)
	if err != nil {
		t.Fatalf("Changed snapshot run failed: %v", err)
	}
	if status.Status != models.EodCompleted {
		t.Errorf("Changed content must complete, got %s", status.Status)
	}
}

func TestProcessEodFailsOnUnavailableSnapshot(t *testing.T) {
	fx := newFixture()
	// No snapshot registered: upstream returns UNAVAILABLE.

	status, err := fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate)
	if !errors.Is(err, models.ErrUpstreamUnavailable) {
		t.Fatalf("Expected ErrUpstreamUnavailable, got %v", err)
	}
	if status.Status != models.EodFailed {
		t.Errorf("Expected FAILED, got %s", status.Status)
	}
	if len(fx.events.alertsOfType(models.AlertTypeUpstream)) != 1 {
		t.Error("Expected upstream alert")
	}
	if len(fx.events.alertsOfType(models.AlertTypeEodFailed)) != 1 {
		t.Error("Expected EOD_FAILED alert")
	}
}

func TestProcessEodRejectsStaleCacheSnapshot(t *testing.T) {
	fx := newFixture()
	stale := goodSnapshot("ACC-001", "CLI-1", 3)
	stale.Status = models.SnapshotStaleCache
	fx.upstream.snapshots["ACC-001"] = stale

	status, err := fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate)
	if !errors.Is(err, models.ErrUpstreamUnavailable) {
		t.Fatalf("Stale cache must not be loadable, got %v", err)
	}
	if status.Status != models.EodFailed {
		t.Errorf("Expected FAILED, got %s", status.Status)
	}
	if len(fx.storage.positions.batches["ACC-001"]) != 0 {
		t.Error("Stale cache data must never be staged")
	}
}

func TestFailureAlertEscalation(t *testing.T) {
	fx := newFixture()

	wantLevels := []models.AlertLevel{
		models.AlertWarning, models.AlertWarning,
		models.AlertCritical, models.AlertCritical,
		models.AlertPage,
	}
	for i, want := range wantLevels {
		_, err := fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate)
		if err == nil {
			t.Fatal("Expected failure")
		}
		failed := fx.events.alertsOfType(models.AlertTypeEodFailed)
		if len(failed) != i+1 {
			t.Fatalf("Expected %d EOD_FAILED alerts, got %d", i+1, len(failed))
		}
		if failed[i].Level != want {
			t.Errorf("Failure %d: expected level %s, got %s", i+1, want, failed[i].Level)
		}
	}
}

func TestFailureCountResetsOnSuccess(t *testing.T) {
	fx := newFixture()

	for i := 0; i < 2; i++ {
		if _, err := fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate); err == nil {
			t.Fatal("Expected failure")
		}
	}
	fx.upstream.snapshots["ACC-001"] = goodSnapshot("ACC-001", "CLI-1", 2)

	status, err := fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate)
	if err != nil {
		t.Fatalf("ProcessEod failed: %v", err)
	}
	if status.FailureCount != 0 {
		t.Errorf("Success must clear the consecutive-failure count, got %d", status.FailureCount)
	}
}

func TestProcessEodTripsPriceServiceDown(t *testing.T) {
	fx := newFixture()
	snap := goodSnapshot("ACC-001", "CLI-1", 10)
	for i := 0; i < 3; i++ { // 30% zero-priced, threshold 10%
		snap.Positions[i].Price = 0
	}
	fx.upstream.snapshots["ACC-001"] = snap

	status, err := fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
	if status.Status != models.EodFailed {
		t.Errorf("Expected FAILED, got %s", status.Status)
	}

	down := fx.events.alertsOfType(models.AlertTypePriceServiceDown)
	if len(down) != 1 || down[0].Level != models.AlertCritical {
		t.Errorf("Expected one CRITICAL PRICE_SERVICE_DOWN alert, got %+v", down)
	}
	if len(fx.storage.positions.batches["ACC-001"]) != 0 {
		t.Error("Tripped snapshot must not be staged")
	}
}

func TestProcessEodStrictValidationAborts(t *testing.T) {
	fx := newFixture()
	snap := goodSnapshot("ACC-001", "CLI-1", 5)
	snap.Positions[2].Currency = "" // one error in strict mode
	fx.upstream.snapshots["ACC-001"] = snap

	status, err := fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
	if status.Status != models.EodFailed {
		t.Errorf("Expected FAILED, got %s", status.Status)
	}
}

func TestPreActivationMismatchLeavesStaging(t *testing.T) {
	fx := newFixture()
	fx.upstream.snapshots["ACC-001"] = goodSnapshot("ACC-001", "CLI-1", 5)
	fx.storage.positions.dropRows = true

	status, err := fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate)
	if !errors.Is(err, models.ErrBatchValidation) {
		t.Fatalf("Expected ErrBatchValidation, got %v", err)
	}
	if status.Status != models.EodFailed {
		t.Errorf("Expected FAILED, got %s", status.Status)
	}
	if len(fx.storage.positions.activateDone) != 0 {
		t.Error("Mismatched batch must not be activated")
	}
	for _, b := range fx.storage.positions.batches["ACC-001"] {
		if b.status != models.BatchStaging {
			t.Errorf("Batch %d left in %s, want STAGING", b.id, b.status)
		}
	}
}

func TestClientSignOffAfterLastAccount(t *testing.T) {
	fx := newFixture()
	fx.storage.refdata.clientAccounts["CLI-1"] = []string{"ACC-001", "ACC-002"}
	fx.upstream.snapshots["ACC-001"] = goodSnapshot("ACC-001", "CLI-1", 2)
	fx.upstream.snapshots["ACC-002"] = goodSnapshot("ACC-002", "CLI-1", 2)

	if _, err := fx.svc.ProcessEod(context.Background(), "ACC-001", bizDate); err != nil {
		t.Fatalf("ProcessEod failed: %v", err)
	}
	if len(fx.events.signOffs) != 0 {
		t.Fatal("Sign-off must wait for all client accounts")
	}

	if _, err := fx.svc.ProcessEod(context.Background(), "ACC-002", bizDate); err != nil {
		t.Fatalf("ProcessEod failed: %v", err)
	}
	if len(fx.events.signOffs) != 1 {
		t.Fatalf("Expected one sign-off, got %d", len(fx.events.signOffs))
	}
	signOff := fx.events.signOffs[0]
	if signOff.ClientID != "CLI-1" || signOff.AccountCount != 2 {
		t.Errorf("Sign-off must carry the real completed count: %+v", signOff)
	}
}

func TestProcessLateEodWindow(t *testing.T) {
	fx := newFixture()

	old := common.FormatBusinessDate(time.Now().AddDate(0, 0, -10))
	if _, err := fx.svc.ProcessLateEod(context.Background(), "ACC-001", old); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("Expected rejection outside late window, got %v", err)
	}

	future := common.FormatBusinessDate(time.Now().AddDate(0, 0, 2))
	if _, err := fx.svc.ProcessLateEod(context.Background(), "ACC-001", future); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("Expected rejection of future date, got %v", err)
	}
}

func TestProcessLateEodRejectsCompletedUntilReset(t *testing.T) {
	fx := newFixture()

	// Most recent weekday within the late window.
	date := time.Now()
	for {
		d := common.FormatBusinessDate(date)
		if (weekdayCalendar{}).IsBusinessDay(d) {
			break
		}
		date = date.AddDate(0, 0, -1)
	}
	lateDate := common.FormatBusinessDate(date)

	snap := goodSnapshot("ACC-001", "CLI-1", 2)
	snap.BusinessDate = lateDate
	for i := range snap.Positions {
		snap.Positions[i].BusinessDate = lateDate
	}
	fx.upstream.snapshots["ACC-001"] = snap

	if _, err := fx.svc.ProcessLateEod(context.Background(), "ACC-001", lateDate); err != nil {
		t.Fatalf("Late EOD failed: %v", err)
	}
	if _, err := fx.svc.ProcessLateEod(context.Background(), "ACC-001", lateDate); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("Completed late EOD must be rejected until reset, got %v", err)
	}

	if err := fx.svc.Reset(context.Background(), "ACC-001", lateDate); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if fx.storage.eod.hashes[key("ACC-001", lateDate)] != nil {
		t.Error("Reset must clear the stored hash")
	}
	snap.Positions = append(snap.Positions, goodSnapshot("ACC-001", "CLI-1", 3).Positions[2])
	if _, err := fx.svc.ProcessLateEod(context.Background(), "ACC-001", lateDate); err != nil {
		t.Errorf("Late EOD after reset failed: %v", err)
	}
}

func TestRollbackEmitsAlert(t *testing.T) {
	fx := newFixture()

	ok, err := fx.svc.Rollback(context.Background(), "ACC-001", bizDate)
	if err != nil || !ok {
		t.Fatalf("Rollback = (%v, %v)", ok, err)
	}
	alerts := fx.events.alertsOfType(models.AlertTypeEodRollback)
	if len(alerts) != 1 || alerts[0].Level != models.AlertWarning {
		t.Errorf("Expected one WARNING rollback alert, got %+v", alerts)
	}

	fx.storage.positions.rollbackOK = false
	ok, err = fx.svc.Rollback(context.Background(), "ACC-001", bizDate)
	if err != nil || ok {
		t.Errorf("Rollback with nothing to fall back to = (%v, %v), want (false, nil)", ok, err)
	}
	if len(fx.events.alertsOfType(models.AlertTypeEodRollback)) != 1 {
		t.Error("No-op rollback must not alert")
	}
}
