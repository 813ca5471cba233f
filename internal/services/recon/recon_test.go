package recon

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

const (
	bizDate  = "2026-08-21" // Friday
	prevDate = "2026-08-20"
)

type fakePositions struct {
	byDate map[string][]*models.Position // "account|date"
}

func (f *fakePositions) GetPositionsByDate(_ context.Context, accountID, date string) ([]*models.Position, error) {
	return f.byDate[accountID+"|"+date], nil
}

func (f *fakePositions) CreateBatch(context.Context, string, string) (int64, error) { return 0, nil }
func (f *fakePositions) InsertPositions(context.Context, string, int64, []models.SnapshotPosition, models.PositionSource) error {
	return nil
}
func (f *fakePositions) CountBatchPositions(context.Context, string, int64) (int, int, error) {
	return 0, 0, nil
}
func (f *fakePositions) ActivateBatch(context.Context, string, int64) error { return nil }
func (f *fakePositions) RollbackBatch(context.Context, string, string) (bool, error) {
	return false, nil
}
func (f *fakePositions) CleanupBatches(context.Context, string, int) (int, error) { return 0, nil }
func (f *fakePositions) PurgeBatchesBefore(context.Context, time.Time) (int, error) {
	return 0, nil
}
func (f *fakePositions) GetBatch(context.Context, string, int64) (*models.Batch, error) {
	return nil, nil
}
func (f *fakePositions) GetActiveBatch(context.Context, string, string) (*models.Batch, error) {
	return nil, nil
}
func (f *fakePositions) ListBatches(context.Context, string, int) ([]*models.Batch, error) {
	return nil, nil
}
func (f *fakePositions) GetActivePositions(context.Context, string, string) ([]*models.Position, error) {
	return nil, nil
}
func (f *fakePositions) GetQuantityAsOf(context.Context, string, string, string, time.Time) (float64, error) {
	return 0, models.ErrNotFound
}
func (f *fakePositions) AdjustPosition(context.Context, string, string, string, float64, float64, models.PositionSource) error {
	return nil
}

type fakeRefData struct{ accountIDs []string }

func (f *fakeRefData) UpsertAccount(context.Context, *models.Account) error { return nil }
func (f *fakeRefData) GetAccount(context.Context, string) (*models.Account, error) {
	return nil, nil
}
func (f *fakeRefData) ListAccountIDs(context.Context) ([]string, error) { return f.accountIDs, nil }
func (f *fakeRefData) ListClientAccounts(context.Context, string) ([]string, error) {
	return nil, nil
}
func (f *fakeRefData) UpsertProduct(context.Context, *models.Product) error { return nil }
func (f *fakeRefData) ListHolidays(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeRefData) UpsertHoliday(context.Context, *models.Holiday) error { return nil }

type fakeStorage struct {
	positions *fakePositions
	refdata   *fakeRefData
}

func (f *fakeStorage) PositionStore() interfaces.PositionStore { return f.positions }
func (f *fakeStorage) EodStore() interfaces.EodStore           { return nil }
func (f *fakeStorage) RefDataStore() interfaces.RefDataStore   { return f.refdata }
func (f *fakeStorage) SnapshotCache() interfaces.SnapshotCache { return nil }
func (f *fakeStorage) LockStore() interfaces.LockStore         { return nil }
func (f *fakeStorage) Close() error                            { return nil }

type stubCalendar struct{}

func (stubCalendar) IsBusinessDay(string) bool { return true }
func (stubCalendar) PreviousBusinessDay(date string) string {
	if date == bizDate {
		return prevDate
	}
	return ""
}
func (stubCalendar) Refresh(context.Context) error { return nil }

type alertSink struct{ alerts []*models.Alert }

func (a *alertSink) PublishChange(context.Context, *models.PositionChangeEvent) error { return nil }
func (a *alertSink) PublishSignOff(context.Context, *models.ClientSignOffEvent) error { return nil }
func (a *alertSink) PublishAlert(_ context.Context, alert *models.Alert) error {
	a.alerts = append(a.alerts, alert)
	return nil
}

func pos(productID string, qty, price float64) *models.Position {
	return &models.Position{ProductID: productID, Quantity: qty, Price: price}
}

func newFixture(current, previous []*models.Position) (*Service, *alertSink) {
	storage := &fakeStorage{
		positions: &fakePositions{byDate: map[string][]*models.Position{
			"ACC-001|" + bizDate:  current,
			"ACC-001|" + prevDate: previous,
		}},
		refdata: &fakeRefData{accountIDs: []string{"ACC-001"}},
	}
	sink := &alertSink{}
	return NewService(storage, stubCalendar{}, sink, common.NewSilentLogger()), sink
}

func TestReconcileCleanDay(t *testing.T) {
	svc, sink := newFixture(
		[]*models.Position{pos("P1", 100, 10), pos("P2", 50, 20)},
		[]*models.Position{pos("P1", 100, 10), pos("P2", 50, 20)},
	)

	report, err := svc.Reconcile(context.Background(), "ACC-001", bizDate)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.Status != models.ReconOK {
		t.Errorf("Expected OK, got %s: %+v", report.Status, report.Anomalies)
	}
	if report.UnchangedCount != 2 {
		t.Errorf("Expected 2 unchanged, got %d", report.UnchangedCount)
	}
	if len(sink.alerts) != 0 {
		t.Error("OK reports must not alert")
	}
}

func TestReconcileValueChangeSeverity(t *testing.T) {
	// P1 value +30% (warning), P2 value +60% (critical).
	svc, sink := newFixture(
		[]*models.Position{pos("P1", 130, 10), pos("P2", 160, 10)},
		[]*models.Position{pos("P1", 100, 10), pos("P2", 100, 10)},
	)

	report, err := svc.Reconcile(context.Background(), "ACC-001", bizDate)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.Status != models.ReconCritical {
		t.Errorf("Expected worst severity CRITICAL, got %s", report.Status)
	}

	severities := map[string]models.ReconSeverity{}
	for _, a := range report.Anomalies {
		if a.Type == models.AnomalyValueChange {
			severities[a.ProductID] = a.Severity
		}
	}
	if severities["P1"] != models.ReconWarning {
		t.Errorf("P1: expected WARNING, got %s", severities["P1"])
	}
	if severities["P2"] != models.ReconCritical {
		t.Errorf("P2: expected CRITICAL, got %s", severities["P2"])
	}

	if len(sink.alerts) != 1 || sink.alerts[0].Level != models.AlertCritical {
		t.Errorf("Expected one CRITICAL recon alert, got %+v", sink.alerts)
	}
}

func TestReconcileCountChange(t *testing.T) {
	previous := []*models.Position{
		pos("P1", 100, 10), pos("P2", 100, 10), pos("P3", 100, 10),
		pos("P4", 100, 10), pos("P5", 100, 10), pos("P6", 100, 10),
		pos("P7", 100, 10), pos("P8", 100, 10), pos("P9", 100, 10), pos("P10", 100, 10),
	}
	// 6 of 10 remain: 40% count drop = WARNING.
	svc, _ := newFixture(previous[:6], previous)

	report, err := svc.Reconcile(context.Background(), "ACC-001", bizDate)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	var found *models.ReconAnomaly
	for i := range report.Anomalies {
		if report.Anomalies[i].Type == models.AnomalyCountChange {
			found = &report.Anomalies[i]
		}
	}
	if found == nil {
		t.Fatalf("Expected COUNT_CHANGE anomaly, got %+v", report.Anomalies)
	}
	if found.Severity != models.ReconWarning {
		t.Errorf("40%% count change should be WARNING, got %s", found.Severity)
	}
	if math.Abs(report.CountChangePct-40) > 0.01 {
		t.Errorf("CountChangePct = %.2f, want 40", report.CountChangePct)
	}
}

func TestReconcileMissingData(t *testing.T) {
	svc, sink := newFixture(nil, []*models.Position{pos("P1", 100, 10)})

	report, err := svc.Reconcile(context.Background(), "ACC-001", bizDate)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.Status != models.ReconCritical {
		t.Errorf("Empty today with data yesterday must be CRITICAL, got %s", report.Status)
	}
	found := false
	for _, a := range report.Anomalies {
		if a.Type == models.AnomalyMissingData && a.Severity == models.ReconCritical {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected CRITICAL MISSING_DATA anomaly, got %+v", report.Anomalies)
	}
	if len(sink.alerts) != 1 {
		t.Error("Critical report must alert")
	}
}

func TestComputeDiffClassification(t *testing.T) {
	svc, _ := newFixture(nil, nil)

	current := []*models.Position{
		pos("NEW", 10, 5),
		pos("UP", 200, 10),
		pos("DOWN", 50, 10),
		pos("SAME", 100, 10),
		pos("REPRICED", 100, 12),
	}
	previous := []*models.Position{
		pos("UP", 100, 10),
		pos("DOWN", 100, 10),
		pos("SAME", 100, 10),
		pos("REPRICED", 100, 10),
		pos("GONE", 30, 7),
	}

	report := svc.ComputeDiff("ACC-001", current, previous)

	kinds := map[string]models.DiffKind{}
	for _, e := range report.Entries {
		kinds[e.ProductID] = e.Kind
	}
	want := map[string]models.DiffKind{
		"NEW":      models.DiffNew,
		"UP":       models.DiffIncreased,
		"DOWN":     models.DiffDecreased,
		"SAME":     models.DiffUnchanged,
		"REPRICED": models.DiffPriceOnly,
		"GONE":     models.DiffClosed,
	}
	for product, kind := range want {
		if kinds[product] != kind {
			t.Errorf("%s: expected %s, got %s", product, kind, kinds[product])
		}
	}

	// Sorted by |pct| descending.
	for i := 1; i < len(report.Entries); i++ {
		if math.Abs(report.Entries[i].PctChange) > math.Abs(report.Entries[i-1].PctChange) {
			t.Fatalf("Entries not sorted by |pct| desc at %d: %+v", i, report.Entries)
		}
	}
}

func TestReconcileAll(t *testing.T) {
	svc, _ := newFixture(
		[]*models.Position{pos("P1", 100, 10)},
		[]*models.Position{pos("P1", 100, 10)},
	)

	reports, err := svc.ReconcileAll(context.Background(), bizDate)
	if err != nil {
		t.Fatalf("ReconcileAll failed: %v", err)
	}
	if len(reports) != 1 || reports[0].AccountID != "ACC-001" {
		t.Errorf("Unexpected reports: %+v", reports)
	}
}
