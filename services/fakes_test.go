package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/gewnthar/playsync/config"
	"github.com/gewnthar/playsync/database"
	"github.com/gewnthar/playsync/ingest"
	"github.com/gewnthar/playsync/models"
	"github.com/gewnthar/playsync/storage"
)

type historyEntry struct {
	id      int64
	runID   string
	status  models.SyncStatus
	message string
	totals  models.SyncTotals
	closed  int
}

type fakeSources struct {
	mu      sync.Mutex
	sources map[int64]*models.DataSource
	history []*historyEntry
}

func newFakeSources(ds ...models.DataSource) *fakeSources {
	f := &fakeSources{sources: make(map[int64]*models.DataSource)}
	for i := range ds {
		d := ds[i]
		f.sources[d.ID] = &d
	}
	return f
}

func (f *fakeSources) GetDataSource(_ context.Context, id int64) (*models.DataSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ds, ok := f.sources[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *ds
	return &cp, nil
}

func (f *fakeSources) UpdateStatus(_ context.Context, id int64, status models.SyncStatus, lastSyncAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[id].Status = status
	if lastSyncAt != nil {
		f.sources[id].LastSyncAt = lastSyncAt
	}
	return nil
}

func (f *fakeSources) OpenHistory(_ context.Context, _ int64, runID string, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, &historyEntry{id: int64(len(f.history) + 1), runID: runID, status: models.StatusRunning})
	return int64(len(f.history)), nil
}

func (f *fakeSources) CloseHistory(_ context.Context, historyID int64, status models.SyncStatus, message string, totals models.SyncTotals, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.history[historyID-1]
	if h.status != models.StatusRunning {
		return database.ErrHistoryClosed
	}
	h.status, h.message, h.totals = status, message, totals
	h.closed++
	return nil
}

func (f *fakeSources) last() historyEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.history[len(f.history)-1]
}

type fakeTracking struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]*models.FileTracking
}

func newFakeTracking() *fakeTracking {
	return &fakeTracking{rows: make(map[string]*models.FileTracking)}
}

func trackingKey(tenant int64, path string) string { return fmt.Sprintf("%d|%s", tenant, path) }

func (f *fakeTracking) Get(_ context.Context, tenantID int64, path string) (*models.FileTracking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ft, ok := f.rows[trackingKey(tenantID, path)]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *ft
	return &cp, nil
}

func (f *fakeTracking) Create(ctx context.Context, ft models.FileTracking) (*models.FileTracking, error) {
	f.mu.Lock()
	key := trackingKey(ft.TenantID, ft.FilePath)
	if _, ok := f.rows[key]; !ok {
		f.nextID++
		ft.ID = f.nextID
		f.rows[key] = &ft
	}
	f.mu.Unlock()
	return f.Get(ctx, ft.TenantID, ft.FilePath)
}

func (f *fakeTracking) byID(id int64) *models.FileTracking {
	for _, ft := range f.rows {
		if ft.ID == id {
			return ft
		}
	}
	return nil
}

func (f *fakeTracking) MarkSuccess(_ context.Context, id int64, hash string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ft := f.byID(id)
	ft.FileHash = hash
	ft.LastProcessed = &at
	if ft.FirstProcessed == nil {
		ft.FirstProcessed = &at
	}
	ft.LastAttemptAt, ft.LastStatus, ft.LastError = &at, string(models.OutcomeSuccess), ""
	return nil
}

func (f *fakeTracking) MarkFailure(_ context.Context, id int64, errMsg string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ft := f.byID(id)
	ft.LastAttemptAt, ft.LastStatus, ft.LastError = &at, string(models.OutcomeError), errMsg
	return nil
}

// fakeLoader emulates INSERT IGNORE on (table, source_file, report_date).
type fakeLoader struct {
	mu       sync.Mutex
	stored   map[string]bool
	calls    int
	failFor  map[string]bool
	onInsert func()
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{stored: make(map[string]bool), failFor: make(map[string]bool)}
}

func (l *fakeLoader) InsertIgnore(_ context.Context, table string, rows []models.DestinationRow) (int, error) {
	if l.onInsert != nil {
		l.onInsert()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.failFor[table] {
		return 0, &ingest.BulkInsertError{Table: table, Rows: len(rows), Err: fmt.Errorf("lock wait timeout")}
	}
	for _, r := range rows {
		l.stored[fmt.Sprintf("%s|%v|%v|%v", table, r[models.ColTenantID], r[models.ColSourceFile], r[models.ColReportDate])] = true
	}
	return len(rows), nil
}

func (l *fakeLoader) storedRows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.stored)
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *recordingSink) Publish(_ context.Context, ev models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) ofType(typ string) []models.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ProgressEvent
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	svc      *SyncService
	sources  *fakeSources
	tracking *fakeTracking
	loader   *fakeLoader
	sink     *recordingSink
	bucket   string
	scratch  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bucket := t.TempDir()
	scratch := t.TempDir()
	logger := zap.NewNop()

	env := &testEnv{
		sources: newFakeSources(models.DataSource{
			ID: 1, TenantID: 42, Name: "play", BucketURI: "file://" + bucket, Status: models.StatusPending,
		}),
		tracking: newFakeTracking(),
		loader:   newFakeLoader(),
		sink:     &recordingSink{},
		bucket:   bucket,
		scratch:  scratch,
	}
	mux := storage.NewMux()
	mux.Handle(storage.NewLocalClient(""), storage.SchemeFile)

	env.svc = NewSyncService(Deps{
		Sources:     env.sources,
		Tracking:    env.tracking,
		Storage:     mux,
		Loader:      env.loader,
		Locker:      NewMemoryLocker(),
		Progress:    env.sink,
		Metrics:     NewMetrics(prometheus.NewRegistry()),
		Router:      ingest.NewRouter(ingest.DefaultRules()),
		Extractor:   ingest.NewExtractor(scratch, logger),
		Reader:      ingest.NewCSVReader(logger),
		Transformer: ingest.NewTransformer(logger),
		Config: config.SyncConfig{
			BatchSize:       200,
			Workers:         3,
			ProgressEvery:   10,
			ScratchDir:      scratch,
			FreshnessWindow: 24 * time.Hour,
			RunLockTTL:      time.Hour,
		},
		Logger: logger,
	})
	return env
}

func (e *testEnv) put(t *testing.T, key, body string) {
	t.Helper()
	p := filepath.Join(e.bucket, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// zipOf builds an archive holding the given entries.
func zipOf(t *testing.T, entries map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func (e *testEnv) scratchEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.scratch)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, ent := range entries {
		names = append(names, ent.Name())
	}
	return names
}

const salesCSV = "Order Number,Order Charged Date,Order Charged Timestamp,Financial Status,Product ID,Item Price,Charged Amount\n" +
	"GPA.3301-0001,2024-01-05,1704412800,Charged,com.example.app,4.99,4.99\n" +
	"GPA.3301-0002,2024-01-06,1704499200,Charged,com.example.app,9.99,9.99\n"

func installsCSV(days int) string {
	body := "Date,Package Name,Daily Device Installs\n"
	for d := 1; d <= days; d++ {
		body += fmt.Sprintf("2024-01-%02d,com.example.app,%d\n", d, d*3)
	}
	return body
}
