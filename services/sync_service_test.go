package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gewnthar/playsync/database"
	"github.com/gewnthar/playsync/ingest"
	"github.com/gewnthar/playsync/models"
	"github.com/gewnthar/playsync/storage"
)

func TestTriggerSyncIsolatesCorruptArchive(t *testing.T) {
	env := newTestEnv(t)
	for i := 1; i <= 9; i++ {
		env.put(t, fmt.Sprintf("stats/installs/installs_com.example.app%d_202401_overview.csv", i), installsCSV(5))
	}
	env.put(t, "sales/salesreport_202401.zip", "this is not a zip archive")

	result, err := env.svc.TriggerSync(context.Background(), 1, models.SyncOptions{})
	if err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
	if result.Status != models.StatusSuccess {
		t.Errorf("status = %s, want success", result.Status)
	}
	if result.FilesProcessed != 9 || result.FilesErrored != 1 || result.TotalFiles != 10 {
		t.Errorf("processed/errored/total = %d/%d/%d, want 9/1/10",
			result.FilesProcessed, result.FilesErrored, result.TotalFiles)
	}
	if result.RecordsInserted != 45 {
		t.Errorf("records = %d, want 45", result.RecordsInserted)
	}
	if result.SuccessRate != 90 {
		t.Errorf("success rate = %v, want 90", result.SuccessRate)
	}

	h := env.sources.last()
	if h.status != models.StatusSuccess || h.closed != 1 || h.totals.FilesErrored != 1 {
		t.Errorf("history = %+v", h)
	}

	zipTracking, err := env.tracking.Get(context.Background(), 42, "sales/salesreport_202401.zip")
	if err != nil {
		t.Fatalf("tracking for zip: %v", err)
	}
	if zipTracking.LastProcessed != nil || zipTracking.LastStatus != "error" || zipTracking.LastError == "" {
		t.Errorf("failed file tracking = %+v", zipTracking)
	}

	var zipResult models.FileResult
	for _, fr := range result.Results {
		if fr.Path == "sales/salesreport_202401.zip" {
			zipResult = fr
		}
	}
	if zipResult.Outcome != models.OutcomeError {
		t.Errorf("zip result = %+v", zipResult)
	}
}

func TestTriggerSyncSkipsFreshFilesOnRerun(t *testing.T) {
	env := newTestEnv(t)
	env.put(t, "stats/installs/installs_com.example.app_202401_overview.csv", installsCSV(10))

	first, err := env.svc.TriggerSync(context.Background(), 1, models.SyncOptions{})
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.RecordsInserted != 10 || first.FilesProcessed != 1 {
		t.Fatalf("first run = %+v", first)
	}

	env.svc.tracker.now = func() time.Time { return time.Now().Add(time.Hour) }
	second, err := env.svc.TriggerSync(context.Background(), 1, models.SyncOptions{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.RecordsInserted != 0 || second.FilesSkipped != 1 {
		t.Errorf("second run inserted %d, skipped %d; want 0 and 1", second.RecordsInserted, second.FilesSkipped)
	}
	if second.SkipReasons[ReasonRecentlyProcessed] != 1 {
		t.Errorf("skip reasons = %v", second.SkipReasons)
	}
	if env.loader.storedRows() != 10 {
		t.Errorf("stored rows = %d, want 10", env.loader.storedRows())
	}

	forced, err := env.svc.TriggerSync(context.Background(), 1, models.SyncOptions{Force: true})
	if err != nil {
		t.Fatalf("forced sync: %v", err)
	}
	if forced.FilesProcessed != 1 || env.loader.storedRows() != 10 {
		t.Errorf("forced run processed %d, stored %d; want 1 and 10", forced.FilesProcessed, env.loader.storedRows())
	}
}

func TestTriggerSyncRetriesAfterWindow(t *testing.T) {
	env := newTestEnv(t)
	env.put(t, "stats/crashes/crashes_com.example.app_202401.csv", "date,daily_crashes\n2024-01-01,3\n")

	if _, err := env.svc.TriggerSync(context.Background(), 1, models.SyncOptions{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	env.svc.tracker.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	result, err := env.svc.TriggerSync(context.Background(), 1, models.SyncOptions{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if result.FilesProcessed != 1 {
		t.Errorf("processed = %d, want 1 after freshness window", result.FilesProcessed)
	}
}

func TestTriggerSyncTalliesSkipReasons(t *testing.T) {
	env := newTestEnv(t)
	env.put(t, ".DS_Store", "x")
	env.put(t, "archive.bak", "x")
	env.put(t, "randomfile.xyz", "x")
	env.put(t, "reviews/reviews_com.example.app_202401.csv",
		"Package Name,Review Submit Millis Since Epoch,Star Rating\ncom.example.app,1704067200000,5\n")

	result, err := env.svc.TriggerSync(context.Background(), 1, models.SyncOptions{})
	if err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
	want := map[string]int{
		ingest.ReasonHiddenFile:           1,
		ingest.ReasonUnsupportedExtension: 1,
		ingest.ReasonNotRecognized:        1,
	}
	for reason, n := range want {
		if result.SkipReasons[reason] != n {
			t.Errorf("skip reason %q = %d, want %d (all: %v)", reason, result.SkipReasons[reason], n, result.SkipReasons)
		}
	}
	if result.FilesProcessed != 1 || result.FilesSkipped != 3 {
		t.Errorf("processed/skipped = %d/%d", result.FilesProcessed, result.FilesSkipped)
	}
}

func TestTriggerSyncAllFilesFailedIsWarning(t *testing.T) {
	env := newTestEnv(t)
	env.loader.failFor[models.TableInstallsOverview] = true
	env.put(t, "stats/installs/installs_com.example.app_202401.csv", installsCSV(3))

	result, err := env.svc.TriggerSync(context.Background(), 1, models.SyncOptions{})
	if err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
	if result.Status != models.StatusWarning || result.FilesErrored != 1 {
		t.Errorf("result = %+v", result)
	}
	ds, _ := env.sources.GetDataSource(context.Background(), 1)
	if ds.Status != models.StatusWarning {
		t.Errorf("data source status = %s", ds.Status)
	}
}

func TestTriggerSyncEmptyBucket(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.svc.TriggerSync(context.Background(), 1, models.SyncOptions{})
	if err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
	if result.Status != models.StatusSuccess || result.FilesProcessed != 0 {
		t.Errorf("result = %+v", result)
	}
	if h := env.sources.last(); h.status != models.StatusSuccess {
		t.Errorf("history status = %s", h.status)
	}
}

func TestTriggerSyncUnreachableBucket(t *testing.T) {
	env := newTestEnv(t)
	env.sources.sources[1].BucketURI = "file:///definitely/not/here"

	_, err := env.svc.TriggerSync(context.Background(), 1, models.SyncOptions{})
	var accessErr *storage.BucketAccessError
	if !errors.As(err, &accessErr) {
		t.Fatalf("err = %v, want *BucketAccessError", err)
	}
	if h := env.sources.last(); h.status != models.StatusError || h.closed != 1 {
		t.Errorf("history = %+v", h)
	}
	ds, _ := env.sources.GetDataSource(context.Background(), 1)
	if ds.Status != models.StatusError {
		t.Errorf("data source status = %s", ds.Status)
	}
	if len(env.sink.ofType(models.EventSyncError)) != 1 {
		t.Error("expected one sync_error event")
	}
}

func TestTriggerSyncUnknownDataSource(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.TriggerSync(context.Background(), 99, models.SyncOptions{}); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTriggerSyncRejectsConcurrentRun(t *testing.T) {
	env := newTestEnv(t)
	lease, ok, err := env.svc.locker.Acquire(context.Background(), "datasource:1", time.Hour)
	if err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}
	defer lease.Release(context.Background())

	if _, err := env.svc.TriggerSync(context.Background(), 1, models.SyncOptions{}); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("err = %v, want ErrSyncInProgress", err)
	}
	if len(env.sources.history) != 0 {
		t.Error("no history row should be opened while locked")
	}
}

func TestTriggerSyncProgressCadence(t *testing.T) {
	env := newTestEnv(t)
	for i := 1; i <= 12; i++ {
		env.put(t, fmt.Sprintf("stats/ratings/ratings_com.example.app%d_202401.csv", i), "date,daily_average_rating\n2024-01-01,4.5\n")
	}

	if _, err := env.svc.TriggerSync(context.Background(), 1, models.SyncOptions{}); err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
	progress := env.sink.ofType(models.EventProcessingFiles)
	if len(progress) != 2 {
		t.Fatalf("processing events = %d, want 2 (10th and last file)", len(progress))
	}
	if progress[0].FilesDone != 10 || progress[1].FilesDone != 12 {
		t.Errorf("files done = %d, %d", progress[0].FilesDone, progress[1].FilesDone)
	}
	if progress[1].Progress != 95 {
		t.Errorf("last progress = %d, want 95", progress[1].Progress)
	}
	if len(env.sink.ofType(models.EventSyncStart)) != 1 || len(env.sink.ofType(models.EventSyncComplete)) != 1 {
		t.Error("expected exactly one sync_start and one sync_complete")
	}
}

func TestTriggerSyncCancelled(t *testing.T) {
	env := newTestEnv(t)
	env.put(t, "stats/installs/installs_com.example.app_202401.csv", installsCSV(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.svc.TriggerSync(ctx, 1, models.SyncOptions{})
	if err == nil {
		t.Fatal("expected error for cancelled run")
	}
	if h := env.sources.last(); h.status != models.StatusError || h.closed != 1 {
		t.Errorf("history = %+v", h)
	}
}

func TestTriggerSyncArchives(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		entries     map[string]string
		cancelLoad  bool
		wantErr     bool
		wantStatus  models.SyncStatus
		wantRecords int64
		wantErrored int
		wantFileErr string
	}{
		{
			name:        "sales zip loads",
			key:         "sales/salesreport_202401.zip",
			entries:     map[string]string{"salesreport_202401.csv": salesCSV},
			wantStatus:  models.StatusSuccess,
			wantRecords: 2,
		},
		{
			name:        "earnings zip without inner csv",
			key:         "earnings/earnings_202401.zip",
			entries:     map[string]string{"README.txt": "nothing here"},
			wantStatus:  models.StatusWarning,
			wantErrored: 1,
			wantFileErr: "no entry matches",
		},
		{
			name:       "cancelled during load",
			key:        "sales/salesreport_202401.zip",
			entries:    map[string]string{"salesreport_202401.csv": salesCSV},
			cancelLoad: true,
			wantErr:    true,
			wantStatus: models.StatusError,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.put(t, tc.key, zipOf(t, tc.entries))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tc.cancelLoad {
				env.loader.onInsert = cancel
			}

			result, err := env.svc.TriggerSync(ctx, 1, models.SyncOptions{})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if h := env.sources.last(); h.status != tc.wantStatus || h.closed != 1 {
				t.Errorf("history = %+v, want status %s", h, tc.wantStatus)
			}
			if left := env.scratchEntries(t); len(left) != 0 {
				t.Errorf("scratch not cleaned: %v", left)
			}
			if _, ok, _ := env.svc.locker.Acquire(context.Background(), "datasource:1", time.Minute); !ok {
				t.Error("run lock still held after the run")
			}
			if tc.wantErr {
				return
			}

			if result.RecordsInserted != tc.wantRecords || result.FilesErrored != tc.wantErrored {
				t.Errorf("records/errored = %d/%d, want %d/%d",
					result.RecordsInserted, result.FilesErrored, tc.wantRecords, tc.wantErrored)
			}
			if len(result.Results) != 1 {
				t.Fatalf("results = %+v", result.Results)
			}
			fr := result.Results[0]
			if tc.wantFileErr == "" {
				if fr.Outcome != models.OutcomeSuccess || fr.Table != models.TableSales || fr.RowsRead != 2 {
					t.Errorf("file result = %+v", fr)
				}
				return
			}
			if fr.Outcome != models.OutcomeError || !strings.Contains(fr.Error, tc.wantFileErr) {
				t.Errorf("file result = %+v, want error containing %q", fr, tc.wantFileErr)
			}
			ft, err := env.tracking.Get(context.Background(), 42, tc.key)
			if err != nil || ft.LastStatus != string(models.OutcomeError) || ft.LastProcessed != nil {
				t.Errorf("tracking = %+v, %v", ft, err)
			}
		})
	}
}

func TestStartSyncRunsInBackground(t *testing.T) {
	env := newTestEnv(t)
	env.put(t, "stats/installs/installs_com.example.app_202401.csv", installsCSV(2))

	runID, err := env.svc.StartSync(context.Background(), 1, models.SyncOptions{RunID: "run-fixed"})
	if err != nil {
		t.Fatalf("StartSync: %v", err)
	}
	if runID != "run-fixed" {
		t.Errorf("run id = %q", runID)
	}
	env.svc.Wait()
	if h := env.sources.last(); h.status != models.StatusSuccess || h.runID != "run-fixed" {
		t.Errorf("history = %+v", h)
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct{ done, total, want int }{
		{0, 10, 10}, {5, 10, 53}, {10, 10, 95}, {1, 3, 38},
	}
	for _, tc := range tests {
		if got := progressPercent(tc.done, tc.total); got != tc.want {
			t.Errorf("progressPercent(%d, %d) = %d, want %d", tc.done, tc.total, got, tc.want)
		}
	}
}
