// services/sync_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gewnthar/playsync/config"
	"github.com/gewnthar/playsync/ingest"
	"github.com/gewnthar/playsync/models"
	"github.com/gewnthar/playsync/storage"
)

// DataSourceRepository persists data sources and sync history.
type DataSourceRepository interface {
	GetDataSource(ctx context.Context, id int64) (*models.DataSource, error)
	UpdateStatus(ctx context.Context, id int64, status models.SyncStatus, lastSyncAt *time.Time) error
	OpenHistory(ctx context.Context, dataSourceID int64, runID string, startedAt time.Time) (int64, error)
	CloseHistory(ctx context.Context, historyID int64, status models.SyncStatus, message string, totals models.SyncTotals, endedAt time.Time) error
}

// Loader writes transformed rows with insert-ignore semantics: rows that
// collide with a destination's natural key are discarded, and the returned
// count is rows attempted.
type Loader interface {
	InsertIgnore(ctx context.Context, table string, rows []models.DestinationRow) (int, error)
}

// Deps are the collaborators of a SyncService.
type Deps struct {
	Sources     DataSourceRepository
	Tracking    TrackingRepository
	Storage     storage.Client
	Loader      Loader
	Locker      Locker
	Progress    ProgressSink
	Metrics     *Metrics
	Router      *ingest.Router
	Extractor   *ingest.Extractor
	Reader      *ingest.CSVReader
	Transformer *ingest.Transformer
	Config      config.SyncConfig
	Logger      *zap.Logger
	// Background is the parent context of runs started with StartSync.
	Background context.Context
}

// SyncService orchestrates sync runs of data sources.
type SyncService struct {
	sources     DataSourceRepository
	tracker     *FileTracker
	storage     storage.Client
	loader      Loader
	locker      Locker
	progress    ProgressSink
	metrics     *Metrics
	router      *ingest.Router
	extractor   *ingest.Extractor
	reader      *ingest.CSVReader
	transformer *ingest.Transformer
	cfg         config.SyncConfig
	logger      *zap.Logger
	background  context.Context
	wg          sync.WaitGroup
	now         func() time.Time
}

func NewSyncService(d Deps) *SyncService {
	if d.Background == nil {
		d.Background = context.Background()
	}
	if d.Locker == nil {
		d.Locker = NewMemoryLocker()
	}
	if d.Progress == nil {
		d.Progress = NewLogSink(d.Logger)
	}
	if d.Config.Workers <= 0 {
		d.Config.Workers = 1
	}
	return &SyncService{
		sources:     d.Sources,
		tracker:     NewFileTracker(d.Tracking, d.Config.FreshnessWindow),
		storage:     d.Storage,
		loader:      d.Loader,
		locker:      d.Locker,
		progress:    d.Progress,
		metrics:     d.Metrics,
		router:      d.Router,
		extractor:   d.Extractor,
		reader:      d.Reader,
		transformer: d.Transformer,
		cfg:         d.Config,
		logger:      d.Logger.With(zap.String("component", "sync")),
		background:  d.Background,
		now:         time.Now,
	}
}

// syncRun is one run between lock acquisition and history close.
type syncRun struct {
	id        string
	ds        *models.DataSource
	uri       storage.BucketURI
	historyID int64
	started   time.Time
	opts      models.SyncOptions
	lease     Lease
	log       *zap.Logger
}

// TriggerSync runs one sync of the data source and returns its summary. Only
// run-wide failures are returned as errors: an unknown data source, a held
// run lock (ErrSyncInProgress), an unreachable bucket, or cancellation.
func (s *SyncService) TriggerSync(ctx context.Context, dataSourceID int64, opts models.SyncOptions) (*models.SyncResult, error) {
	run, err := s.begin(ctx, dataSourceID, opts)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, run)
}

// StartSync acquires the run lock and opens the history row, then continues
// the run in the background. It returns the run id.
func (s *SyncService) StartSync(ctx context.Context, dataSourceID int64, opts models.SyncOptions) (string, error) {
	run, err := s.begin(ctx, dataSourceID, opts)
	if err != nil {
		return "", err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.execute(s.background, run); err != nil {
			run.log.Warn("background sync ended with error", zap.Error(err))
		}
	}()
	return run.id, nil
}

// Wait blocks until background runs have finished.
func (s *SyncService) Wait() {
	s.wg.Wait()
}

func (s *SyncService) begin(ctx context.Context, dataSourceID int64, opts models.SyncOptions) (*syncRun, error) {
	ds, err := s.sources.GetDataSource(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}

	lease, ok, err := s.locker.Acquire(ctx, fmt.Sprintf("datasource:%d", ds.ID), s.cfg.RunLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSyncInProgress
	}

	run := &syncRun{
		id:      opts.RunID,
		ds:      ds,
		started: s.now().UTC(),
		opts:    opts,
		lease:   lease,
	}
	if run.id == "" {
		run.id = uuid.NewString()
	}
	run.log = s.logger.With(zap.String("run_id", run.id), zap.Int64("data_source_id", ds.ID), zap.Int64("tenant_id", ds.TenantID))

	if err := s.sources.UpdateStatus(ctx, ds.ID, models.StatusRunning, &run.started); err != nil {
		s.releaseLock(run)
		return nil, err
	}
	if run.historyID, err = s.sources.OpenHistory(ctx, ds.ID, run.id, run.started); err != nil {
		s.releaseLock(run)
		return nil, err
	}
	return run, nil
}

func (s *SyncService) releaseLock(run *syncRun) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := run.lease.Release(ctx); err != nil {
		run.log.Warn("failed to release run lock", zap.Error(err))
	}
}

func (s *SyncService) event(run *syncRun, typ string, progress int, message string) models.ProgressEvent {
	return models.ProgressEvent{
		Type:         typ,
		RunID:        run.id,
		DataSourceID: run.ds.ID,
		Progress:     progress,
		Message:      message,
		Timestamp:    s.now().UTC(),
	}
}

func (s *SyncService) execute(ctx context.Context, run *syncRun) (*models.SyncResult, error) {
	defer s.releaseLock(run)
	stopRenew := keepAlive(context.WithoutCancel(ctx), run.lease, s.cfg.RunLockTTL, run.log)
	defer stopRenew()
	s.metrics.runsInFlight.Inc()
	defer s.metrics.runsInFlight.Dec()

	result := &models.SyncResult{RunID: run.id, DataSourceID: run.ds.ID}
	run.log.Info("sync started", zap.String("bucket", run.ds.BucketURI), zap.Bool("force", run.opts.Force))
	s.progress.Publish(ctx, s.event(run, models.EventSyncStart, 0, "sync started"))

	uri, err := storage.ParseBucketURI(run.ds.BucketURI)
	if err != nil {
		return nil, s.abort(ctx, run, result, &storage.BucketAccessError{URI: run.ds.BucketURI, Err: err})
	}
	run.uri = uri

	s.progress.Publish(ctx, s.event(run, models.EventListingFiles, 5, "listing bucket"))
	objects, err := s.storage.List(ctx, uri)
	if err != nil {
		if !isBucketError(err) && ctx.Err() == nil {
			err = &storage.BucketAccessError{URI: uri.String(), Err: err}
		}
		return nil, s.abort(ctx, run, result, err)
	}

	result.TotalFiles = len(objects)
	if len(objects) == 0 {
		return s.finish(ctx, run, result, "no files to process")
	}

	state := newRunState(result, s.cfg.ProgressEvery, s.progress, s.metrics)
	var routed []models.FileDescriptor
	for _, obj := range objects {
		desc, err := s.router.Classify(obj.Key)
		if err != nil {
			var miss *ingest.ClassificationMiss
			reason := err.Error()
			if errors.As(err, &miss) {
				reason = miss.Reason
			}
			state.record(ctx, models.FileResult{Path: obj.Key, Outcome: models.OutcomeSkipped, Reason: reason})
			continue
		}
		desc.TenantID = run.ds.TenantID
		desc.DataSourceID = run.ds.ID
		desc.BucketURI = run.ds.BucketURI
		routed = append(routed, desc)
	}
	run.log.Info("bucket listed", zap.Int("files", len(objects)), zap.Int("routed", len(routed)))

	requests := make(chan loadRequest)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.runWriter(requests)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, desc := range routed {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.processFile(gctx, run, state, desc, requests)
			return nil
		})
	}
	g.Wait()
	close(requests)
	<-writerDone

	if err := ctx.Err(); err != nil {
		return nil, s.abort(ctx, run, result, fmt.Errorf("sync cancelled: %w", err))
	}
	return s.finish(ctx, run, result, "")
}

// finish closes a run that got past listing.
func (s *SyncService) finish(ctx context.Context, run *syncRun, result *models.SyncResult, message string) (*models.SyncResult, error) {
	status := models.StatusSuccess
	if result.FilesErrored > 0 && result.FilesProcessed == 0 {
		status = models.StatusWarning
	}
	result.Status = status
	result.DurationSeconds = s.now().Sub(run.started).Seconds()
	if attempted := result.FilesProcessed + result.FilesErrored; attempted > 0 {
		result.SuccessRate = percent(result.FilesProcessed, attempted)
	} else {
		result.SuccessRate = 100
	}
	if message == "" {
		message = fmt.Sprintf("%d files processed, %d skipped, %d errored, %d records inserted in %.1fs",
			result.FilesProcessed, result.FilesSkipped, result.FilesErrored, result.RecordsInserted, result.DurationSeconds)
	}

	s.close(ctx, run, result, status, message)
	ev := s.event(run, models.EventSyncComplete, 100, message)
	ev.TotalFiles = result.TotalFiles
	ev.FilesDone = result.TotalFiles
	ev.FilesProcessed = result.FilesProcessed
	ev.FilesSkipped = result.FilesSkipped
	ev.FilesErrored = result.FilesErrored
	ev.RecordsInserted = result.RecordsInserted
	s.progress.Publish(ctx, ev)

	run.log.Info("sync finished", zap.String("status", string(status)), zap.String("summary", message))
	return result, nil
}

// abort closes a run that failed as a whole.
func (s *SyncService) abort(ctx context.Context, run *syncRun, result *models.SyncResult, cause error) error {
	result.Status = models.StatusError
	result.DurationSeconds = s.now().Sub(run.started).Seconds()
	s.close(ctx, run, result, models.StatusError, cause.Error())
	s.progress.Publish(ctx, s.event(run, models.EventSyncError, 100, cause.Error()))
	run.log.Error("sync failed", zap.Error(cause))
	return cause
}

func (s *SyncService) close(ctx context.Context, run *syncRun, result *models.SyncResult, status models.SyncStatus, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	ended := s.now().UTC()
	totals := models.SyncTotals{
		RecordsProcessed: result.RecordsInserted,
		FilesProcessed:   result.FilesProcessed,
		FilesSkipped:     result.FilesSkipped,
		FilesErrored:     result.FilesErrored,
	}
	if err := s.sources.CloseHistory(ctx, run.historyID, status, message, totals, ended); err != nil {
		run.log.Error("failed to close sync history", zap.Error(err))
	}
	if err := s.sources.UpdateStatus(ctx, run.ds.ID, status, nil); err != nil {
		run.log.Error("failed to update data source status", zap.Error(err))
	}
	s.metrics.runDuration.WithLabelValues(string(status)).Observe(result.DurationSeconds)
}

func percent(part, whole int) float64 {
	return float64(part) / float64(whole) * 100
}
