// services/pipeline.go
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gewnthar/playsync/models"
	"github.com/gewnthar/playsync/storage"
)

// ReasonRecentlyProcessed is the skip reason for files inside the freshness window.
const ReasonRecentlyProcessed = "recently processed"

// runState aggregates per-file outcomes of one run and emits progress.
type runState struct {
	mu     sync.Mutex
	result *models.SyncResult
	done   int
	every  int
	sink   ProgressSink
	m      *Metrics
}

func newRunState(result *models.SyncResult, every int, sink ProgressSink, m *Metrics) *runState {
	if every <= 0 {
		every = 10
	}
	return &runState{result: result, every: every, sink: sink, m: m}
}

// record tallies one finished file. Progress goes out every N files and on
// the last one.
func (r *runState) record(ctx context.Context, fr models.FileResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.result
	switch fr.Outcome {
	case models.OutcomeSuccess:
		res.FilesProcessed++
	case models.OutcomeSkipped:
		res.FilesSkipped++
		if res.SkipReasons == nil {
			res.SkipReasons = make(map[string]int)
		}
		res.SkipReasons[fr.Reason]++
	case models.OutcomeError:
		res.FilesErrored++
	}
	res.RecordsInserted += int64(fr.RowsInserted)
	res.Results = append(res.Results, fr)
	r.m.files.WithLabelValues(string(fr.Outcome)).Inc()

	r.done++
	if r.done%r.every == 0 || r.done == res.TotalFiles {
		r.sink.Publish(ctx, models.ProgressEvent{
			Type:            models.EventProcessingFiles,
			RunID:           res.RunID,
			DataSourceID:    res.DataSourceID,
			Progress:        progressPercent(r.done, res.TotalFiles),
			TotalFiles:      res.TotalFiles,
			FilesDone:       r.done,
			FilesProcessed:  res.FilesProcessed,
			FilesSkipped:    res.FilesSkipped,
			FilesErrored:    res.FilesErrored,
			RecordsInserted: res.RecordsInserted,
			CurrentFile:     fr.Path,
			Timestamp:       time.Now().UTC(),
		})
	}
}

// progressPercent maps file progress onto 10..95; listing owns the first 10%.
func progressPercent(done, total int) int {
	if total <= 0 {
		return 95
	}
	return int(math.Round(10 + float64(done)/float64(total)*85))
}

type loadRequest struct {
	ctx   context.Context
	table string
	rows  []models.DestinationRow
	reply chan loadReply
}

type loadReply struct {
	n   int
	err error
}

// runWriter is the single consumer of load requests for a run, so the
// destination database sees one writer per run however many files are
// being read concurrently.
func (s *SyncService) runWriter(requests <-chan loadRequest) {
	for req := range requests {
		start := time.Now()
		n, err := s.loader.InsertIgnore(req.ctx, req.table, req.rows)
		s.metrics.batchDuration.WithLabelValues(req.table).Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.batchFailures.WithLabelValues(req.table).Inc()
		} else {
			s.metrics.rowsLoaded.WithLabelValues(req.table).Add(float64(n))
		}
		req.reply <- loadReply{n: n, err: err}
	}
}

func sendLoad(ctx context.Context, requests chan<- loadRequest, table string, rows []models.DestinationRow) (int, error) {
	reply := make(chan loadReply, 1)
	select {
	case requests <- loadRequest{ctx: ctx, table: table, rows: rows, reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.n, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// processFile runs one routed file through tracking, download, extraction,
// parsing, transformation and loading. Every failure stays inside the file's
// FileResult.
func (s *SyncService) processFile(ctx context.Context, run *syncRun, state *runState, desc models.FileDescriptor, requests chan<- loadRequest) {
	log := s.logger.With(zap.String("run_id", run.id), zap.String("file", desc.OriginalPath))
	fr := models.FileResult{Path: desc.OriginalPath, ReportType: desc.ReportType, Table: desc.Table}

	decision, err := s.tracker.Check(ctx, desc, run.opts.Force)
	if err != nil {
		fr.Outcome, fr.Error = models.OutcomeError, err.Error()
		log.Error("file tracking lookup failed", zap.Error(err))
		state.record(ctx, fr)
		return
	}
	if decision.Skip {
		fr.Outcome, fr.Reason = models.OutcomeSkipped, ReasonRecentlyProcessed
		log.Debug("skipping recently processed file", zap.Duration("age", decision.Age))
		state.record(ctx, fr)
		return
	}

	hash, read, inserted, err := s.loadFile(ctx, run, desc, requests, log)
	fr.RowsRead, fr.RowsInserted = read, inserted

	// Bookkeeping must survive cancellation of the run.
	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if cerr := s.tracker.Complete(bookCtx, decision, hash, err); cerr != nil {
		log.Error("failed to update file tracking", zap.Error(cerr))
	}

	if err != nil {
		fr.Outcome, fr.Error = models.OutcomeError, err.Error()
		log.Warn("file failed", zap.Error(err), zap.Int("rows_inserted", inserted))
	} else {
		fr.Outcome = models.OutcomeSuccess
		log.Info("file processed", zap.Int("rows_read", read), zap.Int("rows_inserted", inserted))
	}
	state.record(ctx, fr)
}

func (s *SyncService) loadFile(ctx context.Context, run *syncRun, desc models.FileDescriptor, requests chan<- loadRequest, log *zap.Logger) (hash string, read, inserted int, err error) {
	dir, err := os.MkdirTemp(s.cfg.ScratchDir, "file-*")
	if err != nil {
		return "", 0, 0, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if rerr := os.RemoveAll(dir); rerr != nil {
			log.Warn("failed to remove scratch dir", zap.String("dir", dir), zap.Error(rerr))
		}
	}()

	local := filepath.Join(dir, path.Base(desc.OriginalPath))
	if _, err := s.storage.Download(ctx, run.uri, desc.OriginalPath, local); err != nil {
		return "", 0, 0, err
	}
	if hash, err = hashFile(local); err != nil {
		return "", 0, 0, err
	}

	csvPath := local
	if desc.Kind == models.KindZip {
		inner, cleanup, err := s.extractor.Extract(ctx, local, desc.InnerPattern)
		if err != nil {
			return hash, 0, 0, err
		}
		defer cleanup()
		csvPath = inner
	}

	var batchErr error
	read, err = s.reader.ReadBatches(ctx, csvPath, s.cfg.BatchSize, func(ctx context.Context, batch []models.Row, n int) error {
		rows := make([]models.DestinationRow, 0, len(batch))
		for _, raw := range batch {
			if row := s.transformer.Transform(raw, desc); row != nil {
				rows = append(rows, row)
			}
		}
		got, err := sendLoad(ctx, requests, desc.Table, rows)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("batch dropped", zap.Int("batch", n), zap.Int("rows", len(rows)), zap.Error(err))
			if batchErr == nil {
				batchErr = err
			}
			return nil
		}
		inserted += got
		return nil
	})
	if err != nil {
		return hash, read, inserted, err
	}
	return hash, read, inserted, batchErr
}

func hashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// isBucketError reports whether err means the bucket itself is unusable.
func isBucketError(err error) bool {
	var accessErr *storage.BucketAccessError
	return errors.As(err, &accessErr)
}
