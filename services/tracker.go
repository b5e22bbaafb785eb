// services/tracker.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gewnthar/playsync/database"
	"github.com/gewnthar/playsync/models"
)

// TrackingRepository persists the file tracking ledger.
type TrackingRepository interface {
	Get(ctx context.Context, tenantID int64, path string) (*models.FileTracking, error)
	Create(ctx context.Context, ft models.FileTracking) (*models.FileTracking, error)
	MarkSuccess(ctx context.Context, id int64, hash string, at time.Time) error
	MarkFailure(ctx context.Context, id int64, errMsg string, at time.Time) error
}

// TrackingDecision is the tracker's verdict for one file.
type TrackingDecision struct {
	Tracking *models.FileTracking
	Skip     bool
	Age      time.Duration // since last successful processing, zero if never
}

// FileTracker decides whether a discovered file needs processing and records
// the outcome afterwards.
type FileTracker struct {
	repo   TrackingRepository
	window time.Duration
	now    func() time.Time
}

func NewFileTracker(repo TrackingRepository, freshnessWindow time.Duration) *FileTracker {
	return &FileTracker{repo: repo, window: freshnessWindow, now: time.Now}
}

// Check looks up the file. An unseen file gets a marker row immediately so a
// crash mid-processing still leaves a trace. A file processed successfully
// within the freshness window is skipped unless force is set.
func (t *FileTracker) Check(ctx context.Context, desc models.FileDescriptor, force bool) (TrackingDecision, error) {
	ft, err := t.repo.Get(ctx, desc.TenantID, desc.OriginalPath)
	if errors.Is(err, database.ErrNotFound) {
		ft, err = t.repo.Create(ctx, models.FileTracking{
			TenantID:    desc.TenantID,
			FilePath:    desc.OriginalPath,
			ReportType:  desc.ReportType,
			TargetTable: desc.Table,
		})
		if err != nil {
			return TrackingDecision{}, fmt.Errorf("create tracking for %s: %w", desc.OriginalPath, err)
		}
		return TrackingDecision{Tracking: ft}, nil
	}
	if err != nil {
		return TrackingDecision{}, fmt.Errorf("load tracking for %s: %w", desc.OriginalPath, err)
	}

	d := TrackingDecision{Tracking: ft}
	if ft.LastProcessed != nil {
		d.Age = t.now().Sub(*ft.LastProcessed)
		d.Skip = !force && t.window > 0 && d.Age < t.window
	}
	return d, nil
}

// Complete records the outcome of a processed file. Failures leave the last
// successful state intact so the next run retries the file.
func (t *FileTracker) Complete(ctx context.Context, d TrackingDecision, hash string, procErr error) error {
	if d.Tracking == nil {
		return nil
	}
	at := t.now().UTC()
	if procErr != nil {
		return t.repo.MarkFailure(ctx, d.Tracking.ID, procErr.Error(), at)
	}
	return t.repo.MarkSuccess(ctx, d.Tracking.ID, hash, at)
}
