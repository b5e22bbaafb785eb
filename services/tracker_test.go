package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gewnthar/playsync/models"
)

func TestFileTrackerCheck(t *testing.T) {
	repo := newFakeTracking()
	tracker := NewFileTracker(repo, 24*time.Hour)
	base := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return base }

	desc := models.FileDescriptor{TenantID: 7, OriginalPath: "stats/installs/installs_a_202401.csv", ReportType: "installs", Table: models.TableInstallsOverview}

	d, err := tracker.Check(context.Background(), desc, false)
	if err != nil {
		t.Fatalf("Check on unseen file: %v", err)
	}
	if d.Skip || d.Tracking == nil || d.Tracking.ID == 0 {
		t.Fatalf("unseen file decision = %+v", d)
	}
	if d.Tracking.TargetTable != models.TableInstallsOverview {
		t.Errorf("marker row target table = %q", d.Tracking.TargetTable)
	}

	if err := tracker.Complete(context.Background(), d, "abc", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	tests := []struct {
		name     string
		after    time.Duration
		force    bool
		wantSkip bool
	}{
		{"inside window", time.Hour, false, true},
		{"inside window forced", time.Hour, true, false},
		{"past window", 25 * time.Hour, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tracker.now = func() time.Time { return base.Add(tc.after) }
			d, err := tracker.Check(context.Background(), desc, tc.force)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if d.Skip != tc.wantSkip {
				t.Errorf("skip = %v, want %v", d.Skip, tc.wantSkip)
			}
			if d.Age != tc.after {
				t.Errorf("age = %v, want %v", d.Age, tc.after)
			}
		})
	}
}

func TestFileTrackerFailureKeepsLastSuccess(t *testing.T) {
	repo := newFakeTracking()
	tracker := NewFileTracker(repo, time.Hour)
	first := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return first }
	desc := models.FileDescriptor{TenantID: 1, OriginalPath: "reviews/reviews_a_202401.csv"}

	d, _ := tracker.Check(context.Background(), desc, false)
	if err := tracker.Complete(context.Background(), d, "h1", nil); err != nil {
		t.Fatal(err)
	}

	tracker.now = func() time.Time { return first.Add(2 * time.Hour) }
	d, _ = tracker.Check(context.Background(), desc, false)
	if err := tracker.Complete(context.Background(), d, "h2", errors.New("boom")); err != nil {
		t.Fatal(err)
	}

	ft, err := repo.Get(context.Background(), 1, desc.OriginalPath)
	if err != nil {
		t.Fatal(err)
	}
	if ft.FileHash != "h1" || !ft.LastProcessed.Equal(first) || !ft.FirstProcessed.Equal(first) {
		t.Errorf("success state changed by failure: %+v", ft)
	}
	if ft.LastStatus != "error" || ft.LastError != "boom" {
		t.Errorf("failure not recorded: %+v", ft)
	}
}

func TestFileTrackerZeroWindowNeverSkips(t *testing.T) {
	repo := newFakeTracking()
	tracker := NewFileTracker(repo, 0)
	desc := models.FileDescriptor{TenantID: 1, OriginalPath: "x.csv"}
	d, _ := tracker.Check(context.Background(), desc, false)
	_ = tracker.Complete(context.Background(), d, "h", nil)

	d, err := tracker.Check(context.Background(), desc, false)
	if err != nil {
		t.Fatal(err)
	}
	if d.Skip {
		t.Error("zero window must not skip")
	}
}
