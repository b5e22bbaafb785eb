// services/progress.go
package services

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/gewnthar/playsync/models"
)

// ProgressSink receives push notifications about running syncs. Publish must
// not block the pipeline.
type ProgressSink interface {
	Publish(ctx context.Context, event models.ProgressEvent)
}

// LogSink writes progress events to the log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.With(zap.String("component", "progress"))}
}

func (s *LogSink) Publish(_ context.Context, ev models.ProgressEvent) {
	s.logger.Info(ev.Type,
		zap.String("run_id", ev.RunID),
		zap.Int64("data_source_id", ev.DataSourceID),
		zap.Int("progress", ev.Progress),
		zap.Int("processed", ev.FilesProcessed),
		zap.Int("skipped", ev.FilesSkipped),
		zap.Int("errored", ev.FilesErrored),
		zap.Int64("records", ev.RecordsInserted),
		zap.String("message", ev.Message),
	)
}

// MultiSink fans one event out to several sinks.
type MultiSink []ProgressSink

func (m MultiSink) Publish(ctx context.Context, ev models.ProgressEvent) {
	for _, s := range m {
		s.Publish(ctx, ev)
	}
}

// Broker fans progress events out to subscribers of a data source, such as
// open Server-Sent Events streams. Slow subscribers miss events rather than
// stall the sync.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]map[chan models.ProgressEvent]struct{}
	bufferSize  int
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]map[chan models.ProgressEvent]struct{}),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for one data source.
func (b *Broker) Subscribe(dataSourceID int64) chan models.ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.ProgressEvent, b.bufferSize)
	if b.subscribers[dataSourceID] == nil {
		b.subscribers[dataSourceID] = make(map[chan models.ProgressEvent]struct{})
	}
	b.subscribers[dataSourceID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a listener.
func (b *Broker) Unsubscribe(dataSourceID int64, ch chan models.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[dataSourceID]; ok {
		if _, present := subs[ch]; !present {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(b.subscribers, dataSourceID)
		}
	}
}

func (b *Broker) Publish(_ context.Context, ev models.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[ev.DataSourceID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports how many listeners a data source has.
func (b *Broker) Subscribers(dataSourceID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[dataSourceID])
}
