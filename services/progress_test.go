package services

import (
	"context"
	"testing"

	"github.com/gewnthar/playsync/models"
)

func TestBrokerRoutesByDataSource(t *testing.T) {
	b := NewBroker()
	one := b.Subscribe(1)
	two := b.Subscribe(2)

	b.Publish(context.Background(), models.ProgressEvent{Type: models.EventSyncStart, DataSourceID: 1})

	select {
	case ev := <-one:
		if ev.Type != models.EventSyncStart {
			t.Errorf("type = %s", ev.Type)
		}
	default:
		t.Fatal("subscriber of data source 1 got nothing")
	}
	select {
	case ev := <-two:
		t.Fatalf("data source 2 received %+v", ev)
	default:
	}

	b.Unsubscribe(1, one)
	if _, open := <-one; open {
		t.Error("channel not closed on unsubscribe")
	}
	b.Unsubscribe(1, one)
	if b.Subscribers(1) != 0 || b.Subscribers(2) != 1 {
		t.Errorf("subscribers = %d, %d", b.Subscribers(1), b.Subscribers(2))
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(1)
	for i := 0; i < b.bufferSize+5; i++ {
		b.Publish(context.Background(), models.ProgressEvent{DataSourceID: 1, Progress: i})
	}
	if len(ch) != b.bufferSize {
		t.Errorf("buffered = %d, want %d", len(ch), b.bufferSize)
	}
}

func TestMultiSink(t *testing.T) {
	a, c := &recordingSink{}, &recordingSink{}
	MultiSink{a, c}.Publish(context.Background(), models.ProgressEvent{Type: models.EventSyncComplete})
	if len(a.ofType(models.EventSyncComplete)) != 1 || len(c.ofType(models.EventSyncComplete)) != 1 {
		t.Error("event not fanned out to every sink")
	}
}
