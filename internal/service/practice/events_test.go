package practice

import (
	"testing"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
	"github.com/zhouzirui/z-speak/backend/internal/recorder"
)

func snapshotEvent(duration int) Event {
	return Event{Type: "snapshot", Snapshot: &recorder.Snapshot{State: practice.StateRecording, Duration: duration}}
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSlowSubscriberStillGetsResults(t *testing.T) {
	b := newBroadcaster()
	ch, unsubscribe := b.subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+8; i++ {
		b.publish(snapshotEvent(i))
	}
	tr := practice.TranscriptionResult{Success: true, Transcript: "hello"}
	b.publish(Event{Type: "transcription", Transcription: &tr})
	a := practice.AnswerAnalysis{OverallScore: 80}
	b.publish(Event{Type: "analysis", Analysis: &a})

	events := drain(ch)
	if len(events) != subscriberBuffer {
		t.Fatalf("expected a full buffer of %d events, got %d", subscriberBuffer, len(events))
	}
	tail := events[len(events)-2:]
	if tail[0].Type != "transcription" || tail[1].Type != "analysis" {
		t.Fatalf("expected results last and in order, got %s then %s", tail[0].Type, tail[1].Type)
	}
	if tail[1].Analysis.OverallScore != 80 {
		t.Fatalf("unexpected analysis payload: %+v", tail[1].Analysis)
	}

	// 保留下来的快照仍按发布顺序排列
	last := -1
	for _, ev := range events[:len(events)-2] {
		if ev.Type != "snapshot" {
			t.Fatalf("unexpected %s event among snapshots", ev.Type)
		}
		if ev.Snapshot.Duration <= last {
			t.Fatalf("snapshots out of order: %d after %d", ev.Snapshot.Duration, last)
		}
		last = ev.Snapshot.Duration
	}
}

func TestFullBufferDropsNewSnapshotBehindResults(t *testing.T) {
	b := newBroadcaster()
	ch, unsubscribe := b.subscribe()
	defer unsubscribe()

	a := practice.AnswerAnalysis{OverallScore: 60}
	for i := 0; i < subscriberBuffer; i++ {
		b.publish(Event{Type: "analysis", Analysis: &a})
	}
	b.publish(snapshotEvent(1))

	events := drain(ch)
	if len(events) != subscriberBuffer {
		t.Fatalf("expected %d events, got %d", subscriberBuffer, len(events))
	}
	for _, ev := range events {
		if ev.Type != "analysis" {
			t.Fatalf("snapshot should not evict results, got %s", ev.Type)
		}
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	b := newBroadcaster()
	ch, unsubscribe := b.subscribe()
	b.publish(snapshotEvent(1))
	b.close()
	unsubscribe()

	if ev, ok := <-ch; !ok || ev.Type != "snapshot" {
		t.Fatalf("expected queued snapshot before close, got %+v ok=%v", ev, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed")
	}

	late, _ := b.subscribe()
	if _, ok := <-late; ok {
		t.Fatal("subscribe after close should return a closed channel")
	}
}
