package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/playperu/quizarena/internal/engine"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBrokerDeliversToSessionSubscribers(t *testing.T) {
	b := NewBroker(discardLogger())
	a1 := b.Subscribe("s1")
	a2 := b.Subscribe("s1")
	other := b.Subscribe("s2")

	b.Publish(context.Background(), engine.Event{
		Type:      engine.EventBuzzPressed,
		SessionID: "s1",
		Payload:   engine.BuzzPressed{TeamID: "t1", QuestionID: "q1", IsFirst: true, Seq: 1},
	})

	for i, ch := range []chan []byte{a1, a2} {
		select {
		case data := <-ch:
			var got struct {
				Type      string             `json:"type"`
				SessionID string             `json:"sessionId"`
				Payload   engine.BuzzPressed `json:"payload"`
			}
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("subscriber %d: decode: %v", i, err)
			}
			if got.Type != "buzz.pressed" || got.SessionID != "s1" || !got.Payload.IsFirst {
				t.Errorf("subscriber %d: event = %+v", i, got)
			}
		default:
			t.Errorf("subscriber %d: no event", i)
		}
	}
	select {
	case data := <-other:
		t.Errorf("other session received %s", data)
	default:
	}
}

func TestBrokerKeepsOrder(t *testing.T) {
	b := NewBroker(discardLogger())
	ch := b.Subscribe("s1")

	for _, msg := range []string{"1", "2", "3"} {
		b.Send("s1", []byte(msg))
	}
	for _, want := range []string{"1", "2", "3"} {
		if got := string(<-ch); got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker(discardLogger())
	slow := b.Subscribe("s1")

	for range subscriberBuffer + 10 {
		b.Send("s1", []byte("x"))
	}
	if len(slow) != subscriberBuffer {
		t.Fatalf("buffered = %d, want %d", len(slow), subscriberBuffer)
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker(discardLogger())
	ch := b.Subscribe("s1")
	keep := b.Subscribe("s1")
	if n := b.Subscribers("s1"); n != 2 {
		t.Fatalf("subscribers = %d, want 2", n)
	}

	b.Unsubscribe("s1", ch)
	b.Send("s1", []byte("x"))
	if len(ch) != 0 {
		t.Error("unsubscribed channel still receives")
	}
	if len(keep) != 1 {
		t.Error("remaining subscriber missed the event")
	}

	b.Unsubscribe("s1", keep)
	if n := b.Subscribers("s1"); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
	if _, ok := b.subs["s1"]; ok {
		t.Error("empty session entry left behind")
	}
}

func TestBrokerConcurrentUse(t *testing.T) {
	b := NewBroker(discardLogger())
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch := b.Subscribe("s1")
			b.Unsubscribe("s1", ch)
		}()
		go func() {
			defer wg.Done()
			b.Send("s1", []byte("x"))
		}()
	}
	wg.Wait()
	if n := b.Subscribers("s1"); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
}

func TestRedisPublishQueue(t *testing.T) {
	r := NewRedis(nil, discardLogger())
	for range queueSize + 5 {
		r.Publish(context.Background(), engine.Event{Type: engine.EventBuzzerUnlocked, SessionID: "s1"})
	}
	if len(r.queue) != queueSize {
		t.Fatalf("queued = %d, want %d", len(r.queue), queueSize)
	}
	m := <-r.queue
	if m.channel != "quizarena:session:s1" {
		t.Errorf("channel = %s", m.channel)
	}
}
