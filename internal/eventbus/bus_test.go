package eventbus

import "testing"

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TimerRecorded, Data: "x"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TimerRecorded || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
		default:
			t.Fatal("subscriber missed event")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	if e := <-ch; e.Type != "a" {
		t.Fatalf("got %q, want first event", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("expected drop, got %+v", e)
	default:
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
}
