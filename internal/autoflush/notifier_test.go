package autoflush

import "testing"

func TestNotifier_WakeReachesAllSubscribers(t *testing.T) {
	n := NewNotifier()
	a := n.Subscribe()
	b := n.Subscribe()

	n.Wake()

	for name, ch := range map[string]<-chan struct{}{"a": a, "b": b} {
		select {
		case <-ch:
		default:
			t.Errorf("subscriber %s missed the wake", name)
		}
	}
}

func TestNotifier_WakesCoalesce(t *testing.T) {
	n := NewNotifier()
	ch := n.Subscribe()

	// Burst of wakes must never block the sender.
	for i := 0; i < 10; i++ {
		n.Wake()
	}

	<-ch
	select {
	case <-ch:
		t.Error("expected burst to coalesce into one pending signal")
	default:
	}
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := NewNotifier()
	ch := n.Subscribe()
	n.Unsubscribe(ch)

	n.Wake()

	select {
	case <-ch:
		t.Error("unsubscribed channel must not receive wakes")
	default:
	}
}
