package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishDelivers(t *testing.T) {
	b := NewWithConfig(2, 16)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	var mu sync.Mutex
	var got []string

	wg.Add(2)
	b.Subscribe(EventTypeSessionOpened, func(e Event) {
		mu.Lock()
		got = append(got, e.Data["session"].(string))
		mu.Unlock()
		wg.Done()
	})

	b.Publish(Event{Type: EventTypeSessionOpened, Data: map[string]interface{}{"session": "a"}})
	b.Publish(Event{Type: EventTypeSessionOpened, Data: map[string]interface{}{"session": "b"}})
	// no subscriber, dropped silently
	b.Publish(Event{Type: EventTypeAutoOff})

	waitGroup(t, &wg)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Errorf("delivered %d events, want 2", len(got))
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := NewWithConfig(1, 1)
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	b.Subscribe(EventTypeSyncState, func(e Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
	})

	b.Publish(Event{Type: EventTypeSyncState})
	<-started

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: EventTypeSyncState})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	close(block)
	b.Close(context.Background())
}

func TestPublishAfterClose(t *testing.T) {
	b := NewWithConfig(1, 4)
	b.Subscribe(EventTypeReconfigured, func(Event) {})
	b.Close(context.Background())
	b.Close(context.Background())

	// must not panic
	b.Publish(Event{Type: EventTypeReconfigured})
}

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Type: EventTypeSessionClosed})
}

func TestHandlerPanicRecovered(t *testing.T) {
	b := NewWithConfig(1, 4)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe(EventTypeAutoOff, func(Event) { panic("boom") })
	b.Subscribe(EventTypeAutoOff, func(Event) { wg.Done() })

	b.Publish(Event{Type: EventTypeAutoOff})
	waitGroup(t, &wg)
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}
