package progress

import (
	"sync"
	"testing"
)

func TestSinkPublishInvokesCallback(t *testing.T) {
	sink := NewSink()

	var gotProgress float64
	var gotStep string
	sink.Register("s1", func(progress float64, step string) {
		gotProgress = progress
		gotStep = step
	})

	sink.Publish("s1", 40.0, "第一轮意见收集")
	if gotProgress != 40.0 || gotStep != "第一轮意见收集" {
		t.Fatalf("unexpected callback values: %v %q", gotProgress, gotStep)
	}
}

func TestSinkRegisterReplaces(t *testing.T) {
	sink := NewSink()

	first := 0
	second := 0
	sink.Register("s1", func(float64, string) { first++ })
	sink.Register("s1", func(float64, string) { second++ })

	sink.Publish("s1", 10, "step")
	if first != 0 || second != 1 {
		t.Fatalf("expected replacement callback only: first=%d second=%d", first, second)
	}
}

func TestSinkPublishUnknownSessionIsNoop(t *testing.T) {
	sink := NewSink()
	// 未注册时不应 panic
	sink.Publish("missing", 50, "step")
}

func TestSinkUnregisterIsIdempotent(t *testing.T) {
	sink := NewSink()
	called := false
	sink.Register("s1", func(float64, string) { called = true })

	sink.Unregister("s1")
	sink.Unregister("s1")
	sink.Publish("s1", 10, "step")
	if called {
		t.Fatalf("expected callback to be removed")
	}
	if sink.Len() != 0 {
		t.Fatalf("expected empty sink, got %d", sink.Len())
	}
}

func TestSinkRecoversCallbackPanic(t *testing.T) {
	sink := NewSink()
	sink.Register("s1", func(float64, string) {
		panic("callback boom")
	})

	// panic 应被捕获，不向流水线传播
	sink.Publish("s1", 10, "step")
}

func TestSinkConcurrentSessions(t *testing.T) {
	sink := NewSink()

	var mu sync.Mutex
	counts := make(map[string]int)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		id := id
		sink.Register(id, func(float64, string) {
			mu.Lock()
			counts[id]++
			mu.Unlock()
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				sink.Publish(id, float64(i), "step")
			}
		}()
	}
	wg.Wait()

	for _, id := range []string{"a", "b", "c", "d"} {
		if counts[id] != 100 {
			t.Fatalf("expected 100 publishes for %s, got %d", id, counts[id])
		}
	}
}
