package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcher_DeliversInOrder(t *testing.T) {
	var got []int
	d := newDispatcher(NopObserver{})

	for i := 0; i < 100; i++ {
		d.enqueue(func(Observer) { got = append(got, i) })
	}
	d.Close()

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

func TestDispatcher_CloseFlushesAndDrops(t *testing.T) {
	delivered := 0
	d := newDispatcher(nil)

	d.enqueue(func(Observer) { delivered++ })
	d.Close()
	assert.Equal(t, 1, delivered)

	// After Close, enqueues are dropped, not deadlocked.
	d.enqueue(func(Observer) { delivered++ })
	assert.Equal(t, 1, delivered)
}

func TestDispatcher_CloseIdempotent(t *testing.T) {
	d := newDispatcher(nil)
	d.Close()
	d.Close()
}
