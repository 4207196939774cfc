package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityQueue_OrdersByPriority(t *testing.T) {
	pq := NewPriorityQueue[string]()

	pq.Enqueue("third", 3)
	pq.Enqueue("first", 1)
	pq.Enqueue("second", 2)

	v, ok := pq.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, "first", v)

	assert.Equal(t, []string{"second", "third"}, pq.DequeueAll())
}

func TestPriorityQueue_EmptyDequeue(t *testing.T) {
	pq := NewPriorityQueue[int]()

	_, ok := pq.Dequeue()
	assert.False(t, ok)
	assert.Zero(t, pq.Len())
	assert.Empty(t, pq.DequeueAll())
}

func TestPriorityQueue_ConcurrentAccess(t *testing.T) {
	pq := NewPriorityQueue[int]()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				pq.Enqueue(n*100+j, j)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 800, pq.Len())
	assert.Len(t, pq.DequeueAll(), 800)
}
