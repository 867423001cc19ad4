package kafka

import (
	"sync"

	kafkago "github.com/segmentio/kafka-go"
)

type partitionKey struct {
	topic     string
	partition int
}

type partitionOffsets struct {
	pending []int64
	done    map[int64]kafkago.Message
}

// offsetTracker releases offsets for commit in fetch order. Messages of one
// partition may finish out of order on different worker lanes; only the
// highest offset below which everything finished is committed.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[partitionKey]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[partitionKey]*partitionOffsets)}
}

func (t *offsetTracker) track(m kafkago.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := partitionKey{topic: m.Topic, partition: m.Partition}
	p, ok := t.partitions[k]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]kafkago.Message)}
		t.partitions[k] = p
	}
	p.pending = append(p.pending, m.Offset)
}

// complete marks m finished and returns the message to commit, if any
func (t *offsetTracker) complete(m kafkago.Message) (kafkago.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[partitionKey{topic: m.Topic, partition: m.Partition}]
	if !ok {
		return kafkago.Message{}, false
	}
	p.done[m.Offset] = m

	var last kafkago.Message
	released := false
	for len(p.pending) > 0 {
		finished, ok := p.done[p.pending[0]]
		if !ok {
			break
		}
		delete(p.done, p.pending[0])
		p.pending = p.pending[1:]
		last, released = finished, true
	}
	return last, released
}

// inFlight returns the number of tracked messages not yet released
func (t *offsetTracker) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, p := range t.partitions {
		n += len(p.pending)
	}
	return n
}
