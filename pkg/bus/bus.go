package bus

import (
	"sync"
	"time"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/log"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/metrics"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

// Bus fans build progress events out to subscribers. Each build gets
// its own topic with a monotonically increasing sequence starting at 1
// and a bounded replay history for late joiners. Subscribers that fall
// behind their buffer are dropped rather than backpressuring the
// pipeline.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic

	historySize int
	bufSize     int
}

type topic struct {
	mu      sync.Mutex
	seq     int64
	history []*types.Event
	subs    map[int64]chan *types.Event
	nextSub int64
	closed  bool
}

// NewBus creates a bus. historySize bounds per-topic replay; bufSize is
// the per-subscriber channel depth and must hold at least the history.
func NewBus(historySize, bufSize int) *Bus {
	if historySize < 0 {
		historySize = 0
	}
	if bufSize < historySize+1 {
		bufSize = historySize + 1
	}
	return &Bus{
		topics:      make(map[string]*topic),
		historySize: historySize,
		bufSize:     bufSize,
	}
}

func (b *Bus) topicFor(buildID string, create bool) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[buildID]
	if !ok && create {
		t = &topic{subs: make(map[int64]chan *types.Event)}
		b.topics[buildID] = t
	}
	return t
}

// Publish assigns the event its sequence number and timestamp and
// delivers it. Publishing to a drained topic is an error.
func (b *Bus) Publish(buildID string, ev *types.Event) error {
	t := b.topicFor(buildID, true)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errdefs.Newf(errdefs.KindValidation, "topic %s is drained", buildID)
	}

	t.seq++
	ev.BuildID = buildID
	ev.Seq = t.seq
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}

	if b.historySize > 0 {
		t.history = append(t.history, ev)
		if len(t.history) > b.historySize {
			t.history = t.history[len(t.history)-b.historySize:]
		}
	}

	var dropped []int64
	for id, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		close(t.subs[id])
		delete(t.subs, id)
	}
	t.mu.Unlock()

	metrics.BusEventsPublished.Inc()
	if len(dropped) > 0 {
		metrics.BusSubscribersDropped.Add(float64(len(dropped)))
		metrics.BusSubscribers.Sub(float64(len(dropped)))
		log.WithBuildID(buildID).Warn().
			Int("dropped", len(dropped)).
			Msg("Slow progress subscribers dropped")
	}
	return nil
}

// Subscribe returns a channel that first replays the topic's retained
// history, then receives live events. The cancel function detaches the
// subscriber and closes the channel.
func (b *Bus) Subscribe(buildID string) (<-chan *types.Event, func()) {
	t := b.topicFor(buildID, true)

	t.mu.Lock()
	ch := make(chan *types.Event, b.bufSize)
	for _, ev := range t.history {
		ch <- ev
	}
	if t.closed {
		close(ch)
		t.mu.Unlock()
		return ch, func() {}
	}

	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.mu.Unlock()

	metrics.BusSubscribers.Inc()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			if c, ok := t.subs[id]; ok {
				close(c)
				delete(t.subs, id)
				metrics.BusSubscribers.Dec()
			}
			t.mu.Unlock()
		})
	}
	return ch, cancel
}

// Drain schedules the topic for teardown after grace, giving attached
// subscribers time to consume the terminal events. After the grace
// period all subscriber channels are closed and the topic is removed.
func (b *Bus) Drain(buildID string, grace time.Duration) {
	go func() {
		if grace > 0 {
			time.Sleep(grace)
		}
		b.closeTopic(buildID)
	}()
}

func (b *Bus) closeTopic(buildID string) {
	b.mu.Lock()
	t, ok := b.topics[buildID]
	if ok {
		delete(b.topics, buildID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	t.closed = true
	n := len(t.subs)
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	t.mu.Unlock()

	if n > 0 {
		metrics.BusSubscribers.Sub(float64(n))
	}
}

// Subscribers returns the current subscriber count of a topic.
func (b *Bus) Subscribers(buildID string) int {
	t := b.topicFor(buildID, false)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
