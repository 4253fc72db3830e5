package orchestrator

import "sync"

// completionBroker lets callers block until a job reaches a terminal state.
//
// Finished jobs are retained as closed markers so that late subscribers
// (those subscribing after the job completed) receive a closed channel
// instead of blocking forever.
type completionBroker struct {
	mu     sync.Mutex
	topics map[string]*completionTopic
}

type completionTopic struct {
	done   chan struct{}
	closed bool
}

func newCompletionBroker() *completionBroker {
	return &completionBroker{
		topics: make(map[string]*completionTopic),
	}
}

// Subscribe returns a channel that is closed when the job finishes. If the
// job has already finished, the returned channel is already closed.
func (b *completionBroker) Subscribe(jobID string) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &completionTopic{done: make(chan struct{})}
		b.topics[jobID] = t
	}
	return t.done
}

// Finish marks the job as terminal, waking all subscribers. Idempotent.
func (b *completionBroker) Finish(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &completionTopic{done: make(chan struct{})}
		b.topics[jobID] = t
	}
	if !t.closed {
		t.closed = true
		close(t.done)
	}
}
