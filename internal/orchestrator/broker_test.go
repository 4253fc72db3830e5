package orchestrator

import (
	"testing"
	"time"
)

func TestBrokerSubscribeThenFinish(t *testing.T) {
	b := newCompletionBroker()
	done := b.Subscribe("job-1")

	select {
	case <-done:
		t.Fatal("channel closed before Finish")
	default:
	}

	b.Finish("job-1")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Finish")
	}
}

func TestBrokerLateSubscriber(t *testing.T) {
	b := newCompletionBroker()
	b.Finish("job-1")

	// A subscriber arriving after completion gets an already-closed channel.
	select {
	case <-b.Subscribe("job-1"):
	case <-time.After(time.Second):
		t.Fatal("late subscriber blocked on finished job")
	}
}

func TestBrokerFinishIdempotent(t *testing.T) {
	b := newCompletionBroker()
	done := b.Subscribe("job-1")
	b.Finish("job-1")
	b.Finish("job-1")
	<-done
}

func TestBrokerSharedChannelPerJob(t *testing.T) {
	b := newCompletionBroker()
	a := b.Subscribe("job-1")
	c := b.Subscribe("job-1")
	other := b.Subscribe("job-2")

	b.Finish("job-1")
	<-a
	<-c

	select {
	case <-other:
		t.Fatal("unrelated job channel closed")
	default:
	}
}
