package base_test

import (
	"sync"
	"testing"

	"github.com/ValentinKolb/msgpackrpc/rpc/transport/base"
)

type item struct {
	producer int
	seq      int
}

func TestSendQueueOrderPerProducer(t *testing.T) {
	const producers = 8
	const perProducer = 1000

	q := base.NewSendQueue[item]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if !q.Push(&item{producer: p, seq: i}) {
					t.Errorf("Push failed for producer %d", p)
					return
				}
			}
		}(p)
	}

	go func() {
		wg.Wait()
		q.Close()
	}()

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	count := 0
	for it := range q.Recv() {
		if it.seq != last[it.producer]+1 {
			t.Fatalf("producer %d: expected seq %d, got %d", it.producer, last[it.producer]+1, it.seq)
		}
		last[it.producer] = it.seq
		count++
	}

	if count != producers*perProducer {
		t.Errorf("expected %d items, got %d", producers*perProducer, count)
	}
}

func TestSendQueueClose(t *testing.T) {
	q := base.NewSendQueue[item]()

	for i := 0; i < 3; i++ {
		q.Push(&item{seq: i})
	}
	q.Close()

	if !q.IsClosed() {
		t.Error("expected the queue to be closed")
	}
	if q.Push(&item{seq: 99}) {
		t.Error("expected Push after Close to fail")
	}
	if q.Push(nil) {
		t.Error("expected Push of nil to fail")
	}

	// queued items are still delivered
	var got []int
	for it := range q.Recv() {
		got = append(got, it.seq)
	}
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("expected [0 1 2], got %v", got)
	}
	if q.Len() != 0 {
		t.Errorf("expected an empty queue, got %d", q.Len())
	}
}

func BenchmarkSendQueue(b *testing.B) {
	q := base.NewSendQueue[item]()
	done := make(chan struct{})
	go func() {
		for range q.Recv() {
		}
		close(done)
	}()

	v := &item{}
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			q.Push(v)
		}
	})
	q.Close()
	<-done
}
