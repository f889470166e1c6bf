package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/worker"
)

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nil, worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	dispatch := New(&errorQueue{err: boom}, nil, nil)

	err := dispatch.Enqueue(context.Background(), monitor.ScanRequest{ID: "req", MonitorID: "m1"})
	require.ErrorIs(t, err, boom)
	require.EqualError(t, err, "enqueue scan request req: boom")
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, monitor.ScanRequest) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (monitor.ScanRequest, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return monitor.ScanRequest{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, monitor.ScanRequest) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (monitor.ScanRequest, error) {
	return monitor.ScanRequest{}, nil
}
