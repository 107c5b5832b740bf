package leapkit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBridgeHandleResolve(t *testing.T) {
	bh := NewBridgeHandle()
	assertBools(t, bh.Ready(), false)

	mb := NewMockBridge()
	assertBools(t, bh.Resolve(mb), true)
	assertBools(t, bh.Ready(), true)

	// first settle wins
	assertBools(t, bh.Resolve(NewMockBridge()), false)
	assertBools(t, bh.Reject(errors.New("late failure")), false)

	for i := 0; i < 3; i++ {
		got, err := bh.Await(context.Background())
		if err != nil {
			t.Fatalf("Await returned error: %v", err)
		}
		if got != mb {
			t.Error("Await returned a different bridge")
		}
	}
}

func TestBridgeHandleReject(t *testing.T) {
	reason := errors.New("certificate rejected")
	bh := NewBridgeHandle()
	bh.Reject(reason)

	assertBools(t, bh.Ready(), false)
	_, err := bh.Await(context.Background())
	assertErrorIs(t, err, ErrBridgeUnavailable)
	assertErrorIs(t, err, reason)
	assertErrorIs(t, bh.Err(), reason)

	assertBools(t, bh.Resolve(NewMockBridge()), false)
	_, err = bh.Await(context.Background())
	assertErrorIs(t, err, ErrBridgeUnavailable)
}

func TestBridgeHandleResolveNil(t *testing.T) {
	bh := NewBridgeHandle()
	bh.Resolve(nil)

	_, err := bh.Await(context.Background())
	assertErrorIs(t, err, ErrBridgeUnavailable)
}

func TestBridgeHandleConcurrentAwait(t *testing.T) {
	bh := NewBridgeHandle()
	mb := NewMockBridge()

	var wg sync.WaitGroup
	results := make([]Bridge, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = bh.Await(context.Background())
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	bh.Resolve(mb)
	wg.Wait()

	for i, got := range results {
		if got != mb {
			t.Errorf("awaiter %d got %v", i, got)
		}
	}
}

func TestBridgeHandleAwaitContext(t *testing.T) {
	bh := NewBridgeHandle()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := bh.Await(ctx)
	assertErrorIs(t, err, ErrBridgeUnavailable)
	assertErrorIs(t, err, context.DeadlineExceeded)

	// a timed out wait does not settle the handle
	select {
	case <-bh.Done():
		t.Error("handle settled by a cancelled Await")
	default:
	}
}

func TestConnectBridgeHandle(t *testing.T) {
	mb := NewMockBridge()
	bh := ConnectBridgeHandle(context.Background(), func(ctx context.Context) (Bridge, error) {
		return mb, nil
	})

	got, err := bh.Await(context.Background())
	if err != nil || got != mb {
		t.Errorf("got %v, %v", got, err)
	}

	failed := ConnectBridgeHandle(context.Background(), func(ctx context.Context) (Bridge, error) {
		return nil, errors.New("no route to host")
	})
	_, err = failed.Await(context.Background())
	assertErrorIs(t, err, ErrBridgeUnavailable)
}
