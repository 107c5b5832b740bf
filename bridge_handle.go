package leapkit

import (
	"context"
	"errors"
	"sync"

	"github.com/hubertat/leapkit/leap"
)

// Bridge is the part of the bridge client a blind needs.
type Bridge interface {
	ReadBlindsTilt(ctx context.Context, device leap.Device) (int, error)
	SetBlindsTilt(ctx context.Context, device leap.Device, tilt int) error
}

var _ Bridge = (*leap.Client)(nil)

// BridgeHandle is a bridge connection that may not exist yet. It settles
// once, either ready or failed, and stays that way.
type BridgeHandle struct {
	settle sync.Once
	done   chan struct{}

	bridge Bridge
	err    error
}

func NewBridgeHandle() *BridgeHandle {
	return &BridgeHandle{done: make(chan struct{})}
}

// ConnectBridgeHandle returns a pending handle and settles it with the
// result of dial in the background.
func ConnectBridgeHandle(ctx context.Context, dial func(ctx context.Context) (Bridge, error)) *BridgeHandle {
	bh := NewBridgeHandle()
	go func() {
		bridge, err := dial(ctx)
		if err != nil {
			bh.Reject(err)
			return
		}
		bh.Resolve(bridge)
	}()
	return bh
}

// Resolve settles the handle as ready. Calls after the first settle are
// ignored, the return value tells whether this call settled it.
func (bh *BridgeHandle) Resolve(bridge Bridge) bool {
	if bridge == nil {
		return bh.Reject(errors.New("nil bridge"))
	}
	settled := false
	bh.settle.Do(func() {
		bh.bridge = bridge
		settled = true
		close(bh.done)
	})
	return settled
}

func (bh *BridgeHandle) Reject(reason error) bool {
	settled := false
	bh.settle.Do(func() {
		bh.err = errors.Join(ErrBridgeUnavailable, reason)
		settled = true
		close(bh.done)
	})
	return settled
}

// Await blocks until the handle settles or ctx is done. Every error it
// returns matches ErrBridgeUnavailable.
func (bh *BridgeHandle) Await(ctx context.Context) (Bridge, error) {
	select {
	case <-bh.done:
		return bh.bridge, bh.err
	default:
	}

	select {
	case <-bh.done:
		return bh.bridge, bh.err
	case <-ctx.Done():
		return nil, errors.Join(ErrBridgeUnavailable, ctx.Err())
	}
}

func (bh *BridgeHandle) Done() <-chan struct{} {
	return bh.done
}

func (bh *BridgeHandle) Ready() bool {
	select {
	case <-bh.done:
		return bh.err == nil
	default:
		return false
	}
}

// Err is nil while pending or ready.
func (bh *BridgeHandle) Err() error {
	select {
	case <-bh.done:
		return bh.err
	default:
		return nil
	}
}
