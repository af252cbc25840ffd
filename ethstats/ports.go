package ethstats

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/event"
)

// NodeQuery is the request/response view of the monitored node.
type NodeQuery interface {
	PeerCount(ctx context.Context) (int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)

	// BlockByNumber returns the block at the given height, the head block if
	// number is nil. A sentinel block is returned without error when the block
	// is not available yet.
	BlockByNumber(ctx context.Context, number *big.Int) (*Block, error)

	IsMining(ctx context.Context) (bool, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	IsListening(ctx context.Context) (bool, error)
}

// ErrWatchUnsupported is returned by a Watcher when the node cannot push
// notifications. The agent then relies on the update timer only.
var ErrWatchUnsupported = errors.New("node notifications not supported")

// Watcher delivers push notifications from the node.
type Watcher interface {
	WatchNewBlocks(ctx context.Context, fn func()) (event.Subscription, error)
	WatchPendingTransactions(ctx context.Context, fn func(count int)) (event.Subscription, error)
}

// NoopWatcher never fires.
type NoopWatcher struct{}

func (NoopWatcher) WatchNewBlocks(ctx context.Context, fn func()) (event.Subscription, error) {
	return idleSubscription(), nil
}

func (NoopWatcher) WatchPendingTransactions(ctx context.Context, fn func(count int)) (event.Subscription, error) {
	return idleSubscription(), nil
}

func idleSubscription() event.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		return nil
	})
}

// Transport delivers named events to the collector.
type Transport interface {
	IsConnected() bool

	// Send hands the event off for delivery. It never blocks on the network
	// and reports false if the event was dropped.
	Send(typ string, payload interface{}) bool

	// OnOpen registers fn to run every time a connection becomes available.
	// Send works from within fn even if IsConnected does not report true yet.
	OnOpen(fn func())

	Close() error
}

// multiTransport sends every event to all of its members.
type multiTransport []Transport

func newMultiTransport(transports ...Transport) Transport {
	res := multiTransport{}
	for _, t := range transports {
		if t != nil {
			res = append(res, t)
		}
	}
	if len(res) == 1 {
		return res[0]
	}
	return res
}

func (m multiTransport) IsConnected() bool {
	for _, t := range m {
		if t.IsConnected() {
			return true
		}
	}
	return false
}

func (m multiTransport) Send(typ string, payload interface{}) bool {
	sent := false
	for _, t := range m {
		if t.Send(typ, payload) {
			sent = true
		}
	}
	return sent
}

func (m multiTransport) OnOpen(fn func()) {
	// hello is idempotent, members that are already open get it again
	for _, t := range m {
		t.OnOpen(fn)
	}
}

func (m multiTransport) Close() error {
	var errs []error
	for _, t := range m {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
