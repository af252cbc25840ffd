package ethstats

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

type cycleState int

const (
	stateIdle cycleState = iota
	statePolling
	stateSuccess
	stateFailure
)

func (s cycleState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case statePolling:
		return "polling"
	case stateSuccess:
		return "success"
	case stateFailure:
		return "failure"
	default:
		return "unknown"
	}
}

type Option func(a *Agent)

// WithWatcher enables push driven updates from the node.
func WithWatcher(w Watcher) Option {
	return func(a *Agent) {
		a.watcher = w
	}
}

// WithRegisterer registers the agent metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *Agent) {
		a.registerer = reg
	}
}

// Agent polls the node, keeps the aggregated stats and pushes them to the
// collector.
type Agent struct {
	logger     hclog.Logger
	config     *Config
	info       *NodeInfo
	node       NodeQuery
	watcher    Watcher
	transport  Transport
	registerer prometheus.Registerer
	metrics    *metrics

	// owned by the update loop
	history *blockHistory
	uptime  *uptimeTracker

	lock  sync.Mutex
	state cycleState
	stats *Stats

	started   *atomic.Bool
	updateCh  chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
	subs      []event.Subscription
	wg        sync.WaitGroup

	ctx      context.Context
	cancelFn context.CancelFunc
}

func NewAgent(logger hclog.Logger, config *Config, info *NodeInfo, node NodeQuery, transport Transport, opts ...Option) (*Agent, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = defaultUpdateInterval
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = defaultQueryTimeout
	}
	if info == nil {
		info = NewNodeInfo(config.InstanceName, config.VersionString)
	}
	if node == nil {
		return nil, fmt.Errorf("node query is nil")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is nil")
	}

	ctx, cancelFn := context.WithCancel(context.Background())
	a := &Agent{
		logger:    logger,
		config:    config,
		info:      info,
		node:      node,
		watcher:   NoopWatcher{},
		transport: transport,
		history:   newBlockHistory(MaxBlocksHistory),
		uptime:    newUptimeTracker(),
		stats:     newStats(),
		started:   atomic.NewBool(false),
		updateCh:  make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
		ctx:       ctx,
		cancelFn:  cancelFn,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.metrics = newMetrics(a.registerer)
	return a, nil
}

// Start greets the collector on every connection, subscribes to the node
// notifications and starts the update loop. Only the first call has any
// effect.
func (a *Agent) Start() {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	a.transport.OnOpen(a.sendHello)

	a.wg.Add(1)
	go a.loop()

	a.watch()
	a.logger.Info("Stats agent started", "id", a.info.ID, "interval", a.config.UpdateInterval)
}

func (a *Agent) watch() {
	handleErr := func(name string, err error) {
		if errors.Is(err, ErrWatchUnsupported) {
			a.logger.Info("node notifications not available, using timer only", "watch", name)
		} else {
			a.logger.Warn("failed to watch node", "watch", name, "err", err)
		}
	}

	sub, err := a.watcher.WatchNewBlocks(a.ctx, func() {
		a.logger.Trace("block changed")
		a.Trigger()
	})
	if err != nil {
		handleErr("blocks", err)
	} else {
		a.subs = append(a.subs, sub)
	}

	sub, err = a.watcher.WatchPendingTransactions(a.ctx, a.setPending)
	if err != nil {
		handleErr("pending", err)
	} else {
		a.subs = append(a.subs, sub)
	}
}

// Trigger requests an update cycle. Requests that arrive while one is
// already pending are coalesced.
func (a *Agent) Trigger() {
	select {
	case a.updateCh <- struct{}{}:
	default:
	}
}

func (a *Agent) setPending(count int) {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.logger.Trace("pending changed", "count", count)
	a.stats.Pending = count
}

func (a *Agent) loop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.UpdateInterval)
	defer ticker.Stop()

	a.update()
	for {
		select {
		case <-ticker.C:
			a.update()

		case <-a.updateCh:
			a.update()

		case <-a.closeCh:
			return
		}
	}
}

// update runs a single poll cycle and pushes the resulting snapshot.
func (a *Agent) update() {
	a.setState(statePolling)

	res := a.poll(a.ctx)
	if a.ctx.Err() != nil {
		// shutting down, drop the partial result
		a.setState(stateIdle)
		return
	}
	snapshot := a.apply(res)
	a.emit("update", snapshot)

	a.setState(stateIdle)
}

func (a *Agent) setState(s cycleState) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.state != s {
		a.logger.Trace("cycle state", "from", a.state, "to", s)
	}
	a.state = s
}

// cycleResult is everything a poll cycle learned from the node. It is
// merged into the agent state once the cycle is over.
type cycleResult struct {
	errors []StatsError

	// failed is set if the node was not reachable
	failed bool
	peers  int

	head *Block

	// headKnown is set if the head is already the newest entry of the history
	headKnown bool

	// backfill holds the blocks below the head in ascending order
	backfill     []*Block
	resetHistory bool

	mining    bool
	listening bool
	gasPrice  *big.Int
}

func (r *cycleResult) addError(code ErrorCode, format string, args ...interface{}) {
	r.errors = append(r.errors, StatsError{Code: code, Msg: fmt.Sprintf(format, args...)})
}

func (a *Agent) poll(ctx context.Context) *cycleResult {
	res := &cycleResult{}

	// the peer count tells whether the node is reachable
	var peers int
	err := a.query(ctx, func(ctx context.Context) (err error) {
		peers, err = a.node.PeerCount(ctx)
		return
	})
	if err != nil {
		res.failed = true
		res.addError(LivenessUnreachable, "%v", err)
		return res
	}
	res.peers = peers

	a.fetchHead(ctx, res)
	if res.head.Number > 0 {
		a.fetchBackfill(ctx, res)
	}

	err = a.query(ctx, func(ctx context.Context) (err error) {
		res.mining, err = a.node.IsMining(ctx)
		return
	})
	if err != nil {
		res.addError(StatusQueryFailed, "mining: %v", err)
	}
	err = a.query(ctx, func(ctx context.Context) (err error) {
		res.gasPrice, err = a.node.GasPrice(ctx)
		return
	})
	if err != nil {
		res.addError(StatusQueryFailed, "gas price: %v", err)
	}
	err = a.query(ctx, func(ctx context.Context) (err error) {
		res.listening, err = a.node.IsListening(ctx)
		return
	})
	if err != nil {
		res.addError(StatusQueryFailed, "listening: %v", err)
	}
	return res
}

func (a *Agent) fetchHead(ctx context.Context, res *cycleResult) {
	var number uint64
	err := a.query(ctx, func(ctx context.Context) (err error) {
		number, err = a.node.LatestBlockNumber(ctx)
		return
	})

	newest := a.history.newest()
	if err != nil {
		res.addError(HeadNumberParseFailed, "%v", err)
		res.head = a.fetchBlock(ctx, res, nil)
	} else if newest != nil && newest.Number == number {
		// the head did not move, reuse it without fetching. Its hash is not
		// checked again, a reorg at the same height goes unnoticed.
		res.head = newest
	} else {
		res.head = a.fetchBlock(ctx, res, new(big.Int).SetUint64(number))
	}

	if newest != nil && res.head.Number == newest.Number && !res.head.isSentinel() {
		res.head = newest
		res.headKnown = true
	}
}

// fetchBackfill collects the blocks between the newest known block and the
// head, so the history ends up full without fetching a block twice.
func (a *Agent) fetchBackfill(ctx context.Context, res *cycleResult) {
	if res.headKnown {
		return
	}
	latest := res.head.Number

	newest := a.history.newest()
	if newest != nil && newest.Number > latest {
		// the head went backwards, start over
		res.resetHistory = true
		newest = nil
	}

	span := uint64(a.history.capacity)
	if newest != nil && latest-newest.Number < span {
		span = latest - newest.Number
	}
	minBlock := uint64(0)
	if latest > span {
		minBlock = latest - span
	}
	if newest != nil && minBlock <= newest.Number {
		minBlock = newest.Number + 1
	}

	for num := minBlock; num < latest; num++ {
		if ctx.Err() != nil {
			return
		}
		res.backfill = append(res.backfill, a.fetchBlock(ctx, res, new(big.Int).SetUint64(num)))
	}
}

// fetchBlock never fails, a sentinel block stands in for any block that
// cannot be fetched.
func (a *Agent) fetchBlock(ctx context.Context, res *cycleResult, number *big.Int) *Block {
	var block *Block
	err := a.query(ctx, func(ctx context.Context) (err error) {
		block, err = a.node.BlockByNumber(ctx, number)
		return
	})
	if err != nil {
		tag := "latest"
		if number != nil {
			tag = number.String()
		}
		res.addError(BlockFetchFailed, "block %s: %v", tag, err)
		return sentinelBlock()
	}
	if block == nil {
		return sentinelBlock()
	}
	return block
}

func (a *Agent) query(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancelFn := context.WithTimeout(ctx, a.config.QueryTimeout)
	defer cancelFn()

	return fn(ctx)
}

// apply merges the result of a poll cycle and returns the snapshot to report.
func (a *Agent) apply(res *cycleResult) *Snapshot {
	a.uptime.recordAttempt()

	a.lock.Lock()
	defer a.lock.Unlock()

	stats := a.stats
	if res.failed {
		for _, e := range res.errors {
			a.uptime.recordFailure(stats, e.Code, e.Msg)
		}
		a.state = stateFailure
	} else {
		for _, e := range res.errors {
			a.uptime.recordError(e.Code, e.Msg)
		}
		stats.Active = true
		stats.Peers = res.peers

		if res.resetHistory {
			a.history.reset()
		}
		if !res.headKnown && res.head.Number > 0 {
			for _, b := range res.backfill {
				a.history.insert(b)
			}
			a.history.insert(res.head)
		}
		a.history.computeBlockTimes(a.history.floor)

		stats.Block = res.head.copy()
		stats.Blocks = a.history.blocks()
		stats.BlockTimeAvg = a.history.average()
		stats.Difficulty = a.history.difficultySeries()

		stats.Mining = res.mining
		stats.Listening = res.listening
		if res.gasPrice != nil {
			stats.GasPrice = argBigPtr(res.gasPrice)
		} else {
			stats.GasPrice = argBigPtr(big.NewInt(0))
		}
		a.state = stateSuccess
	}
	stats.Errors = a.uptime.currentErrors()
	stats.Uptime = a.uptime.uptime()

	a.metrics.observe(stats, res.failed)

	if len(stats.Errors) != 0 {
		a.logger.Debug("poll cycle errors", "state", a.state, "errors", len(stats.Errors), "first", stats.Errors[0].Msg)
	}
	return &Snapshot{
		ID:    a.info.ID,
		Stats: stats.Copy(),
	}
}

// sendHello runs as an open handler of the transport, before it reports
// itself as connected.
func (a *Agent) sendHello() {
	a.logger.Debug("collector connection opened, sending hello", "id", a.info.ID)

	sent := a.transport.Send("hello", a.info)
	if !sent {
		a.logger.Warn("failed to send event", "typ", "hello")
	}
	a.metrics.event("hello", sent)
}

func (a *Agent) emit(typ string, payload interface{}) {
	if !a.transport.IsConnected() {
		a.logger.Debug("collector not connected, event dropped", "typ", typ)
		a.metrics.event(typ, false)
		return
	}
	// a member of the transport may be down while another one takes the
	// event, the transport logs its own drops
	sent := a.transport.Send(typ, payload)
	if !sent {
		a.logger.Debug("event dropped by the transport", "typ", typ)
	}
	a.metrics.event(typ, sent)
}

// Info returns the identity reported by the agent.
func (a *Agent) Info() *NodeInfo {
	info := *a.info
	return &info
}

// Stats returns a copy of the current stats.
func (a *Agent) Stats() *Stats {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.stats.Copy()
}

// Snapshot returns the current 'update' payload.
func (a *Agent) Snapshot() *Snapshot {
	return &Snapshot{
		ID:    a.info.ID,
		Stats: a.Stats(),
	}
}

// Close stops the update loop, drops any in-flight cycle, removes the node
// notifications and closes the transport.
func (a *Agent) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.cancelFn()
		close(a.closeCh)

		for _, sub := range a.subs {
			sub.Unsubscribe()
		}
		a.wg.Wait()

		err = a.transport.Close()
		a.logger.Info("Stats agent stopped")
	})
	return err
}
