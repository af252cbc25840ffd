package ethstats

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockNode struct {
	lock sync.Mutex

	peers    int
	peersErr error
	head     uint64
	headErr  error
	blocks   map[uint64]*Block
	blockErr map[uint64]error

	miningErr    error
	gasPriceErr  error
	listeningErr error

	// block makes PeerCount wait until the query is cancelled
	block bool
	delay time.Duration

	fetches     map[string]int
	peerQueries int
	inflight    int
	maxInflight int
}

func newMockNode() *mockNode {
	return &mockNode{
		peers:    10,
		blocks:   map[uint64]*Block{},
		blockErr: map[uint64]error{},
		fetches:  map[string]int{},
	}
}

// setHead makes the chain [0, head] available, one block every 10 seconds
func (m *mockNode) setHead(head uint64) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for i := uint64(0); i <= head; i++ {
		if _, ok := m.blocks[i]; !ok {
			m.blocks[i] = testBlock(i, int64(i)*10)
		}
	}
	m.head = head
}

func (m *mockNode) enter() func() {
	m.lock.Lock()
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	delay := m.delay
	m.lock.Unlock()

	if delay != 0 {
		time.Sleep(delay)
	}
	return func() {
		m.lock.Lock()
		m.inflight--
		m.lock.Unlock()
	}
}

func (m *mockNode) fetchCount(key string) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.fetches[key]
}

func (m *mockNode) PeerCount(ctx context.Context) (int, error) {
	defer m.enter()()

	m.lock.Lock()
	m.peerQueries++
	block := m.block
	peers, err := m.peers, m.peersErr
	m.lock.Unlock()

	if block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return peers, err
}

func (m *mockNode) LatestBlockNumber(ctx context.Context) (uint64, error) {
	defer m.enter()()

	m.lock.Lock()
	defer m.lock.Unlock()
	return m.head, m.headErr
}

func (m *mockNode) BlockByNumber(ctx context.Context, number *big.Int) (*Block, error) {
	defer m.enter()()

	m.lock.Lock()
	defer m.lock.Unlock()

	num := m.head
	key := "latest"
	if number != nil {
		num = number.Uint64()
		key = number.String()
	}
	m.fetches[key]++

	if err := m.blockErr[num]; err != nil {
		return nil, err
	}
	b, ok := m.blocks[num]
	if !ok {
		return sentinelBlock(), nil
	}
	return b.copy(), nil
}

func (m *mockNode) IsMining(ctx context.Context) (bool, error) {
	defer m.enter()()

	m.lock.Lock()
	defer m.lock.Unlock()
	return false, m.miningErr
}

func (m *mockNode) GasPrice(ctx context.Context) (*big.Int, error) {
	defer m.enter()()

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.gasPriceErr != nil {
		return nil, m.gasPriceErr
	}
	return big.NewInt(1000), nil
}

func (m *mockNode) IsListening(ctx context.Context) (bool, error) {
	defer m.enter()()

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.listeningErr != nil {
		return false, m.listeningErr
	}
	return true, nil
}

// setStatusErr makes the gas price and listening queries fail
func (m *mockNode) setStatusErr(err error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.gasPriceErr = err
	m.listeningErr = err
}

type mockEvent struct {
	typ     string
	payload interface{}
}

type mockTransport struct {
	lock      sync.Mutex
	connected bool
	closed    bool
	openFns   []func()
	events    []*mockEvent
}

func (m *mockTransport) IsConnected() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.connected
}

func (m *mockTransport) Send(typ string, payload interface{}) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	if !m.connected {
		return false
	}
	m.events = append(m.events, &mockEvent{typ: typ, payload: payload})
	return true
}

func (m *mockTransport) OnOpen(fn func()) {
	m.lock.Lock()
	m.openFns = append(m.openFns, fn)
	connected := m.connected
	m.lock.Unlock()

	if connected {
		fn()
	}
}

func (m *mockTransport) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.closed = true
	return nil
}

// open simulates a new connection to the collector
func (m *mockTransport) open() {
	m.lock.Lock()
	m.connected = true
	fns := append([]func(){}, m.openFns...)
	m.lock.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (m *mockTransport) eventsOf(typ string) []*mockEvent {
	m.lock.Lock()
	defer m.lock.Unlock()

	res := []*mockEvent{}
	for _, e := range m.events {
		if e.typ == typ {
			res = append(res, e)
		}
	}
	return res
}

type mockWatcher struct {
	lock      sync.Mutex
	blockFn   func()
	pendingFn func(count int)
	err       error
}

func (m *mockWatcher) WatchNewBlocks(ctx context.Context, fn func()) (event.Subscription, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.lock.Lock()
	m.blockFn = fn
	m.lock.Unlock()
	return idleSubscription(), nil
}

func (m *mockWatcher) WatchPendingTransactions(ctx context.Context, fn func(count int)) (event.Subscription, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.lock.Lock()
	m.pendingFn = fn
	m.lock.Unlock()
	return idleSubscription(), nil
}

func testAgent(t *testing.T, node *mockNode, transport Transport, opts ...Option) *Agent {
	config := DefaultConfig()
	config.UpdateInterval = time.Hour

	info := newNodeInfo("test", "geth/v1.0", "linux", "5.15")

	a, err := NewAgent(hclog.NewNullLogger(), config, info, node, transport, opts...)
	require.NoError(t, err)
	return a
}

func blockNumbers(blocks []*Block) []uint64 {
	res := []uint64{}
	for _, b := range blocks {
		res = append(res, b.Number)
	}
	return res
}

func TestAgent_FirstCycle(t *testing.T) {
	node := newMockNode()
	node.setHead(20)

	transport := &mockTransport{connected: true}
	a := testAgent(t, node, transport)

	a.update()

	stats := a.Stats()
	assert.True(t, stats.Active)
	assert.True(t, stats.Listening)
	assert.False(t, stats.Mining)
	assert.Equal(t, 10, stats.Peers)
	assert.Equal(t, "1000", stats.GasPrice.String())
	assert.Empty(t, stats.Errors)

	// the history is filled in a single cycle
	assert.Equal(t, uint64(20), stats.Block.Number)
	assert.Equal(t, []uint64{20, 19, 18, 17, 16, 15, 14, 13, 12, 11, 10, 9}, blockNumbers(stats.Blocks))
	assert.Len(t, stats.Difficulty, MaxBlocksHistory)
	assert.Equal(t, "2000", stats.Difficulty[0].String())

	// block 8 was evicted and gives the time of block 9
	for _, b := range stats.Blocks {
		assert.Equal(t, int64(10), *b.BlockTime)
	}
	assert.Equal(t, float64(10), stats.BlockTimeAvg)
	assert.Equal(t, Uptime{Inc: 1, Down: 0, Total: 100}, stats.Uptime)

	for i := 8; i <= 20; i++ {
		assert.Equal(t, 1, node.fetchCount(strconv.Itoa(i)), "block %d", i)
	}
	assert.Equal(t, 0, node.fetchCount("7"))

	updates := transport.eventsOf("update")
	require.Len(t, updates, 1)

	snapshot := updates[0].payload.(*Snapshot)
	assert.Equal(t, a.Info().ID, snapshot.ID)
	assert.Equal(t, uint64(20), snapshot.Stats.Block.Number)
}

func TestAgent_NoRefetch(t *testing.T) {
	node := newMockNode()
	node.setHead(20)

	a := testAgent(t, node, &mockTransport{connected: true})
	a.update()

	// the head did not move
	a.update()
	for i := 8; i <= 20; i++ {
		assert.Equal(t, 1, node.fetchCount(strconv.Itoa(i)), "block %d", i)
	}
	stats := a.Stats()
	assert.Equal(t, []uint64{20, 19, 18, 17, 16, 15, 14, 13, 12, 11, 10, 9}, blockNumbers(stats.Blocks))
	assert.Equal(t, float64(10), stats.BlockTimeAvg)

	// only the new blocks are fetched
	node.setHead(22)
	a.update()

	assert.Equal(t, 1, node.fetchCount("21"))
	assert.Equal(t, 1, node.fetchCount("22"))
	assert.Equal(t, 1, node.fetchCount("20"))

	stats = a.Stats()
	assert.Equal(t, uint64(22), stats.Block.Number)
	assert.Equal(t, []uint64{22, 21, 20, 19, 18, 17, 16, 15, 14, 13, 12, 11}, blockNumbers(stats.Blocks))
	assert.Equal(t, float64(10), stats.BlockTimeAvg)
	assert.Equal(t, 3, stats.Uptime.Inc)
}

func TestAgent_LargeGap(t *testing.T) {
	node := newMockNode()
	node.setHead(20)

	a := testAgent(t, node, &mockTransport{connected: true})
	a.update()

	// more than a full history behind, the blocks in between are skipped
	node.setHead(100)
	a.update()

	assert.Equal(t, 0, node.fetchCount("50"))
	assert.Equal(t, 0, node.fetchCount("87"))
	for i := 88; i <= 100; i++ {
		assert.Equal(t, 1, node.fetchCount(strconv.Itoa(i)), "block %d", i)
	}

	stats := a.Stats()
	assert.Equal(t, []uint64{100, 99, 98, 97, 96, 95, 94, 93, 92, 91, 90, 89}, blockNumbers(stats.Blocks))
	assert.Equal(t, float64(10), stats.BlockTimeAvg)
}

func TestAgent_Degraded(t *testing.T) {
	node := newMockNode()
	node.setHead(20)

	transport := &mockTransport{connected: true}
	a := testAgent(t, node, transport)
	a.update()

	node.lock.Lock()
	node.peersErr = fmt.Errorf("connection refused")
	node.lock.Unlock()

	a.update()

	stats := a.Stats()
	assert.False(t, stats.Active)
	assert.False(t, stats.Listening)
	assert.False(t, stats.Mining)
	assert.Equal(t, 0, stats.Peers)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, LivenessUnreachable, stats.Errors[0].Code)
	assert.Equal(t, Uptime{Inc: 2, Down: 1, Total: 50}, stats.Uptime)

	// the last known block is still reported
	assert.Equal(t, uint64(20), stats.Block.Number)

	// an update is still sent
	assert.Len(t, transport.eventsOf("update"), 2)

	// recovery
	node.lock.Lock()
	node.peersErr = nil
	node.lock.Unlock()

	a.update()

	stats = a.Stats()
	assert.True(t, stats.Active)
	assert.Equal(t, 10, stats.Peers)
	assert.Empty(t, stats.Errors)
	assert.Equal(t, 3, stats.Uptime.Inc)
	assert.Equal(t, 1, stats.Uptime.Down)
	assert.InDelta(t, 66.66, stats.Uptime.Total, 0.01)
}

func TestAgent_HeadNumberFailed(t *testing.T) {
	node := newMockNode()
	node.setHead(20)
	node.headErr = fmt.Errorf("invalid number")

	a := testAgent(t, node, &mockTransport{connected: true})
	a.update()

	// the head is fetched as 'latest'
	assert.Equal(t, 1, node.fetchCount("latest"))

	stats := a.Stats()
	assert.True(t, stats.Active)
	assert.Equal(t, uint64(20), stats.Block.Number)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, HeadNumberParseFailed, stats.Errors[0].Code)
	assert.Equal(t, 0, stats.Uptime.Down)
}

func TestAgent_BlockFetchFailed(t *testing.T) {
	node := newMockNode()
	node.setHead(20)
	node.blockErr[15] = fmt.Errorf("timeout")

	a := testAgent(t, node, &mockTransport{connected: true})
	a.update()

	stats := a.Stats()
	assert.True(t, stats.Active)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, BlockFetchFailed, stats.Errors[0].Code)
	assert.Equal(t, 0, stats.Uptime.Down)

	// the failed block is replaced with a sentinel
	require.Len(t, stats.Blocks, MaxBlocksHistory)
	assert.Equal(t, sentinelHash, stats.Blocks[5].Hash)
	assert.Equal(t, uint64(20), stats.Blocks[0].Number)

	// the errors only belong to the cycle that produced them
	a.update()
	assert.Empty(t, a.Stats().Errors)
}

func TestAgent_StatusQueryFailed(t *testing.T) {
	node := newMockNode()
	node.setHead(20)
	node.setStatusErr(fmt.Errorf("boom"))

	node.lock.Lock()
	node.miningErr = fmt.Errorf("boom")
	node.lock.Unlock()

	reg := prometheus.NewRegistry()
	transport := &mockTransport{connected: true}
	a := testAgent(t, node, transport, WithRegisterer(reg))
	a.update()

	stats := a.Stats()
	assert.True(t, stats.Active)
	assert.Equal(t, 10, stats.Peers)
	assert.False(t, stats.Mining)
	assert.False(t, stats.Listening)
	assert.Equal(t, "0", stats.GasPrice.String())

	require.Len(t, stats.Errors, 3)
	for _, e := range stats.Errors {
		assert.Equal(t, StatusQueryFailed, e.Code)
	}
	assert.Equal(t, "mining: boom", stats.Errors[0].Msg)
	assert.Equal(t, "gas price: boom", stats.Errors[1].Msg)
	assert.Equal(t, "listening: boom", stats.Errors[2].Msg)

	// not a downtime
	assert.Equal(t, Uptime{Inc: 1, Down: 0, Total: 100}, stats.Uptime)
	assert.Equal(t, uint64(20), stats.Block.Number)
	assert.Len(t, stats.Blocks, MaxBlocksHistory)
	assert.Equal(t, float64(1), testutil.ToFloat64(a.metrics.cycles.WithLabelValues("success")))
	assert.Equal(t, float64(3), testutil.ToFloat64(a.metrics.nodeErrors.WithLabelValues("StatusQueryFailed")))

	updates := transport.eventsOf("update")
	require.Len(t, updates, 1)
	assert.Len(t, updates[0].payload.(*Snapshot).Stats.Errors, 3)

	// the next clean cycle clears the errors
	node.setStatusErr(nil)
	node.lock.Lock()
	node.miningErr = nil
	node.lock.Unlock()

	a.update()

	stats = a.Stats()
	assert.Empty(t, stats.Errors)
	assert.True(t, stats.Listening)
	assert.Equal(t, "1000", stats.GasPrice.String())
	assert.Equal(t, Uptime{Inc: 2, Down: 0, Total: 100}, stats.Uptime)
}

func TestAgent_HeadWentBack(t *testing.T) {
	node := newMockNode()
	node.setHead(20)

	a := testAgent(t, node, &mockTransport{connected: true})
	a.update()

	node.lock.Lock()
	node.head = 5
	node.lock.Unlock()

	a.update()

	stats := a.Stats()
	assert.Equal(t, uint64(5), stats.Block.Number)
	assert.Equal(t, []uint64{5, 4, 3, 2, 1, 0}, blockNumbers(stats.Blocks))
}

func TestAgent_Genesis(t *testing.T) {
	node := newMockNode()
	node.setHead(0)

	a := testAgent(t, node, &mockTransport{connected: true})
	a.update()

	stats := a.Stats()
	assert.True(t, stats.Active)
	assert.Equal(t, uint64(0), stats.Block.Number)
	assert.Empty(t, stats.Blocks)
	assert.Equal(t, float64(0), stats.BlockTimeAvg)
}

func TestAgent_Disconnected(t *testing.T) {
	node := newMockNode()
	node.setHead(20)

	transport := &mockTransport{}
	a := testAgent(t, node, transport)

	a.update()
	a.update()

	// nothing is sent but the stats are kept up to date
	assert.Empty(t, transport.eventsOf("update"))
	assert.Equal(t, 2, a.Stats().Uptime.Inc)
	assert.Equal(t, uint64(20), a.Snapshot().Stats.Block.Number)

	// hello goes first once the collector is reachable
	transport.OnOpen(a.sendHello)
	transport.open()
	a.update()

	assert.Len(t, transport.eventsOf("hello"), 1)
	assert.Len(t, transport.eventsOf("update"), 1)
	assert.Equal(t, "hello", transport.events[0].typ)
}

// dropTransport reports itself connected but rejects every event, like a
// collector client that is down behind a working archive.
type dropTransport struct {
	mockTransport
}

func (d *dropTransport) IsConnected() bool {
	return true
}

func (d *dropTransport) Send(typ string, payload interface{}) bool {
	return false
}

func TestAgent_DroppedEventLogLevel(t *testing.T) {
	node := newMockNode()
	node.setHead(20)

	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{
		Output: &buf,
		Level:  hclog.Trace,
	})

	reg := prometheus.NewRegistry()
	a, err := NewAgent(logger, nil, nil, node, &dropTransport{}, WithRegisterer(reg))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		a.update()
	}

	assert.Contains(t, buf.String(), "event dropped")
	assert.NotContains(t, buf.String(), "[WARN]")
	assert.Equal(t, float64(3), testutil.ToFloat64(a.metrics.events.WithLabelValues("update", "dropped")))
}

func TestAgent_Metrics(t *testing.T) {
	node := newMockNode()
	node.setHead(20)

	reg := prometheus.NewRegistry()
	transport := &mockTransport{}
	a := testAgent(t, node, transport, WithRegisterer(reg))

	a.update()
	transport.open()
	a.update()

	assert.Equal(t, float64(2), testutil.ToFloat64(a.metrics.cycles.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.metrics.events.WithLabelValues("update", "dropped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.metrics.events.WithLabelValues("update", "sent")))
	assert.Equal(t, float64(20), testutil.ToFloat64(a.metrics.headNumber))
	assert.Equal(t, float64(10), testutil.ToFloat64(a.metrics.peers))

	node.lock.Lock()
	node.peersErr = fmt.Errorf("connection refused")
	node.lock.Unlock()
	a.update()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.metrics.cycles.WithLabelValues("failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.metrics.nodeErrors.WithLabelValues("LivenessUnreachable")))
}

func TestAgent_StartClose(t *testing.T) {
	node := newMockNode()
	node.setHead(20)

	transport := &mockTransport{connected: true}
	a := testAgent(t, node, transport)

	a.Start()

	// hello right away since the transport is already open
	assert.Len(t, transport.eventsOf("hello"), 1)

	// the first cycle does not wait for the timer
	assert.Eventually(t, func() bool {
		return len(transport.eventsOf("update")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, a.Close())
	assert.True(t, transport.closed)

	// close twice is fine
	assert.NoError(t, a.Close())
}

func TestAgent_StartTwice(t *testing.T) {
	node := newMockNode()
	node.setHead(20)

	transport := &mockTransport{connected: true}
	a := testAgent(t, node, transport)

	a.Start()
	a.Start()

	// a single hello handler and a single update loop
	assert.Len(t, transport.eventsOf("hello"), 1)
	assert.Eventually(t, func() bool {
		return len(transport.eventsOf("update")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, transport.eventsOf("update"), 1)

	transport.open()
	assert.Len(t, transport.eventsOf("hello"), 2)

	assert.NoError(t, a.Close())
}

func TestAgent_CloseDropsCycle(t *testing.T) {
	node := newMockNode()
	node.setHead(20)
	node.block = true

	transport := &mockTransport{connected: true}
	a := testAgent(t, node, transport)
	a.Start()

	assert.Eventually(t, func() bool {
		node.lock.Lock()
		defer node.lock.Unlock()
		return node.peerQueries == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, a.Close())

	// the abandoned cycle is not merged nor sent
	assert.Empty(t, transport.eventsOf("update"))
	assert.Equal(t, 0, a.Stats().Uptime.Inc)
}

func TestAgent_SingleCycle(t *testing.T) {
	node := newMockNode()
	node.setHead(20)
	node.delay = 5 * time.Millisecond

	config := DefaultConfig()
	config.UpdateInterval = 10 * time.Millisecond

	a, err := NewAgent(nil, config, nil, node, &mockTransport{connected: true})
	require.NoError(t, err)
	a.Start()

	for i := 0; i < 50; i++ {
		a.Trigger()
		time.Sleep(2 * time.Millisecond)
	}
	assert.NoError(t, a.Close())

	node.lock.Lock()
	defer node.lock.Unlock()

	assert.Greater(t, node.peerQueries, 1)
	assert.Equal(t, 1, node.maxInflight)
}

func TestAgent_Watcher(t *testing.T) {
	node := newMockNode()
	node.setHead(20)

	watcher := &mockWatcher{}
	transport := &mockTransport{connected: true}
	a := testAgent(t, node, transport, WithWatcher(watcher))
	a.Start()
	defer a.Close()

	assert.Eventually(t, func() bool {
		return len(transport.eventsOf("update")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	watcher.pendingFn(5)
	assert.Equal(t, 5, a.Stats().Pending)

	// a new block triggers a cycle before the timer
	node.setHead(21)
	watcher.blockFn()

	assert.Eventually(t, func() bool {
		return len(transport.eventsOf("update")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	updates := transport.eventsOf("update")
	snapshot := updates[1].payload.(*Snapshot)
	assert.Equal(t, uint64(21), snapshot.Stats.Block.Number)
	assert.Equal(t, 5, snapshot.Stats.Pending)
}

func TestAgent_WatchUnsupported(t *testing.T) {
	node := newMockNode()
	node.setHead(20)

	transport := &mockTransport{connected: true}
	a := testAgent(t, node, transport, WithWatcher(&mockWatcher{err: ErrWatchUnsupported}))
	a.Start()
	defer a.Close()

	// the timer keeps the agent going
	assert.Eventually(t, func() bool {
		return len(transport.eventsOf("update")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, a.subs)
}

func TestAgent_Config(t *testing.T) {
	node := newMockNode()

	config := DefaultConfig()
	config.CollectorURL = ""

	_, err := NewAgent(nil, config, nil, node, &mockTransport{})
	assert.Error(t, err)

	_, err = NewAgent(nil, nil, nil, nil, &mockTransport{})
	assert.Error(t, err)

	_, err = NewAgent(nil, nil, nil, node, nil)
	assert.Error(t, err)

	a, err := NewAgent(nil, nil, nil, node, &mockTransport{})
	assert.NoError(t, err)
	assert.Equal(t, "Local Node", a.Info().Name)
	assert.Equal(t, "eth version 0.8.1", a.Info().Node)
}

func TestAgent_Collector(t *testing.T) {
	handler := newChHandler()
	srv := newMockWsServer(t, "", handler.handle)
	defer srv.close()

	node := newMockNode()
	node.setHead(20)

	transport := newWsClient(nil, srv.addr)
	a := testAgent(t, node, transport)

	a.Start()
	transport.start()
	defer a.Close()

	// hello is always the first message of a connection
	assert.Equal(t, "hello", handler.recvMsg(t, 2*time.Second).msgType())

	// the update loop runs on its own, trigger a cycle once connected
	a.Trigger()

	msg := handler.recvMsg(t, 2*time.Second)
	assert.Equal(t, "update", msg.msgType())

	var stats Stats
	assert.NoError(t, msg.decodeMsg("stats", &stats))
	assert.Equal(t, uint64(20), stats.Block.Number)
	assert.Len(t, stats.Blocks, MaxBlocksHistory)
}
