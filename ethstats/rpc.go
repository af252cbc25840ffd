package ethstats

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// pendingUpdateInterval throttles the pending transaction count queries
const pendingUpdateInterval = 1 * time.Second

// RPCNode queries the node over its JSON-RPC endpoint. It also pushes new
// heads and pending transactions when the endpoint supports subscriptions.
type RPCNode struct {
	logger hclog.Logger
	client *rpc.Client
	eth    *ethclient.Client

	queryTimeout time.Duration
}

// NewRPCNode dials the node. queryTimeout bounds the queries the node
// issues on its own, like the pending count, and defaults when not positive.
func NewRPCNode(ctx context.Context, logger hclog.Logger, endpoint string, queryTimeout time.Duration) (*RPCNode, error) {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", endpoint)
	}
	return newRPCNodeWithClient(logger, client, queryTimeout), nil
}

func newRPCNodeWithClient(logger hclog.Logger, client *rpc.Client, queryTimeout time.Duration) *RPCNode {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &RPCNode{
		logger:       logger,
		client:       client,
		eth:          ethclient.NewClient(client),
		queryTimeout: queryTimeout,
	}
}

func (n *RPCNode) PeerCount(ctx context.Context) (int, error) {
	peers, err := n.eth.PeerCount(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "net_peerCount")
	}
	return int(peers), nil
}

func (n *RPCNode) LatestBlockNumber(ctx context.Context) (uint64, error) {
	num, err := n.eth.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "eth_blockNumber")
	}
	return num, nil
}

// rpcBlock holds the fields of eth_getBlockByNumber the agent reports
type rpcBlock struct {
	Number     *hexutil.Big   `json:"number"`
	Hash       common.Hash    `json:"hash"`
	Difficulty *hexutil.Big   `json:"difficulty"`
	Timestamp  hexutil.Uint64 `json:"timestamp"`
}

func (n *RPCNode) BlockByNumber(ctx context.Context, number *big.Int) (*Block, error) {
	var raw json.RawMessage
	if err := n.client.CallContext(ctx, &raw, "eth_getBlockByNumber", toBlockNumArg(number), false); err != nil {
		return nil, errors.Wrap(err, "eth_getBlockByNumber")
	}
	if len(raw) == 0 || string(raw) == "null" {
		// not available yet
		return sentinelBlock(), nil
	}

	var obj rpcBlock
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errors.Wrap(err, "failed to decode block")
	}
	if obj.Number == nil {
		return nil, errors.New("block without number")
	}

	b := &Block{
		Number:     obj.Number.ToInt().Uint64(),
		Hash:       obj.Hash.Hex(),
		Difficulty: argBigPtr(big.NewInt(0)),
		Timestamp:  int64(obj.Timestamp),
	}
	if obj.Difficulty != nil {
		b.Difficulty = argBigPtr(obj.Difficulty.ToInt())
	}
	return b, nil
}

func (n *RPCNode) IsMining(ctx context.Context) (bool, error) {
	var mining bool
	if err := n.client.CallContext(ctx, &mining, "eth_mining"); err != nil {
		return false, errors.Wrap(err, "eth_mining")
	}
	return mining, nil
}

func (n *RPCNode) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := n.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "eth_gasPrice")
	}
	return price, nil
}

func (n *RPCNode) IsListening(ctx context.Context) (bool, error) {
	var listening bool
	if err := n.client.CallContext(ctx, &listening, "net_listening"); err != nil {
		return false, errors.Wrap(err, "net_listening")
	}
	return listening, nil
}

func (n *RPCNode) WatchNewBlocks(ctx context.Context, fn func()) (event.Subscription, error) {
	headCh := make(chan json.RawMessage, 16)
	sub, err := n.client.EthSubscribe(ctx, headCh, "newHeads")
	if err != nil {
		return nil, watchError("newHeads", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()

		for {
			select {
			case <-headCh:
				fn()
			case err := <-sub.Err():
				n.logger.Warn("new heads subscription dropped", "err", err)
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// WatchPendingTransactions calls fn with the pending transaction count of
// the node, at most once per second.
func (n *RPCNode) WatchPendingTransactions(ctx context.Context, fn func(count int)) (event.Subscription, error) {
	txCh := make(chan common.Hash, 64)
	sub, err := n.client.EthSubscribe(ctx, txCh, "newPendingTransactions")
	if err != nil {
		return nil, watchError("newPendingTransactions", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()

		var lastUpdate time.Time
		for {
			select {
			case <-txCh:
				if time.Since(lastUpdate) < pendingUpdateInterval {
					continue
				}
				lastUpdate = time.Now()

				count, err := n.pendingCount()
				if err != nil {
					n.logger.Debug("failed to query pending count", "err", err)
					continue
				}
				fn(count)

			case err := <-sub.Err():
				n.logger.Warn("pending transactions subscription dropped", "err", err)
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (n *RPCNode) pendingCount() (int, error) {
	ctx, cancelFn := context.WithTimeout(context.Background(), n.queryTimeout)
	defer cancelFn()

	count, err := n.eth.PendingTransactionCount(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "eth_getBlockTransactionCountByNumber")
	}
	return int(count), nil
}

func (n *RPCNode) Close() {
	n.client.Close()
}

func watchError(name string, err error) error {
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		return ErrWatchUnsupported
	}
	return errors.Wrapf(err, "failed to subscribe to %s", name)
}

func toBlockNumArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	return hexutil.EncodeBig(number)
}

var (
	_ NodeQuery = (*RPCNode)(nil)
	_ Watcher   = (*RPCNode)(nil)
)
