package ethstats

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math/big"
	"reflect"
	"strings"
)

// sentinelHash marks a block whose contents are unknown or not available yet.
const sentinelHash = "?"

// Block is the information reported about an individual block.
type Block struct {
	Number     uint64  `json:"number"`
	Hash       string  `json:"hash"`
	Difficulty *argBig `json:"difficulty"`
	Timestamp  int64   `json:"timestamp"`

	// BlockTime is the distance in seconds to the previous block in the
	// history. It stays nil until the history computes it.
	BlockTime *int64 `json:"blocktime"`
}

func sentinelBlock() *Block {
	return &Block{
		Hash:       sentinelHash,
		Difficulty: argBigPtr(big.NewInt(0)),
	}
}

func (b *Block) isSentinel() bool {
	return b.Hash == sentinelHash
}

func (b *Block) copy() *Block {
	bb := new(Block)
	*bb = *b
	if b.Difficulty != nil {
		bb.Difficulty = argBigPtr(b.Difficulty.Int())
	}
	if b.BlockTime != nil {
		v := *b.BlockTime
		bb.BlockTime = &v
	}
	return bb
}

// ErrorCode identifies the kind of failure recorded during a poll cycle.
type ErrorCode string

const (
	// LivenessUnreachable is recorded when the peer count query fails.
	LivenessUnreachable ErrorCode = "1"

	// BlockFetchFailed is recorded when a single block could not be fetched.
	BlockFetchFailed ErrorCode = "2"

	// HeadNumberParseFailed is recorded when the latest block number could
	// not be queried or decoded.
	HeadNumberParseFailed ErrorCode = "3"

	// StatusQueryFailed is recorded when the mining, gas price or listening
	// query fails.
	StatusQueryFailed ErrorCode = "4"
)

func (c ErrorCode) Name() string {
	switch c {
	case LivenessUnreachable:
		return "LivenessUnreachable"
	case BlockFetchFailed:
		return "BlockFetchFailed"
	case HeadNumberParseFailed:
		return "HeadNumberParseFailed"
	case StatusQueryFailed:
		return "StatusQueryFailed"
	default:
		return "Unknown"
	}
}

type StatsError struct {
	Code ErrorCode `json:"code"`
	Msg  string    `json:"msg"`
}

type Uptime struct {
	Down  int     `json:"down"`
	Inc   int     `json:"inc"`
	Total float64 `json:"total"`
}

// Stats is the aggregate reported about the local node on every update.
type Stats struct {
	Active       bool         `json:"active"`
	Listening    bool         `json:"listening"`
	Mining       bool         `json:"mining"`
	Peers        int          `json:"peers"`
	Pending      int          `json:"pending"`
	GasPrice     *argBig      `json:"gasPrice"`
	Block        *Block       `json:"block"`
	Blocks       []*Block     `json:"blocks"`
	BlockTimeAvg float64      `json:"blocktimeAvg"`
	Difficulty   []*argBig    `json:"difficulty"`
	Uptime       Uptime       `json:"uptime"`
	Errors       []StatsError `json:"errors"`
}

func newStats() *Stats {
	return &Stats{
		GasPrice:   argBigPtr(big.NewInt(0)),
		Block:      sentinelBlock(),
		Blocks:     []*Block{},
		Difficulty: []*argBig{},
		Errors:     []StatsError{},
	}
}

// Copy returns a deep copy of the stats, safe to hand out to other goroutines.
func (s *Stats) Copy() *Stats {
	ss := new(Stats)
	*ss = *s

	if s.GasPrice != nil {
		ss.GasPrice = argBigPtr(s.GasPrice.Int())
	}
	if s.Block != nil {
		ss.Block = s.Block.copy()
	}
	ss.Blocks = make([]*Block, 0, len(s.Blocks))
	for _, b := range s.Blocks {
		ss.Blocks = append(ss.Blocks, b.copy())
	}
	ss.Difficulty = make([]*argBig, 0, len(s.Difficulty))
	for _, d := range s.Difficulty {
		ss.Difficulty = append(ss.Difficulty, argBigPtr(d.Int()))
	}
	ss.Errors = append([]StatsError{}, s.Errors...)
	return ss
}

// Snapshot is the payload of the 'update' event.
type Snapshot struct {
	ID    string `json:"id"`
	Stats *Stats `json:"stats"`
}

// NodeInfo is the identity of the agent displayed on the monitoring page.
// It is the payload of the 'hello' event.
type NodeInfo struct {
	ID    string `json:"id" db:"node_id"`
	Name  string `json:"name" db:"name"`
	Node  string `json:"node" db:"node"`
	Os    string `json:"os" db:"os"`
	OsVer string `json:"os_v" db:"osver"`
}

type argBig big.Int

func argBigPtr(b *big.Int) *argBig {
	v := argBig(*new(big.Int).Set(b))
	return &v
}

// Int returns a copy of the value, zero for a nil receiver.
func (a *argBig) Int() *big.Int {
	if a == nil {
		return new(big.Int)
	}
	return new(big.Int).Set((*big.Int)(a))
}

func (a *argBig) String() string {
	return a.Int().String()
}

// MarshalJSON encodes the value as a plain decimal number.
func (a *argBig) MarshalJSON() ([]byte, error) {
	return []byte(a.Int().String()), nil
}

// UnmarshalJSON accepts decimal numbers and quoted decimal or 0x-prefixed hex strings.
func (a *argBig) UnmarshalJSON(input []byte) error {
	str := strings.Trim(string(input), `"`)

	b := new(big.Int)
	var ok bool
	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		_, ok = b.SetString(str[2:], 16)
	} else {
		_, ok = b.SetString(str, 10)
	}
	if !ok {
		return fmt.Errorf("cannot decode big number %s", str)
	}
	*a = argBig(*b)
	return nil
}

func (a *argBig) Value() (driver.Value, error) {
	return a.Int().String(), nil
}

func (a *argBig) Scan(value interface{}) error {
	var i sql.NullString
	if err := i.Scan(value); err != nil {
		return err
	}
	if _, ok := (*big.Int)(a).SetString(i.String, 10); ok {
		return nil
	}
	return fmt.Errorf("cannot convert to big.Int (%s)", reflect.TypeOf(value))
}
