package ethstats

import (
	"math/big"
)

// MaxBlocksHistory is the number of recent blocks kept to compute block times.
const MaxBlocksHistory = 12

// blockHistory is a bounded list of recent blocks ordered newest first.
type blockHistory struct {
	capacity int
	list     []*Block

	// floor is the timestamp of the last evicted block. It stands in for the
	// predecessor of the oldest block still in the history, 0 until the first
	// eviction.
	floor int64
}

func newBlockHistory(capacity int) *blockHistory {
	if capacity <= 0 {
		capacity = MaxBlocksHistory
	}
	return &blockHistory{
		capacity: capacity,
		list:     make([]*Block, 0, capacity),
	}
}

// insert prepends the block as the new head, evicting the tail when full.
func (h *blockHistory) insert(b *Block) {
	if len(h.list) == h.capacity {
		h.floor = h.list[h.capacity-1].Timestamp
		h.list = h.list[:h.capacity-1]
	}
	h.list = append(h.list, nil)
	copy(h.list[1:], h.list)
	h.list[0] = b
}

// newest returns the head of the history or nil if empty.
func (h *blockHistory) newest() *Block {
	if len(h.list) == 0 {
		return nil
	}
	return h.list[0]
}

func (h *blockHistory) reset() {
	h.list = h.list[:0]
	h.floor = 0
}

// computeBlockTimes sets the block time of every entry. The oldest entry is
// measured against floor.
func (h *blockHistory) computeBlockTimes(floor int64) {
	for i, b := range h.list {
		prev := floor
		if i+1 < len(h.list) {
			prev = h.list[i+1].Timestamp
		}
		diff := b.Timestamp - prev
		b.BlockTime = &diff
	}
}

// average is the mean block time of the history, 0 when there is no data.
func (h *blockHistory) average() float64 {
	var sum int64
	var count int
	for _, b := range h.list {
		if b.BlockTime == nil {
			continue
		}
		sum += *b.BlockTime
		count++
	}
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}

func (h *blockHistory) difficultySeries() []*argBig {
	res := make([]*argBig, 0, len(h.list))
	for _, b := range h.list {
		if b.Difficulty == nil {
			res = append(res, argBigPtr(big.NewInt(0)))
		} else {
			res = append(res, argBigPtr(b.Difficulty.Int()))
		}
	}
	return res
}

// blocks returns copies of the entries, newest first.
func (h *blockHistory) blocks() []*Block {
	res := make([]*Block, 0, len(h.list))
	for _, b := range h.list {
		res = append(res, b.copy())
	}
	return res
}
