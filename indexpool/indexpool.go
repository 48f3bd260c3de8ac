// Package indexpool implements a flat bit array of free/in-use slots.
// Acquire and Release favor genuine multi-writer safety: both are
// CAS-retry loops over individual atomic.Uint64 blocks, following a
// lock-free-map idiom of looping on a compare-and-swap until it lands
// instead of taking a lock.
package indexpool

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/moonsugar-systems/moonsugar/errs"
)

// Sentinel is returned by Acquire when the pool has no free index.
const Sentinel = ^uintptr(0)

const blockBits = 64

// Pool is a bitmap of item_count/64 atomic.Uint64 blocks. Acquire and
// Release are safe for concurrent use by multiple goroutines; Resize is
// not and must only be called when no Acquire/Release is in flight.
type Pool struct {
	blocks    []atomic.Uint64
	itemCount uintptr
	lastState atomic.Uint64
	log       *logrus.Entry
}

// New creates a Pool over itemCount slots, all initially free. itemCount
// must be a multiple of 64.
func New(itemCount uintptr, opts ...Option) (*Pool, error) {
	if itemCount == 0 || itemCount%blockBits != 0 {
		return nil, errs.New("indexpool.New", errs.InvalidArgument, fmt.Errorf("item count %d must be a nonzero multiple of %d", itemCount, blockBits))
	}

	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	log := cfg.logger
	if log == nil {
		log = logrus.WithField("component", "indexpool")
	}

	return &Pool{
		blocks:    make([]atomic.Uint64, itemCount/blockBits),
		itemCount: itemCount,
		log:       log,
	}, nil
}

// Option configures a Pool.
type Option func(*config)

type config struct {
	logger *logrus.Entry
}

// WithLogger attaches a structured logger.
func WithLogger(entry *logrus.Entry) Option {
	return func(c *config) { c.logger = entry }
}

// ItemCount returns the pool's current capacity.
func (p *Pool) ItemCount() uintptr { return p.itemCount }

// Acquire performs a rotating search starting from the block last
// touched by a successful acquire, returning the first clear bit found
// and Sentinel if the pool is full.
func (p *Pool) Acquire() uintptr {
	n := len(p.blocks)
	if n == 0 {
		return Sentinel
	}

	start := int(p.lastState.Load() % uint64(n))

	for i := 0; i < n; i++ {
		b := (start + i) % n
		block := &p.blocks[b]

		for {
			cur := block.Load()
			if cur == ^uint64(0) {
				break
			}

			bit := bits.TrailingZeros64(^cur)
			next := cur | (uint64(1) << uint(bit))

			if block.CompareAndSwap(cur, next) {
				p.lastState.Store(uint64(b))

				return uintptr(b)*blockBits + uintptr(bit)
			}
			// Lost the race to another acquirer touching the same
			// block; reload and retry.
		}
	}

	return Sentinel
}

// Release clears index's bit. Releasing an index that is already free
// reports an invalid-argument error (double-release detection) rather
// than panicking.
func (p *Pool) Release(index uintptr) error {
	block, bit, err := p.locate(index)
	if err != nil {
		return err
	}

	mask := uint64(1) << uint(bit)

	for {
		cur := block.Load()
		if cur&mask == 0 {
			fp := xxhash.Sum64(indexFingerprint(index))
			p.log.WithFields(logrus.Fields{"index": index, "fingerprint": fp}).Warn("double release detected")

			return errs.New("indexpool.Release", errs.InvalidArgument, fmt.Errorf("index %d is already free", index))
		}

		next := cur &^ mask
		if block.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

func (p *Pool) locate(index uintptr) (*atomic.Uint64, uintptr, error) {
	if index >= p.itemCount {
		return nil, 0, errs.New("indexpool.locate", errs.InvalidArgument, fmt.Errorf("index %d out of range [0, %d)", index, p.itemCount))
	}

	return &p.blocks[index/blockBits], index % blockBits, nil
}

func indexFingerprint(index uintptr) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(index >> (8 * i))
	}

	return b
}

// Resize grows or shrinks the pool to newCount slots, which must be a
// multiple of 64. Growing zeroes the new tail; shrinking truncates.
// last_state is reset. Callers must ensure no concurrent Acquire or
// Release is in flight.
func (p *Pool) Resize(newCount uintptr) error {
	if newCount == 0 || newCount%blockBits != 0 {
		return errs.New("indexpool.Resize", errs.InvalidArgument, fmt.Errorf("new count %d must be a nonzero multiple of %d", newCount, blockBits))
	}

	newBlocks := make([]atomic.Uint64, newCount/blockBits)

	copyBlocks := len(newBlocks)
	if len(p.blocks) < copyBlocks {
		copyBlocks = len(p.blocks)
	}

	for i := 0; i < copyBlocks; i++ {
		newBlocks[i].Store(p.blocks[i].Load())
	}

	p.blocks = newBlocks
	p.itemCount = newCount
	p.lastState.Store(0)

	return nil
}

// InUse reports the total number of set bits across every block. It is
// a point-in-time snapshot under concurrent use.
func (p *Pool) InUse() int {
	count := 0
	for i := range p.blocks {
		count += bits.OnesCount64(p.blocks[i].Load())
	}

	return count
}
