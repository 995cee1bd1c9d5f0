// Package index implements the persistent, capacity-bounded similarity index
// over 128-bit function fingerprints.
//
// The index stores (fingerprint, origin) entries append-only in a Pebble
// keyspace and answers Hamming-distance range queries with multi-index
// probing: the fingerprint is split into four contiguous 32-bit blocks and
// every entry is posted under each block's bit pattern. Two fingerprints at
// small Hamming distance must agree (or nearly agree) on at least one block,
// so a query only inspects the entries sharing a probed block pattern instead
// of scanning the whole index.
package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wwzcrack/functionsimsearch/pkg/simhash"
)

// Key prefixes simulate logical buckets in Pebble's flat key space.
// Keep these short to minimize storage overhead per key.
var (
	prefixEntry = []byte("ent:") // ent:<seq BE64> -> packed entry record
	prefixMeta  = []byte("meta:")
	// prefixBlock(i), i in [0,NumBlocks): b<i>:<pattern BE32><seq BE64> -> nil
)

const (
	// FormatVersion is checked at open time; a mismatch is fatal.
	FormatVersion = 1

	// indexMagic identifies the manifest record.
	indexMagic = "fss-simhash-index"

	// NumBlocks is the number of contiguous fingerprint sub-blocks with
	// their own posting bucket. Part of the persisted format.
	NumBlocks = 4
	// BlockBits is the bit width of one sub-block.
	BlockBits = simhash.FingerprintBits / NumBlocks

	// DefaultCapacity is the byte budget of a freshly created index.
	DefaultCapacity = 256 << 20

	// entryMagic prefixes every packed entry record.
	entryMagic byte = 0x01
)

// Error kinds surfaced by the index. Callers branch with errors.Is.
var (
	// ErrNotFound: the index does not exist and creation was not requested.
	ErrNotFound = errors.New("index not found")
	// ErrCorrupt: the backing store exists but its manifest is missing or
	// undecodable. Fatal for this index instance.
	ErrCorrupt = errors.New("index corrupt")
	// ErrVersionMismatch: the on-disk format or geometry differs from what
	// this binary supports. Fatal, never silently downgraded.
	ErrVersionMismatch = errors.New("index version mismatch")
	// ErrIndexFull: the insert would exceed the capacity budget. Recoverable;
	// nothing was written.
	ErrIndexFull = errors.New("index full")
	// ErrReadOnly: a mutation was attempted on a read-only index.
	ErrReadOnly = errors.New("index opened read-only")
)

// manifest is the self-describing header of an index, stored as msgpack under
// meta:manifest and validated on every open.
type manifest struct {
	Magic     string    `msgpack:"magic"`
	Version   int       `msgpack:"version"`
	Bits      int       `msgpack:"bits"`
	Blocks    int       `msgpack:"blocks"`
	Capacity  int64     `msgpack:"capacity"`
	CreatedAt time.Time `msgpack:"created_at"`
}

// Entry is one persisted (fingerprint, origin) record. Seq is the insertion
// sequence number, unique and monotonically increasing.
type Entry struct {
	Fingerprint simhash.Fingerprint
	FileID      uint64
	Address     uint64
	Seq         uint64
}

// Index is a persistent bounded-capacity similarity index. Add is serialized
// internally; Query runs lock-free against a snapshot. A single Index may be
// shared by any number of goroutines.
type Index struct {
	db       *pebble.DB
	mu       sync.Mutex // serializes Add/SetCapacity: capacity accounting + seq
	capacity int64
	used     int64
	seq      uint64
	readOnly bool
}

// Options configures Open.
type Options struct {
	// Create initializes a new index when none exists at the path.
	Create bool
	// Capacity is the byte budget for a newly created index. Zero means
	// DefaultCapacity. Ignored when opening an existing index.
	Capacity int64
	// ReadOnly opens the backing store without write access.
	ReadOnly bool
	// CacheSize is the Pebble block cache size in bytes (default 8MB).
	CacheSize int64
}

// Open opens or creates a similarity index. The manifest is validated before
// any operation: a missing index without Create fails with ErrNotFound, an
// unreadable manifest with ErrCorrupt, and a format or geometry mismatch with
// ErrVersionMismatch.
func Open(path string, opts Options) (*Index, error) {
	if opts.CacheSize == 0 {
		opts.CacheSize = 8 << 20
	}
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}

	if !opts.Create {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
	}

	pebbleOpts := &pebble.Options{
		Cache: pebble.NewCache(opts.CacheSize),
	}
	if opts.ReadOnly {
		pebbleOpts.ReadOnly = true
	}

	// Retry on transient lock contention: rapid restarts and CI pipelines
	// often hold the store lock for a few more milliseconds.
	var db *pebble.DB
	var err error
	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		db, err = pebble.Open(path, pebbleOpts)
		if err == nil {
			break
		}
		if strings.Contains(err.Error(), "lock") || strings.Contains(err.Error(), "temporarily unavailable") {
			time.Sleep(100 * time.Millisecond * time.Duration(1<<i))
			continue
		}
		return nil, fmt.Errorf("open index %q: %w", path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire index lock for %q after %d attempts: %w", path, maxRetries, err)
	}

	ix := &Index{db: db, readOnly: opts.ReadOnly}
	if err := ix.loadManifest(opts); err != nil {
		db.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *Index) loadManifest(opts Options) error {
	data, closer, err := ix.db.Get(metaKey("manifest"))
	switch {
	case err == nil:
		defer closer.Close()
		var m manifest
		if err := msgpack.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("%w: undecodable manifest: %v", ErrCorrupt, err)
		}
		if m.Magic != indexMagic {
			return fmt.Errorf("%w: bad magic %q", ErrCorrupt, m.Magic)
		}
		if m.Version != FormatVersion {
			return fmt.Errorf("%w: on-disk version %d, supported %d", ErrVersionMismatch, m.Version, FormatVersion)
		}
		if m.Bits != simhash.FingerprintBits || m.Blocks != NumBlocks {
			return fmt.Errorf("%w: geometry %d bits / %d blocks, supported %d/%d",
				ErrVersionMismatch, m.Bits, m.Blocks, simhash.FingerprintBits, NumBlocks)
		}
		ix.capacity = m.Capacity

		if ix.used, err = ix.readCounter("used"); err != nil {
			return err
		}
		seq, err := ix.readCounter("seq")
		if err != nil {
			return err
		}
		ix.seq = uint64(seq)
		return nil

	case err == pebble.ErrNotFound:
		if !opts.Create || opts.ReadOnly {
			return fmt.Errorf("%w: store exists but has no manifest", ErrCorrupt)
		}
		return ix.initManifest(opts.Capacity)

	default:
		return fmt.Errorf("read manifest: %w", err)
	}
}

func (ix *Index) initManifest(capacity int64) error {
	m := manifest{
		Magic:     indexMagic,
		Version:   FormatVersion,
		Bits:      simhash.FingerprintBits,
		Blocks:    NumBlocks,
		Capacity:  capacity,
		CreatedAt: time.Now().UTC(),
	}
	data, err := msgpack.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	batch := ix.db.NewBatch()
	defer batch.Close()
	batch.Set(metaKey("manifest"), data, pebble.Sync)
	batch.Set(metaKey("used"), encodeCounter(0), pebble.Sync)
	batch.Set(metaKey("seq"), encodeCounter(0), pebble.Sync)
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	ix.capacity = capacity
	return nil
}

func (ix *Index) readCounter(name string) (int64, error) {
	data, closer, err := ix.db.Get(metaKey(name))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s counter: %w", name, err)
	}
	defer closer.Close()
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: %s counter is %d bytes", ErrCorrupt, name, len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

// Add inserts one (fingerprint, origin) entry. It either fully commits the
// entry record, all block postings, and the accounting counters in one synced
// batch, or writes nothing: when the entry footprint would exceed the
// remaining capacity it fails with ErrIndexFull before touching the store.
// Safe for concurrent callers.
func (ix *Index) Add(fp simhash.Fingerprint, fileID, address uint64) error {
	if ix.readOnly {
		return ErrReadOnly
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	entKey := entryKey(ix.seq)
	entVal := encodeEntry(fp, fileID, address)

	footprint := int64(len(entKey) + len(entVal))
	postings := make([][]byte, NumBlocks)
	for b := 0; b < NumBlocks; b++ {
		postings[b] = postingKey(b, blockPattern(fp, b), ix.seq)
		footprint += int64(len(postings[b]))
	}

	if ix.used+footprint > ix.capacity {
		return fmt.Errorf("%w: %d bytes used of %d, entry needs %d", ErrIndexFull, ix.used, ix.capacity, footprint)
	}

	batch := ix.db.NewBatch()
	defer batch.Close()
	batch.Set(entKey, entVal, pebble.Sync)
	for _, pk := range postings {
		batch.Set(pk, nil, pebble.Sync)
	}
	batch.Set(metaKey("used"), encodeCounter(ix.used+footprint), pebble.Sync)
	batch.Set(metaKey("seq"), encodeCounter(int64(ix.seq+1)), pebble.Sync)

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit entry %d: %w", ix.seq, err)
	}
	ix.used += footprint
	ix.seq++
	return nil
}

// FreeSpace returns the remaining byte budget. The accounting is exact over
// the logical key/value bytes each entry consumes, so the value never
// overstates what Add will accept.
func (ix *Index) FreeSpace() int64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.capacity - ix.used
}

// Count returns the number of entries ever inserted.
func (ix *Index) Count() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.seq
}

// SetCapacity raises (or lowers, down to the current usage) the capacity
// budget. This is how a full index is grown in place.
func (ix *Index) SetCapacity(capacity int64) error {
	if ix.readOnly {
		return ErrReadOnly
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if capacity < ix.used {
		return fmt.Errorf("capacity %d below current usage %d", capacity, ix.used)
	}

	m := manifest{
		Magic:     indexMagic,
		Version:   FormatVersion,
		Bits:      simhash.FingerprintBits,
		Blocks:    NumBlocks,
		Capacity:  capacity,
		CreatedAt: time.Now().UTC(),
	}
	if data, closer, err := ix.db.Get(metaKey("manifest")); err == nil {
		var old manifest
		if msgpack.Unmarshal(data, &old) == nil {
			m.CreatedAt = old.CreatedAt
		}
		closer.Close()
	}

	data, err := msgpack.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := ix.db.Set(metaKey("manifest"), data, pebble.Sync); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	ix.capacity = capacity
	return nil
}

// Scan iterates all entries in insertion order, stopping early when fn
// returns false.
func (ix *Index) Scan(fn func(Entry) bool) error {
	upper := incrementLastByte(prefixEntry)
	iter, err := ix.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixEntry,
		UpperBound: upper,
	})
	if err != nil {
		return fmt.Errorf("entry iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefixEntry) {
			break
		}
		e, err := decodeEntry(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !fn(e) {
			return nil
		}
	}
	return iter.Error()
}

// Stats summarizes an index for reporting.
type Stats struct {
	Entries       uint64
	CapacityBytes int64
	UsedBytes     int64
	FreeBytes     int64
	DiskSpaceUsed int64
}

// Stat returns index statistics.
func (ix *Index) Stat() Stats {
	ix.mu.Lock()
	entries, capacity, used := ix.seq, ix.capacity, ix.used
	ix.mu.Unlock()

	metrics := ix.db.Metrics()
	return Stats{
		Entries:       entries,
		CapacityBytes: capacity,
		UsedBytes:     used,
		FreeBytes:     capacity - used,
		DiskSpaceUsed: int64(metrics.DiskSpaceUsage()),
	}
}

// Close flushes and closes the backing store.
func (ix *Index) Close() error {
	if ix.db == nil {
		return nil
	}
	if !ix.readOnly {
		if err := ix.db.Flush(); err != nil {
			ix.db.Close()
			return fmt.Errorf("flush index: %w", err)
		}
	}
	return ix.db.Close()
}

// -- key/value encoding --

func metaKey(name string) []byte {
	return append(append([]byte(nil), prefixMeta...), name...)
}

func entryKey(seq uint64) []byte {
	key := make([]byte, len(prefixEntry)+8)
	copy(key, prefixEntry)
	binary.BigEndian.PutUint64(key[len(prefixEntry):], seq)
	return key
}

func blockPrefix(block int) []byte {
	return []byte{'b', byte('0' + block), ':'}
}

func postingKey(block int, pattern uint32, seq uint64) []byte {
	key := make([]byte, 3+4+8)
	copy(key, blockPrefix(block))
	binary.BigEndian.PutUint32(key[3:], pattern)
	binary.BigEndian.PutUint64(key[7:], seq)
	return key
}

// blockPattern slices block b out of the fingerprint. Block 0 holds output
// bits 0-31 (the low half of A), block 3 bits 96-127. Part of the persisted
// format.
func blockPattern(fp simhash.Fingerprint, block int) uint32 {
	switch block {
	case 0:
		return uint32(fp.A)
	case 1:
		return uint32(fp.A >> 32)
	case 2:
		return uint32(fp.B)
	default:
		return uint32(fp.B >> 32)
	}
}

func encodeEntry(fp simhash.Fingerprint, fileID, address uint64) []byte {
	val := make([]byte, 1+4*8)
	val[0] = entryMagic
	binary.LittleEndian.PutUint64(val[1:9], fp.A)
	binary.LittleEndian.PutUint64(val[9:17], fp.B)
	binary.LittleEndian.PutUint64(val[17:25], fileID)
	binary.LittleEndian.PutUint64(val[25:33], address)
	return val
}

func decodeEntry(key, val []byte) (Entry, error) {
	if len(key) != len(prefixEntry)+8 {
		return Entry{}, fmt.Errorf("%w: entry key length %d", ErrCorrupt, len(key))
	}
	if len(val) != 33 || val[0] != entryMagic {
		return Entry{}, fmt.Errorf("%w: malformed entry record (%d bytes)", ErrCorrupt, len(val))
	}
	return Entry{
		Seq: binary.BigEndian.Uint64(key[len(prefixEntry):]),
		Fingerprint: simhash.Fingerprint{
			A: binary.LittleEndian.Uint64(val[1:9]),
			B: binary.LittleEndian.Uint64(val[9:17]),
		},
		FileID:  binary.LittleEndian.Uint64(val[17:25]),
		Address: binary.LittleEndian.Uint64(val[25:33]),
	}, nil
}

func encodeCounter(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func incrementLastByte(prefix []byte) []byte {
	result := make([]byte, len(prefix))
	copy(result, prefix)
	for i := len(result) - 1; i >= 0; i-- {
		if result[i] < 0xff {
			result[i]++
			return result
		}
		result[i] = 0
	}
	return nil
}
