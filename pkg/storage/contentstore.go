package storage

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/ristretto/v2"

	"github.com/latticegraph/lattice/pkg/address"
	"github.com/latticegraph/lattice/pkg/element"
)

// MemoryContentStore is a process-local ContentStore, the one
// NewStorage installs unless WithContentStore supplies another (a
// Badger data directory does not change this): a plain mutex-guarded
// map plus a reverse index for the "find by checksum" query.
type MemoryContentStore struct {
	mu      sync.RWMutex
	blobs   map[[element.ChecksumLen]byte][]byte
	byIndex map[[element.ChecksumLen]byte][]address.Address
}

// NewMemoryContentStore returns an empty MemoryContentStore.
func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{
		blobs:   make(map[[element.ChecksumLen]byte][]byte),
		byIndex: make(map[[element.ChecksumLen]byte][]address.Address),
	}
}

func (m *MemoryContentStore) Put(checksum [element.ChecksumLen]byte, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[checksum] = cp
	return nil
}

func (m *MemoryContentStore) Get(checksum [element.ChecksumLen]byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[checksum]
	return data, ok, nil
}

func (m *MemoryContentStore) FindByChecksum(checksum [element.ChecksumLen]byte) ([]address.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]address.Address(nil), m.byIndex[checksum]...), nil
}

func (m *MemoryContentStore) IndexAddress(checksum [element.ChecksumLen]byte, addr address.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byIndex[checksum] {
		if a == addr {
			return nil
		}
	}
	m.byIndex[checksum] = append(m.byIndex[checksum], addr)
	return nil
}

// contentPrefix / indexPrefix are single-byte key prefixes separating
// content-blob keys from checksum-index keys in the same keyspace.
const (
	contentPrefix = byte(0x02)
	indexPrefix   = byte(0x03)
)

// BadgerContentStore persists link content in the same BadgerDB
// handle BadgerPersistence uses for segment data, under a disjoint key
// prefix.
type BadgerContentStore struct {
	db *badger.DB
}

// NewBadgerContentStore wraps an already-open badger.DB.
func NewBadgerContentStore(db *badger.DB) *BadgerContentStore {
	return &BadgerContentStore{db: db}
}

func contentKey(checksum [element.ChecksumLen]byte) []byte {
	k := make([]byte, 1+element.ChecksumLen)
	k[0] = contentPrefix
	copy(k[1:], checksum[:])
	return k
}

func indexKey(checksum [element.ChecksumLen]byte, addr address.Address) []byte {
	k := make([]byte, 1+element.ChecksumLen+8)
	k[0] = indexPrefix
	copy(k[1:], checksum[:])
	putAddr(k[1+element.ChecksumLen:], addr)
	return k
}

func putAddr(dst []byte, addr address.Address) {
	dst[0] = byte(addr.Segment >> 24)
	dst[1] = byte(addr.Segment >> 16)
	dst[2] = byte(addr.Segment >> 8)
	dst[3] = byte(addr.Segment)
	dst[4] = byte(addr.Offset >> 24)
	dst[5] = byte(addr.Offset >> 16)
	dst[6] = byte(addr.Offset >> 8)
	dst[7] = byte(addr.Offset)
}

func parseAddr(src []byte) address.Address {
	seg := uint32(src[0])<<24 | uint32(src[1])<<16 | uint32(src[2])<<8 | uint32(src[3])
	off := uint32(src[4])<<24 | uint32(src[5])<<16 | uint32(src[6])<<8 | uint32(src[7])
	return address.New(seg, off)
}

func (b *BadgerContentStore) Put(checksum [element.ChecksumLen]byte, data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(contentKey(checksum), data)
	})
}

func (b *BadgerContentStore) Get(checksum [element.ChecksumLen]byte) ([]byte, bool, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(contentKey(checksum))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return data, data != nil, nil
}

func (b *BadgerContentStore) FindByChecksum(checksum [element.ChecksumLen]byte) ([]address.Address, error) {
	var addrs []address.Address
	prefix := append([]byte{indexPrefix}, checksum[:]...)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			addrs = append(addrs, parseAddr(key[1+element.ChecksumLen:]))
		}
		return nil
	})
	return addrs, err
}

func (b *BadgerContentStore) IndexAddress(checksum [element.ChecksumLen]byte, addr address.Address) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexKey(checksum, addr), []byte{})
	})
}

// CachedContentStore wraps any ContentStore with a ristretto cache
// keyed by an xxhash-derived fingerprint of the checksum, avoiding
// repeated backing-store reads for hot link content, the corpus's
// standard xxhash-key-into-ristretto combination, grounded on the
// teacher's pkg/cache/query_cache.go (a cache in front of a slower
// lookup) with ristretto replacing its hand-rolled LRU.
type CachedContentStore struct {
	backing ContentStore
	cache   *ristretto.Cache[uint64, []byte]
	index   *ristretto.Cache[uint64, []address.Address]
}

// NewCachedContentStore builds a CachedContentStore in front of backing.
func NewCachedContentStore(backing ContentStore) (*CachedContentStore, error) {
	blobCache, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: 1e6,
		MaxCost:     64 << 20, // 64MiB of cached content
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("content cache: %w", err)
	}
	idxCache, err := ristretto.NewCache(&ristretto.Config[uint64, []address.Address]{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("content index cache: %w", err)
	}
	return &CachedContentStore{backing: backing, cache: blobCache, index: idxCache}, nil
}

func checksumKey(checksum [element.ChecksumLen]byte) uint64 {
	return xxhash.Sum64(checksum[:])
}

func (c *CachedContentStore) Put(checksum [element.ChecksumLen]byte, data []byte) error {
	if err := c.backing.Put(checksum, data); err != nil {
		return err
	}
	c.cache.Del(checksumKey(checksum))
	return nil
}

func (c *CachedContentStore) Get(checksum [element.ChecksumLen]byte) ([]byte, bool, error) {
	key := checksumKey(checksum)
	if v, ok := c.cache.Get(key); ok {
		return v, true, nil
	}
	data, ok, err := c.backing.Get(checksum)
	if err != nil || !ok {
		return data, ok, err
	}
	c.cache.Set(key, data, int64(len(data)))
	return data, true, nil
}

func (c *CachedContentStore) FindByChecksum(checksum [element.ChecksumLen]byte) ([]address.Address, error) {
	key := checksumKey(checksum)
	if v, ok := c.index.Get(key); ok {
		return v, nil
	}
	addrs, err := c.backing.FindByChecksum(checksum)
	if err != nil {
		return nil, err
	}
	c.index.Set(key, addrs, int64(len(addrs)+1))
	return addrs, nil
}

func (c *CachedContentStore) IndexAddress(checksum [element.ChecksumLen]byte, addr address.Address) error {
	if err := c.backing.IndexAddress(checksum, addr); err != nil {
		return err
	}
	c.index.Del(checksumKey(checksum))
	return nil
}
