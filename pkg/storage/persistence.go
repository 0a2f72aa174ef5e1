package storage

import (
	"encoding/binary"
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/latticegraph/lattice/pkg/address"
	"github.com/latticegraph/lattice/pkg/element"
)

// segmentPrefix is a single-byte key prefix covering every persisted
// element slot, keyed by
// (segment number, offset) instead of a Neo4j-style string id.
const segmentPrefix = byte(0x01)

// elementSize is the fixed on-disk width of one encoded element: a
// 4-byte type, a 32-byte checksum, and eight 8-byte addresses (the six
// arc payload addresses plus the two incidence-list heads).
const elementSize = 4 + element.ChecksumLen + 8*8

func encodeElement(el element.Element) []byte {
	buf := make([]byte, elementSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(el.Type))
	copy(buf[4:4+element.ChecksumLen], el.Checksum[:])
	off := 4 + element.ChecksumLen
	for _, a := range []address.Address{
		el.Begin, el.End, el.NextOutArc, el.PrevOutArc, el.NextInArc, el.PrevInArc,
		el.FirstOutArc, el.FirstInArc,
	} {
		putAddr(buf[off:off+8], a)
		off += 8
	}
	return buf
}

func decodeElement(buf []byte) (element.Element, error) {
	if len(buf) != elementSize {
		return element.Element{}, fmt.Errorf("lattice/storage: corrupt element record (%d bytes)", len(buf))
	}
	var el element.Element
	el.Type = element.Type(binary.BigEndian.Uint32(buf[0:4]))
	copy(el.Checksum[:], buf[4:4+element.ChecksumLen])
	off := 4 + element.ChecksumLen
	fields := []*address.Address{&el.Begin, &el.End, &el.NextOutArc, &el.PrevOutArc, &el.NextInArc, &el.PrevInArc, &el.FirstOutArc, &el.FirstInArc}
	for _, f := range fields {
		*f = parseAddr(buf[off : off+8])
		off += 8
	}
	return el, nil
}

func segmentElementKey(segNum, offset uint32) []byte {
	k := make([]byte, 9)
	k[0] = segmentPrefix
	binary.BigEndian.PutUint32(k[1:5], segNum)
	binary.BigEndian.PutUint32(k[5:9], offset)
	return k
}

// BadgerPersistence is the default Persistence implementation: it
// serializes each live element slot as a fixed-width record in a
// BadgerDB instance, grounded on pkg/storage/badger.go's key-prefix
// design and BadgerOptions-style configuration struct.
type BadgerPersistence struct {
	db         *badger.DB
	syncWrites bool
}

// BadgerPersistenceOptions configures a BadgerPersistence.
type BadgerPersistenceOptions struct {
	InMemory   bool
	SyncWrites bool
}

// NewBadgerPersistence constructs an unopened BadgerPersistence; call
// Open before use.
func NewBadgerPersistence(opts BadgerPersistenceOptions) *BadgerPersistence {
	return &BadgerPersistence{syncWrites: opts.SyncWrites}
}

// DB returns the underlying badger.DB, for collaborators (like
// BadgerContentStore) that want to share the same handle. Returns nil
// before Open.
func (b *BadgerPersistence) DB() *badger.DB {
	return b.db
}

func (b *BadgerPersistence) Open(path string, clear bool) error {
	if clear && path != "" {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("lattice/storage: clearing %s: %w", path, err)
		}
	}
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithSyncWrites(b.syncWrites).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("lattice/storage: opening badger at %s: %w", path, err)
	}
	b.db = db
	return nil
}

func (b *BadgerPersistence) Load() ([]PersistedSegment, error) {
	bySeg := make(map[uint32]*PersistedSegment)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{segmentPrefix}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte{segmentPrefix}); it.ValidForPrefix([]byte{segmentPrefix}); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			segNum := binary.BigEndian.Uint32(key[1:5])
			offset := binary.BigEndian.Uint32(key[5:9])
			var el element.Element
			err := item.Value(func(val []byte) error {
				decoded, derr := decodeElement(val)
				if derr != nil {
					return derr
				}
				el = decoded
				return nil
			})
			if err != nil {
				return err
			}
			ps, ok := bySeg[segNum]
			if !ok {
				ps = &PersistedSegment{Num: segNum, Elements: make(map[uint32]element.Element)}
				bySeg[segNum] = ps
			}
			ps.Elements[offset] = el
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]PersistedSegment, 0, len(bySeg))
	for _, ps := range bySeg {
		out = append(out, *ps)
	}
	return out, nil
}

func (b *BadgerPersistence) SaveSegment(seg PersistedSegment) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for offset, el := range seg.Elements {
			key := segmentElementKey(seg.Num, offset)
			if el.Type == 0 {
				if err := txn.Delete(key); err != nil && err != badger.ErrKeyNotFound {
					return err
				}
				continue
			}
			if err := txn.Set(key, encodeElement(el)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerPersistence) Close(save bool) error {
	if b.db == nil {
		return nil
	}
	if !save {
		// Best-effort: drop everything so a restart without save sees
		// an empty store.
		_ = b.db.DropAll()
	}
	return b.db.Close()
}
