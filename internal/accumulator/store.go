package accumulator

import (
	"encoding/binary"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"privpool/internal/commitment"
)

var (
	leafPrefix = []byte("leaf/")
	accountKey = []byte("account")
)

// store persists leaves and the storage account in LevelDB.
type store struct {
	db *leveldb.DB
}

// openStore opens or creates a LevelDB database at path.
// If path is empty, uses in-memory storage.
func openStore(path string) (*store, error) {
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	return &store{db: db}, nil
}

func leafKey(index uint64) []byte {
	key := make([]byte, len(leafPrefix)+8)
	copy(key, leafPrefix)
	binary.BigEndian.PutUint64(key[len(leafPrefix):], index)
	return key
}

// putLeaf writes the leaf and the updated account in one batch.
func (s *store) putLeaf(index uint64, leaf commitment.Hash, account []byte) error {
	batch := new(leveldb.Batch)
	batch.Put(leafKey(index), leaf[:])
	batch.Put(accountKey, account)
	return s.db.Write(batch, nil)
}

// account returns the stored account, or nil if none was written yet.
func (s *store) account() ([]byte, error) {
	data, err := s.db.Get(accountKey, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return data, nil
}

// leaves returns every stored leaf in index order. Indices must be dense.
func (s *store) leaves() ([]commitment.Hash, error) {
	iter := s.db.NewIterator(util.BytesPrefix(leafPrefix), nil)
	defer iter.Release()

	var out []commitment.Hash
	for iter.Next() {
		key := iter.Key()
		index := binary.BigEndian.Uint64(key[len(leafPrefix):])
		if index != uint64(len(out)) {
			return nil, fmt.Errorf("leaf %d missing", len(out))
		}
		var leaf commitment.Hash
		if len(iter.Value()) != len(leaf) {
			return nil, fmt.Errorf("leaf %d: invalid length %d", index, len(iter.Value()))
		}
		copy(leaf[:], iter.Value())
		out = append(out, leaf)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate leaves: %w", err)
	}
	return out, nil
}

func (s *store) close() error {
	return s.db.Close()
}
