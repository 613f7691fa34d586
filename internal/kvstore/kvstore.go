// Package kvstore is the embedded play-token to account-id store
// (spec.md §6 "embedded KV file ... default databases/database.dbm"),
// backed by nutsdb. Writes are single-writer and synced to disk after
// every mutation so a crash never loses a persisted mapping.
package kvstore

import (
	"encoding/binary"
	"fmt"

	"github.com/nutsdb/nutsdb"
)

const bucket = "play_tokens"

// Store maps play tokens to account ids.
type Store struct {
	db *nutsdb.DB
}

// Open opens (creating if necessary) the KV file at dir.
func Open(dir string) (*Store, error) {
	opts := nutsdb.DefaultOptions
	opts.Dir = dir
	opts.SyncEnable = true
	db, err := nutsdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: opening %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup returns the account id previously stored for playToken, if any.
func (s *Store) Lookup(playToken string) (accountID uint32, found bool, err error) {
	err = s.db.View(func(tx *nutsdb.Tx) error {
		entry, getErr := tx.Get(bucket, []byte(playToken))
		if getErr != nil {
			if getErr == nutsdb.ErrKeyNotFound || getErr == nutsdb.ErrBucketNotFound {
				return nil
			}
			return getErr
		}
		if len(entry.Value) != 4 {
			return fmt.Errorf("kvstore: corrupt value for token %q (%d bytes)", playToken, len(entry.Value))
		}
		accountID = binary.LittleEndian.Uint32(entry.Value)
		found = true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("kvstore: looking up token: %w", err)
	}
	return accountID, found, nil
}

// Store persists the play-token to account-id mapping, syncing to disk
// before returning (spec.md §6 "single-writer discipline, sync to disk
// after each mutation").
func (s *Store) Store(playToken string, accountID uint32) error {
	var val [4]byte
	binary.LittleEndian.PutUint32(val[:], accountID)

	err := s.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(bucket, []byte(playToken), val[:], 0)
	})
	if err != nil {
		return fmt.Errorf("kvstore: storing token: %w", err)
	}
	return nil
}
