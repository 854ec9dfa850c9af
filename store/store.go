// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package store persists the settlement records in a badger key-value
// database. All record mutations of one transaction run inside a single
// badger update, so a failed instruction discards every change with it.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/Kamino-Finance/limo"
	"github.com/Kamino-Finance/limo/account"
	"github.com/Kamino-Finance/limo/encode"
	"github.com/Kamino-Finance/limo/market"
	"github.com/Kamino-Finance/limo/order"
	"github.com/dgraph-io/badger"
)

// ErrKeyNotFound is an alias for badger.ErrKeyNotFound so that the caller
// doesn't have to import badger to use the semantics. Either error will
// satisfy errors.Is the same.
var ErrKeyNotFound = badger.ErrKeyNotFound

var (
	configKey     = []byte("config")
	orderPrefix   = []byte("order/")
	swapBalPrefix = []byte("swapbal/")
)

func prefixedKey(prefix []byte, k []byte) []byte {
	key := make([]byte, len(prefix)+len(k))
	copy(key, prefix)
	copy(key[len(prefix):], k)
	return key
}

func orderKey(oid account.AccountID) []byte {
	return prefixedKey(orderPrefix, oid[:])
}

func swapBalKey(id account.AccountID) []byte {
	return prefixedKey(swapBalPrefix, id[:])
}

// DB is the settlement record store.
type DB struct {
	bdb *badger.DB
	log limo.Logger
}

// Config is the configuration settings for the DB.
type Config struct {
	Path string
	Log  limo.Logger
}

// New opens (creating if necessary) the record store at cfg.Path.
func New(cfg *Config) (*DB, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(&badgerLoggerWrapper{cfg.Log})
	bdb, err := badger.Open(opts)
	if err == badger.ErrTruncateNeeded {
		// Probably a Windows thing.
		// https://github.com/dgraph-io/badger/issues/744
		cfg.Log.Warnf("Error opening badger db: %v", err)
		// Try again with value log truncation enabled.
		opts.Truncate = true
		cfg.Log.Warnf("Attempting to reopen badger DB with the Truncate option set...")
		bdb, err = badger.Open(opts)
	}
	if err != nil {
		return nil, err
	}
	return &DB{bdb: bdb, log: cfg.Log}, nil
}

// Close releases the underlying database.
func (db *DB) Close() error {
	return db.bdb.Close()
}

// Update runs f in a read-write transaction, retrying on conflicts.
func (db *DB) Update(f func(t *Txn) error) (err error) {
	const maxRetries = 10
	sleepTime := 5 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err = db.bdb.Update(func(txn *badger.Txn) error {
			return f(&Txn{txn: txn})
		})
		if err == nil || !errors.Is(err, badger.ErrConflict) {
			return err
		}
		sleepTime *= 2
		time.Sleep(sleepTime)
	}

	return err
}

// View runs f in a read-only transaction.
func (db *DB) View(f func(t *Txn) error) error {
	return db.bdb.View(func(txn *badger.Txn) error {
		return f(&Txn{txn: txn})
	})
}

// Txn is a typed view over one badger transaction.
type Txn struct {
	txn *badger.Txn
}

func (t *Txn) get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Config retrieves the stored GlobalConfig record.
func (t *Txn) Config() (*market.GlobalConfig, error) {
	b, err := t.get(configKey)
	if err != nil {
		return nil, err
	}
	return market.DeserializeGlobalConfig(b)
}

// SetConfig stores the GlobalConfig record.
func (t *Txn) SetConfig(cfg *market.GlobalConfig) error {
	return t.txn.Set(configKey, cfg.Serialize())
}

// Order retrieves an order record by its account address.
func (t *Txn) Order(oid account.AccountID) (*order.Order, error) {
	b, err := t.get(orderKey(oid))
	if err != nil {
		return nil, err
	}
	return order.DeserializeOrder(b)
}

// SetOrder stores an order record under its account address.
func (t *Txn) SetOrder(oid account.AccountID, o *order.Order) error {
	return t.txn.Set(orderKey(oid), o.Serialize())
}

// DeleteOrder reclaims an order record's storage.
func (t *Txn) DeleteOrder(oid account.AccountID) error {
	return t.txn.Delete(orderKey(oid))
}

// Orders iterates the stored orders, invoking f for each until f returns
// false or an error.
func (t *Txn) Orders(f func(oid account.AccountID, o *order.Order) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = orderPrefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.Key()
		if len(key) != len(orderPrefix)+account.HashSize {
			return fmt.Errorf("malformed order key of length %d", len(key))
		}
		var oid account.AccountID
		copy(oid[:], key[len(orderPrefix):])

		b, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		o, err := order.DeserializeOrder(b)
		if err != nil {
			return err
		}
		ok, err := f(oid, o)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	return nil
}

// UserSwapBalances is the snapshot recorded by the balance-bracketing start
// instruction and consumed by its end.
type UserSwapBalances struct {
	Lamports      uint64
	InputBalance  uint64
	OutputBalance uint64
}

// SwapBalances retrieves a balance snapshot by its record address.
func (t *Txn) SwapBalances(id account.AccountID) (*UserSwapBalances, error) {
	b, err := t.get(swapBalKey(id))
	if err != nil {
		return nil, err
	}
	if len(b) != 24 {
		return nil, fmt.Errorf("expected swap balance record of length 24, got %d", len(b))
	}
	return &UserSwapBalances{
		Lamports:      encode.IntCoder.Uint64(b[0:8]),
		InputBalance:  encode.IntCoder.Uint64(b[8:16]),
		OutputBalance: encode.IntCoder.Uint64(b[16:24]),
	}, nil
}

// SetSwapBalances stores a balance snapshot under its record address.
func (t *Txn) SetSwapBalances(id account.AccountID, bal *UserSwapBalances) error {
	b := make([]byte, 0, 24)
	b = append(b, encode.Uint64Bytes(bal.Lamports)...)
	b = append(b, encode.Uint64Bytes(bal.InputBalance)...)
	b = append(b, encode.Uint64Bytes(bal.OutputBalance)...)
	return t.txn.Set(swapBalKey(id), b)
}

// DeleteSwapBalances reclaims a balance snapshot's storage.
func (t *Txn) DeleteSwapBalances(id account.AccountID) error {
	return t.txn.Delete(swapBalKey(id))
}
