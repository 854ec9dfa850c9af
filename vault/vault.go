// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package vault manages the custodial side of the escrow: deterministic
// addresses derived from seed tuples, and a balance ledger for token and
// native holdings. The ledger is a plain in-memory structure so the program
// layer can snapshot it before a transaction and restore it on failure.
package vault

import (
	"github.com/Kamino-Finance/limo"
	"github.com/Kamino-Finance/limo/account"
	"github.com/Kamino-Finance/limo/calc"
)

// Address derivation seeds.
var (
	SeedAuthority    = []byte("authority")
	SeedEscrowVault  = []byte("escrow_vault")
	SeedIntermediary = []byte("intermediary")
)

// Ledger errors.
const (
	ErrInsufficientBalance = limo.ErrorKind("insufficient balance")
	ErrBalanceOverflow     = limo.ErrorKind("balance overflow")
)

// DeriveAuthority returns the custodial authority address for a config, with
// its derivation bump.
func DeriveAuthority(globalConfig account.AccountID) (account.AccountID, uint8) {
	return account.Derive(SeedAuthority, globalConfig[:])
}

// DeriveVaultAddress returns the escrow vault address for a (config, mint)
// pair, with its derivation bump.
func DeriveVaultAddress(globalConfig, mint account.AccountID) (account.AccountID, uint8) {
	return account.Derive(SeedEscrowVault, globalConfig[:], mint[:])
}

// DeriveIntermediaryAddress returns the per-order intermediary output account
// address, used when the output asset is the native one.
func DeriveIntermediaryAddress(orderID account.AccountID) (account.AccountID, uint8) {
	return account.Derive(SeedIntermediary, orderID[:])
}

type tokenKey struct {
	mint account.AccountID
	addr account.AccountID
}

// Ledger tracks token balances per (mint, address) and native balances per
// address. The zero value is not usable; construct with NewLedger.
type Ledger struct {
	tokens map[tokenKey]uint64
	native map[account.AccountID]uint64
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		tokens: make(map[tokenKey]uint64),
		native: make(map[account.AccountID]uint64),
	}
}

// TokenBalance returns addr's balance of the mint's asset.
func (l *Ledger) TokenBalance(mint, addr account.AccountID) uint64 {
	return l.tokens[tokenKey{mint: mint, addr: addr}]
}

// NativeBalance returns addr's native-currency balance.
func (l *Ledger) NativeBalance(addr account.AccountID) uint64 {
	return l.native[addr]
}

// CreditToken mints amt of the asset to addr, for funding test and genesis
// balances.
func (l *Ledger) CreditToken(mint, addr account.AccountID, amt uint64) error {
	key := tokenKey{mint: mint, addr: addr}
	sum, ok := calc.CheckedAdd(l.tokens[key], amt)
	if !ok {
		return ErrBalanceOverflow
	}
	l.tokens[key] = sum
	return nil
}

// CreditNative mints amt of the native currency to addr.
func (l *Ledger) CreditNative(addr account.AccountID, amt uint64) error {
	sum, ok := calc.CheckedAdd(l.native[addr], amt)
	if !ok {
		return ErrBalanceOverflow
	}
	l.native[addr] = sum
	return nil
}

// TransferToken moves amt of the mint's asset from one address to another.
func (l *Ledger) TransferToken(mint, from, to account.AccountID, amt uint64) error {
	fromKey := tokenKey{mint: mint, addr: from}
	remaining, ok := calc.CheckedSub(l.tokens[fromKey], amt)
	if !ok {
		return limo.NewError(ErrInsufficientBalance,
			"token transfer of "+mint.String())
	}
	toKey := tokenKey{mint: mint, addr: to}
	sum, ok := calc.CheckedAdd(l.tokens[toKey], amt)
	if !ok {
		return ErrBalanceOverflow
	}
	l.tokens[fromKey] = remaining
	l.tokens[toKey] = sum
	return nil
}

// TransferNative moves amt of the native currency from one address to
// another.
func (l *Ledger) TransferNative(from, to account.AccountID, amt uint64) error {
	remaining, ok := calc.CheckedSub(l.native[from], amt)
	if !ok {
		return limo.NewError(ErrInsufficientBalance, "native transfer")
	}
	sum, ok := calc.CheckedAdd(l.native[to], amt)
	if !ok {
		return ErrBalanceOverflow
	}
	l.native[from] = remaining
	l.native[to] = sum
	return nil
}

// Clone returns an independent copy of the ledger. The program layer
// snapshots before a transaction and restores the snapshot if any
// instruction fails.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		tokens: make(map[tokenKey]uint64, len(l.tokens)),
		native: make(map[account.AccountID]uint64, len(l.native)),
	}
	for k, v := range l.tokens {
		c.tokens[k] = v
	}
	for k, v := range l.native {
		c.native[k] = v
	}
	return c
}

// Restore overwrites the ledger's state with the snapshot's.
func (l *Ledger) Restore(snapshot *Ledger) {
	l.tokens = make(map[tokenKey]uint64, len(snapshot.tokens))
	l.native = make(map[account.AccountID]uint64, len(snapshot.native))
	for k, v := range snapshot.tokens {
		l.tokens[k] = v
	}
	for k, v := range snapshot.native {
		l.native[k] = v
	}
}
