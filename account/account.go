// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package account defines the 32-byte address type that identifies makers,
// takers, record accounts, asset mints, and programs.
package account

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// HashFunc is the hash function used to derive account IDs and program
// addresses.
var HashFunc = blake256.Sum256

// HashSize is the length in bytes of an AccountID.
const HashSize = blake256.Size

// AccountID is the unique identifier for an on-ledger account: a wallet, a
// record account, an asset mint, or a program.
type AccountID [HashSize]byte

// NewID generates a unique account id with the provided public key bytes.
func NewID(pk []byte) AccountID {
	// Hash the pubkey hash.
	h := HashFunc(pk)
	return HashFunc(h[:])
}

// String returns a hexadecimal representation of the AccountID. String
// implements fmt.Stringer.
func (aid AccountID) String() string {
	return hex.EncodeToString(aid[:])
}

// IsZero reports whether the AccountID is the all-zero sentinel, used where an
// optional address is unset.
func (aid AccountID) IsZero() bool {
	return aid == AccountID{}
}

// DecodeID checks a string as being both hex and the right length and returns
// its bytes encoded as an AccountID.
func DecodeID(idStr string) (AccountID, error) {
	var aid AccountID
	if len(idStr) != HashSize*2 {
		return aid, errors.New("account id has incorrect length")
	}
	if _, err := hex.Decode(aid[:], []byte(idStr)); err != nil {
		return aid, fmt.Errorf("could not decode account id: %w", err)
	}
	return aid, nil
}

// DecodeAddress decodes either textual form of an account reference: the hex
// of a 32-byte account ID, or the hex of a 33-byte compressed secp256k1
// public key, from which the ID is derived.
func DecodeAddress(addr string) (AccountID, error) {
	if len(addr) == secp256k1.PubKeyBytesLenCompressed*2 {
		pk, err := hex.DecodeString(addr)
		if err != nil {
			return AccountID{}, fmt.Errorf("could not decode pubkey: %w", err)
		}
		acct, err := NewAccountFromPubKey(pk)
		if err != nil {
			return AccountID{}, err
		}
		return acct.ID, nil
	}
	return DecodeID(addr)
}

// Derive computes the program-derived address for the ordered seed tuple. The
// returned bump is the derivation proof byte stored alongside the address in
// the record layouts.
func Derive(seeds ...[]byte) (AccountID, uint8) {
	h := blake256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	var aid AccountID
	copy(aid[:], h.Sum(nil))
	return aid, aid[HashSize-1]
}

// Account represents a keyed account: a wallet that can sign instructions.
type Account struct {
	ID     AccountID
	PubKey *secp256k1.PublicKey
}

// NewAccountFromPubKey creates a keyed account from the provided public key
// bytes.
func NewAccountFromPubKey(pk []byte) (*Account, error) {
	if len(pk) != secp256k1.PubKeyBytesLenCompressed {
		return nil, fmt.Errorf("invalid pubkey length, "+
			"expected %d, got %d", secp256k1.PubKeyBytesLenCompressed, len(pk))
	}

	pubKey, err := secp256k1.ParsePubKey(pk)
	if err != nil {
		return nil, err
	}

	return &Account{
		ID:     NewID(pk),
		PubKey: pubKey,
	}, nil
}

// Equal reports whether two account lists are byte-for-byte identical, by
// address and in order.
func Equal(a, b []AccountID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i][:], b[i][:]) {
			return false
		}
	}
	return true
}
