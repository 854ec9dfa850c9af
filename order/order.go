// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package order defines the Order record used throughout the settlement core.
package order

import (
	"fmt"

	"github.com/Kamino-Finance/limo"
	"github.com/Kamino-Finance/limo/account"
	"github.com/Kamino-Finance/limo/encode"
)

// OrderStatus indicates the state of an order. Status transitions are
// one-directional: an order leaves OrderStatusActive for exactly one of the
// terminal statuses and never returns.
type OrderStatus uint8

const (
	// OrderStatusActive is for orders that can still be filled. This includes
	// partially filled orders.
	OrderStatusActive OrderStatus = iota

	// OrderStatusFilled is for orders whose remaining input has been fully
	// consumed and whose output target has been met. Terminal.
	OrderStatusFilled

	// OrderStatusCancelled is for orders closed by the maker (or the automated
	// close path) before being completely filled. Terminal.
	OrderStatusCancelled
)

var orderStatusNames = map[OrderStatus]string{
	OrderStatusActive:    "active",
	OrderStatusFilled:    "filled",
	OrderStatusCancelled: "cancelled",
}

// String implements Stringer.
func (s OrderStatus) String() string {
	name, ok := orderStatusNames[s]
	if !ok {
		return "unknown"
	}
	return name
}

// OrderType distinguishes the different kinds of orders. There is currently
// one variant, but the field is stored so new kinds can be added without a
// layout change.
type OrderType uint8

// The different OrderType values.
const (
	VanillaOrderType OrderType = iota
)

// ErrOrderTypeInvalid is returned by ParseOrderType for an unknown order type
// byte.
const ErrOrderTypeInvalid = limo.ErrorKind("order type invalid")

// ParseOrderType validates a stored or caller-supplied order type byte.
func ParseOrderType(b uint8) (OrderType, error) {
	if OrderType(b) != VanillaOrderType {
		return 0, ErrOrderTypeInvalid
	}
	return VanillaOrderType, nil
}

// String returns a string representation of the OrderType.
func (ot OrderType) String() string {
	switch ot {
	case VanillaOrderType:
		return "vanilla"
	default:
		return "unknown"
	}
}

// UpdateOrderMode selects the order field targeted by an update_order
// instruction.
type UpdateOrderMode uint16

// The different UpdateOrderMode values.
const (
	UpdatePermissionless UpdateOrderMode = iota
	UpdateCounterparty
)

// SerializedOrderSize is the length in bytes of a serialized Order record,
// reserved padding included.
const SerializedOrderSize = 6*account.HashSize + 6*8 + 5 + 3 + 8 + 8 + account.HashSize + reservedSize

const reservedSize = 15 * 8

// Order is one maker's limit order: the escrowed input, the expected output,
// and the running fill accounting. The field order matches the stored record
// layout.
type Order struct {
	GlobalConfig account.AccountID
	Maker        account.AccountID

	InputMint           account.AccountID
	InputMintProgramID  account.AccountID
	OutputMint          account.AccountID
	OutputMintProgramID account.AccountID

	InitialInputAmount   uint64
	ExpectedOutputAmount uint64
	RemainingInputAmount uint64
	FilledOutputAmount   uint64
	TipAmount            uint64
	NumberOfFills        uint64

	Type        OrderType
	Status      OrderStatus
	InVaultBump uint8
	// FlashLock is 1 while a flash fill is outstanding on the order. All other
	// order operations are blocked until the matching end instruction clears
	// it.
	FlashLock      uint8
	Permissionless uint8

	Pad0 [3]byte

	LastUpdatedTimestamp uint64

	// FlashStartTakerOutputBalance is the taker's output-asset balance
	// snapshotted by flash_take_order_start, used by the end handler to
	// compute the effective output amount. Zero outside a flash fill.
	FlashStartTakerOutputBalance uint64

	// Counterparty restricts who may fill the order. The zero address means no
	// restriction.
	Counterparty account.AccountID

	// Reserved padding must be preserved verbatim on any rewrite so that the
	// record interoperates with existing stored images.
	Reserved [reservedSize]byte
}

// FlashLocked reports whether a flash fill is outstanding on the order.
func (o *Order) FlashLocked() bool {
	return o.FlashLock != 0
}

// IsPermissionless reports whether the order may be taken without external
// authorization.
func (o *Order) IsPermissionless() bool {
	return o.Permissionless != 0
}

// CounterpartyAllows reports whether the taker satisfies the order's optional
// exclusive-taker restriction.
func (o *Order) CounterpartyAllows(taker account.AccountID) bool {
	return o.Counterparty.IsZero() || o.Counterparty == taker
}

// Serialize marshals the Order into its fixed-size record image.
func (o *Order) Serialize() []byte {
	b := make([]byte, SerializedOrderSize)
	offset := 0

	putID := func(aid account.AccountID) {
		copy(b[offset:offset+account.HashSize], aid[:])
		offset += account.HashSize
	}
	putU64 := func(v uint64) {
		encode.IntCoder.PutUint64(b[offset:offset+8], v)
		offset += 8
	}

	putID(o.GlobalConfig)
	putID(o.Maker)
	putID(o.InputMint)
	putID(o.InputMintProgramID)
	putID(o.OutputMint)
	putID(o.OutputMintProgramID)

	putU64(o.InitialInputAmount)
	putU64(o.ExpectedOutputAmount)
	putU64(o.RemainingInputAmount)
	putU64(o.FilledOutputAmount)
	putU64(o.TipAmount)
	putU64(o.NumberOfFills)

	b[offset] = uint8(o.Type)
	b[offset+1] = uint8(o.Status)
	b[offset+2] = o.InVaultBump
	b[offset+3] = o.FlashLock
	b[offset+4] = o.Permissionless
	offset += 5

	copy(b[offset:offset+3], o.Pad0[:])
	offset += 3

	putU64(o.LastUpdatedTimestamp)
	putU64(o.FlashStartTakerOutputBalance)

	putID(o.Counterparty)

	copy(b[offset:], o.Reserved[:])
	return b
}

// DeserializeOrder decodes a stored Order record. The reserved trailing
// padding is retained so a rewrite preserves it byte-for-byte.
func DeserializeOrder(b []byte) (*Order, error) {
	if len(b) != SerializedOrderSize {
		return nil, fmt.Errorf("expected order record of length %d, got %d",
			SerializedOrderSize, len(b))
	}
	o := new(Order)
	offset := 0

	getID := func(aid *account.AccountID) {
		copy(aid[:], b[offset:offset+account.HashSize])
		offset += account.HashSize
	}
	getU64 := func(v *uint64) {
		*v = encode.IntCoder.Uint64(b[offset : offset+8])
		offset += 8
	}

	getID(&o.GlobalConfig)
	getID(&o.Maker)
	getID(&o.InputMint)
	getID(&o.InputMintProgramID)
	getID(&o.OutputMint)
	getID(&o.OutputMintProgramID)

	getU64(&o.InitialInputAmount)
	getU64(&o.ExpectedOutputAmount)
	getU64(&o.RemainingInputAmount)
	getU64(&o.FilledOutputAmount)
	getU64(&o.TipAmount)
	getU64(&o.NumberOfFills)

	o.Type = OrderType(b[offset])
	o.Status = OrderStatus(b[offset+1])
	o.InVaultBump = b[offset+2]
	o.FlashLock = b[offset+3]
	o.Permissionless = b[offset+4]
	offset += 5

	copy(o.Pad0[:], b[offset:offset+3])
	offset += 3

	getU64(&o.LastUpdatedTimestamp)
	getU64(&o.FlashStartTakerOutputBalance)

	getID(&o.Counterparty)

	copy(o.Reserved[:], b[offset:])
	return o, nil
}
