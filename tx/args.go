// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package tx

import (
	"fmt"

	"github.com/Kamino-Finance/limo/account"
	"github.com/Kamino-Finance/limo/encode"
)

// TakeOrderArgs are the arguments shared by take_order and the flash fill
// pair. The flash verifier requires the start and end payloads to carry
// identical args.
type TakeOrderArgs struct {
	InputAmount     uint64
	MinOutputAmount uint64
	// TipAmountPermissionlessTaking is the taker-declared tip, used only when
	// the fill is not routed through the external authorization path.
	TipAmountPermissionlessTaking uint64
}

// Encode serializes the args in instruction payload order.
func (args *TakeOrderArgs) Encode() []byte {
	b := make([]byte, 0, 24)
	b = append(b, encode.Uint64Bytes(args.InputAmount)...)
	b = append(b, encode.Uint64Bytes(args.MinOutputAmount)...)
	b = append(b, encode.Uint64Bytes(args.TipAmountPermissionlessTaking)...)
	return b
}

// DecodeTakeOrderArgs deserializes take_order-shaped instruction args.
func DecodeTakeOrderArgs(b []byte) (*TakeOrderArgs, error) {
	if len(b) != 24 {
		return nil, fmt.Errorf("expected take_order args of length 24, got %d", len(b))
	}
	return &TakeOrderArgs{
		InputAmount:                   encode.IntCoder.Uint64(b[0:8]),
		MinOutputAmount:               encode.IntCoder.Uint64(b[8:16]),
		TipAmountPermissionlessTaking: encode.IntCoder.Uint64(b[16:24]),
	}, nil
}

// CreateOrderArgs are the arguments to create_order.
type CreateOrderArgs struct {
	InputAmount  uint64
	OutputAmount uint64
	OrderType    uint8
}

// Encode serializes the args in instruction payload order.
func (args *CreateOrderArgs) Encode() []byte {
	b := make([]byte, 0, 17)
	b = append(b, encode.Uint64Bytes(args.InputAmount)...)
	b = append(b, encode.Uint64Bytes(args.OutputAmount)...)
	b = append(b, args.OrderType)
	return b
}

// DecodeCreateOrderArgs deserializes create_order instruction args.
func DecodeCreateOrderArgs(b []byte) (*CreateOrderArgs, error) {
	if len(b) != 17 {
		return nil, fmt.Errorf("expected create_order args of length 17, got %d", len(b))
	}
	return &CreateOrderArgs{
		InputAmount:  encode.IntCoder.Uint64(b[0:8]),
		OutputAmount: encode.IntCoder.Uint64(b[8:16]),
		OrderType:    b[16],
	}, nil
}

// UpdateOrderArgs are the arguments to update_order. Value is
// variable-length, prefixed on the wire with a uint32 length.
type UpdateOrderArgs struct {
	Mode  uint16
	Value []byte
}

// Encode serializes the args in instruction payload order.
func (args *UpdateOrderArgs) Encode() []byte {
	b := make([]byte, 0, 2+4+len(args.Value))
	b = append(b, encode.Uint16Bytes(args.Mode)...)
	b = append(b, encode.Uint32Bytes(uint32(len(args.Value)))...)
	b = append(b, args.Value...)
	return b
}

// DecodeUpdateOrderArgs deserializes update_order instruction args.
func DecodeUpdateOrderArgs(b []byte) (*UpdateOrderArgs, error) {
	if len(b) < 6 {
		return nil, fmt.Errorf("expected update_order args of at least length 6, got %d", len(b))
	}
	valueLen := encode.IntCoder.Uint32(b[2:6])
	if uint32(len(b)-6) != valueLen {
		return nil, fmt.Errorf("update_order args value length %d does not match payload %d",
			valueLen, len(b)-6)
	}
	return &UpdateOrderArgs{
		Mode:  encode.IntCoder.Uint16(b[0:2]),
		Value: encode.CopySlice(b[6:]),
	}, nil
}

// UpdateGlobalConfigArgs are the arguments to update_global_config. The value
// buffer is fixed-size; the targeted field consumes its prefix.
type UpdateGlobalConfigArgs struct {
	Mode  uint16
	Value [32]byte
}

// Encode serializes the args in instruction payload order.
func (args *UpdateGlobalConfigArgs) Encode() []byte {
	b := make([]byte, 0, 34)
	b = append(b, encode.Uint16Bytes(args.Mode)...)
	b = append(b, args.Value[:]...)
	return b
}

// DecodeUpdateGlobalConfigArgs deserializes update_global_config args.
func DecodeUpdateGlobalConfigArgs(b []byte) (*UpdateGlobalConfigArgs, error) {
	if len(b) != 34 {
		return nil, fmt.Errorf("expected update_global_config args of length 34, got %d", len(b))
	}
	args := &UpdateGlobalConfigArgs{Mode: encode.IntCoder.Uint16(b[0:2])}
	copy(args.Value[:], b[2:])
	return args, nil
}

// LogUserSwapBalancesArgs are the arguments to the balance-bracketing pair.
// The designated swap program is named so the verifier can require it between
// the start and end instructions.
type LogUserSwapBalancesArgs struct {
	SwapProgramID account.AccountID
}

// Encode serializes the args in instruction payload order.
func (args *LogUserSwapBalancesArgs) Encode() []byte {
	return encode.CopySlice(args.SwapProgramID[:])
}

// DecodeLogUserSwapBalancesArgs deserializes log_user_swap_balances args.
func DecodeLogUserSwapBalancesArgs(b []byte) (*LogUserSwapBalancesArgs, error) {
	if len(b) != account.HashSize {
		return nil, fmt.Errorf("expected log_user_swap_balances args of length %d, got %d",
			account.HashSize, len(b))
	}
	args := new(LogUserSwapBalancesArgs)
	copy(args.SwapProgramID[:], b)
	return args, nil
}
