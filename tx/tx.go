// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package tx models transactions as ordered instruction lists. An instruction
// names its target program, its ordered account list, and an opaque payload
// of an 8-byte method discriminator followed by the encoded arguments. The
// flash verifiers inspect transactions through the View type.
package tx

import (
	"crypto/sha256"
	"fmt"

	"github.com/Kamino-Finance/limo/account"
)

// DiscriminatorSize is the length of the method discriminator prefixing every
// instruction payload.
const DiscriminatorSize = 8

// Discriminator derives the payload prefix for the named method: the first 8
// bytes of sha256("global:<name>").
func Discriminator(name string) [DiscriminatorSize]byte {
	h := sha256.Sum256([]byte("global:" + name))
	var d [DiscriminatorSize]byte
	copy(d[:], h[:DiscriminatorSize])
	return d
}

// The method discriminators.
var (
	InitializeGlobalConfigIx  = Discriminator("initialize_global_config")
	InitializeVaultIx         = Discriminator("initialize_vault")
	CreateOrderIx             = Discriminator("create_order")
	TakeOrderIx               = Discriminator("take_order")
	FlashTakeOrderStartIx     = Discriminator("flash_take_order_start")
	FlashTakeOrderEndIx       = Discriminator("flash_take_order_end")
	CloseOrderAndClaimTipIx   = Discriminator("close_order_and_claim_tip")
	UpdateOrderIx             = Discriminator("update_order")
	UpdateGlobalConfigIx      = Discriminator("update_global_config")
	UpdateGlobalConfigAdminIx = Discriminator("update_global_config_admin")
	WithdrawHostTipIx         = Discriminator("withdraw_host_tip")
	LogUserSwapBalancesStart  = Discriminator("log_user_swap_balances_start")
	LogUserSwapBalancesEnd    = Discriminator("log_user_swap_balances_end")
)

// programAddress derives the well-known address of an auxiliary program.
func programAddress(name string) account.AccountID {
	return account.HashFunc([]byte("program:" + name))
}

// Auxiliary program addresses tolerated around a flash fill pair. Anything
// else outside the pair fails verification.
var (
	ComputeBudgetProgramID   = programAddress("compute_budget")
	TokenProgramID           = programAddress("token")
	Token2022ProgramID       = programAddress("token_2022")
	AssociatedTokenProgramID = programAddress("associated_token")
)

// AccountMeta is one entry of an instruction's account list.
type AccountMeta struct {
	Key account.AccountID
	// Signer is set when the transaction carries this account's signature.
	Signer bool
}

// Instruction is a single program invocation within a transaction.
type Instruction struct {
	ProgramID account.AccountID
	Accounts  []AccountMeta
	// Data is the method discriminator followed by the encoded arguments.
	Data []byte
}

// NewInstruction assembles an instruction payload from its parts.
func NewInstruction(programID account.AccountID, discriminator [DiscriminatorSize]byte,
	args []byte, accounts ...AccountMeta) Instruction {

	data := make([]byte, 0, DiscriminatorSize+len(args))
	data = append(data, discriminator[:]...)
	data = append(data, args...)
	return Instruction{
		ProgramID: programID,
		Accounts:  accounts,
		Data:      data,
	}
}

// Discriminator extracts the payload's method discriminator. ok is false for
// a short payload.
func (in *Instruction) Discriminator() (d [DiscriminatorSize]byte, ok bool) {
	if len(in.Data) < DiscriminatorSize {
		return d, false
	}
	copy(d[:], in.Data[:DiscriminatorSize])
	return d, true
}

// Args returns the encoded arguments following the discriminator.
func (in *Instruction) Args() []byte {
	if len(in.Data) < DiscriminatorSize {
		return nil
	}
	return in.Data[DiscriminatorSize:]
}

// AccountKeys flattens the account list to bare addresses. Introspection
// compares instructions by address only, signer bits excluded.
func (in *Instruction) AccountKeys() []account.AccountID {
	keys := make([]account.AccountID, len(in.Accounts))
	for i, meta := range in.Accounts {
		keys[i] = meta.Key
	}
	return keys
}

// Tx is an ordered list of instructions executed atomically.
type Tx struct {
	Instructions []Instruction
}

// View is a read-only window over a transaction, positioned at the
// instruction currently executing. It is the pure in-memory implementation of
// flash.InstructionLoader.
type View struct {
	tx    *Tx
	index int
	// stackHeight is 1 for a top-level instruction and grows with each
	// nested cross-program invocation.
	stackHeight int
}

// NewView creates a View over tx positioned at instruction index, at
// top-level invocation depth.
func NewView(tx *Tx, index int) *View {
	return &View{tx: tx, index: index, stackHeight: 1}
}

// NewNestedView creates a View at the given invocation depth. Depths greater
// than 1 model an instruction reached through a cross-program invocation.
func NewNestedView(tx *Tx, index, stackHeight int) *View {
	return &View{tx: tx, index: index, stackHeight: stackHeight}
}

// Len returns the number of instructions in the transaction.
func (v *View) Len() int {
	return len(v.tx.Instructions)
}

// CurrentIndex returns the index of the executing instruction.
func (v *View) CurrentIndex() int {
	return v.index
}

// StackHeight returns the invocation depth of the executing instruction.
func (v *View) StackHeight() int {
	return v.stackHeight
}

// InstructionAt returns the transaction's i'th top-level instruction.
func (v *View) InstructionAt(i int) (*Instruction, error) {
	if i < 0 || i >= len(v.tx.Instructions) {
		return nil, fmt.Errorf("instruction index %d out of range [0,%d)",
			i, len(v.tx.Instructions))
	}
	return &v.tx.Instructions[i], nil
}
