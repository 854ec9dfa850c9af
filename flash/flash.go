// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package flash verifies the transaction bracketing required by the two-phase
// fill protocols. A flash fill releases escrowed input before payment, so the
// start instruction must prove, by inspecting the enclosing transaction, that
// a matching end instruction follows it, and the end instruction must prove
// that a matching start precedes it. Verification is pure inspection: no
// record state changes here.
package flash

import (
	"github.com/Kamino-Finance/limo"
	"github.com/Kamino-Finance/limo/account"
	"github.com/Kamino-Finance/limo/tx"
)

// Verification errors.
const (
	ErrFlashIxsNotEnded         = limo.ErrorKind("no end instruction found for the flash pair")
	ErrFlashIxsNotStarted       = limo.ErrorKind("no start instruction found for the flash pair")
	ErrFlashIxsAccountMismatch  = limo.ErrorKind("accounts of the flash pair do not match")
	ErrFlashIxsArgsMismatch     = limo.ErrorKind("arguments of the flash pair do not match")
	ErrFlashTxWithUnexpectedIxs = limo.ErrorKind("transaction contains unexpected instructions")
	ErrCPINotAllowed            = limo.ErrorKind("instruction must be invoked at transaction level")
)

// InstructionLoader is the read-only transaction window the verifiers inspect.
// tx.View is the in-memory implementation.
type InstructionLoader interface {
	// InstructionAt returns the i'th top-level instruction of the enclosing
	// transaction.
	InstructionAt(i int) (*tx.Instruction, error)
	// CurrentIndex is the index of the executing instruction.
	CurrentIndex() int
	// StackHeight is the invocation depth of the executing instruction, 1 at
	// transaction level.
	StackHeight() int
	// Len is the number of top-level instructions.
	Len() int
}

// VerifyTopLevel requires the executing instruction to target the given
// program directly from the transaction, not through a nested invocation. A
// nested caller could otherwise satisfy the pairing checks with instructions
// it does not control.
func VerifyTopLevel(loader InstructionLoader, program account.AccountID) error {
	in, err := loader.InstructionAt(loader.CurrentIndex())
	if err != nil {
		return err
	}
	if in.ProgramID != program {
		return ErrCPINotAllowed
	}
	if loader.StackHeight() > 1 {
		return ErrCPINotAllowed
	}
	return nil
}

// allowedOutsidePair reports whether a program may appear in the transaction
// outside the flash pair.
func allowedOutsidePair(programID account.AccountID) bool {
	return programID == tx.ComputeBudgetProgramID ||
		programID == tx.TokenProgramID ||
		programID == tx.Token2022ProgramID ||
		programID == tx.AssociatedTokenProgramID
}

// EnsurePairedEnd runs from the start instruction of a flash fill. It locates
// the matching end instruction later in the transaction and returns its
// decoded arguments for the caller to compare against its own. Instructions
// before the start and after the end must be on the auxiliary allow-list.
// Foreign instructions between the pair are the point of a flash fill and are
// not restricted here.
func EnsurePairedEnd(loader InstructionLoader, program account.AccountID) (*tx.TakeOrderArgs, error) {
	cur := loader.CurrentIndex()

	for i := 0; i < cur; i++ {
		in, err := loader.InstructionAt(i)
		if err != nil {
			return nil, err
		}
		if !allowedOutsidePair(in.ProgramID) {
			return nil, ErrFlashTxWithUnexpectedIxs
		}
	}

	var paired *tx.Instruction
	i := cur + 1
	for ; i < loader.Len(); i++ {
		in, err := loader.InstructionAt(i)
		if err != nil {
			return nil, err
		}
		if in.ProgramID == program {
			paired = in
			i++
			break
		}
	}
	if paired == nil {
		return nil, ErrFlashIxsNotEnded
	}

	for ; i < loader.Len(); i++ {
		in, err := loader.InstructionAt(i)
		if err != nil {
			return nil, err
		}
		if !allowedOutsidePair(in.ProgramID) {
			return nil, ErrFlashTxWithUnexpectedIxs
		}
	}

	return checkPairedFill(loader, paired, tx.FlashTakeOrderEndIx)
}

// EnsurePairedStart runs from the end instruction of a flash fill. It locates
// the matching start instruction earlier in the transaction and returns its
// decoded arguments. Instructions before the start and after the current
// instruction must be on the auxiliary allow-list.
func EnsurePairedStart(loader InstructionLoader, program account.AccountID) (*tx.TakeOrderArgs, error) {
	cur := loader.CurrentIndex()

	for i := cur + 1; i < loader.Len(); i++ {
		in, err := loader.InstructionAt(i)
		if err != nil {
			return nil, err
		}
		if !allowedOutsidePair(in.ProgramID) {
			return nil, ErrFlashTxWithUnexpectedIxs
		}
	}

	var paired *tx.Instruction
	for i := 0; i < cur; i++ {
		in, err := loader.InstructionAt(i)
		if err != nil {
			return nil, err
		}
		if in.ProgramID == program {
			paired = in
			break
		}
		if !allowedOutsidePair(in.ProgramID) {
			return nil, ErrFlashTxWithUnexpectedIxs
		}
	}
	if paired == nil {
		return nil, ErrFlashIxsNotStarted
	}

	return checkPairedFill(loader, paired, tx.FlashTakeOrderStartIx)
}

func checkPairedFill(loader InstructionLoader, paired *tx.Instruction,
	wantDiscriminator [tx.DiscriminatorSize]byte) (*tx.TakeOrderArgs, error) {

	if err := checkPaired(loader, paired, wantDiscriminator); err != nil {
		return nil, err
	}
	args, err := tx.DecodeTakeOrderArgs(paired.Args())
	if err != nil {
		return nil, limo.NewError(ErrFlashTxWithUnexpectedIxs, err.Error())
	}
	return args, nil
}

// checkPaired requires the paired instruction to carry the expected method
// discriminator and an account list identical to the executing instruction's,
// compared by address and in order.
func checkPaired(loader InstructionLoader, paired *tx.Instruction,
	wantDiscriminator [tx.DiscriminatorSize]byte) error {

	d, ok := paired.Discriminator()
	if !ok || d != wantDiscriminator {
		return ErrFlashTxWithUnexpectedIxs
	}

	current, err := loader.InstructionAt(loader.CurrentIndex())
	if err != nil {
		return err
	}
	if !account.Equal(current.AccountKeys(), paired.AccountKeys()) {
		return ErrFlashIxsAccountMismatch
	}
	return nil
}

// EnsureSwapBracketEnd runs from the start instruction of a balance-logging
// bracket. Unlike the flash fill scan, the bracket is strict: exactly one
// instruction of the designated swap program between start and end, and
// nothing else.
func EnsureSwapBracketEnd(loader InstructionLoader, program,
	swapProgram account.AccountID) (*tx.LogUserSwapBalancesArgs, error) {

	cur := loader.CurrentIndex()

	var paired *tx.Instruction
	foundSwap := false
	for i := cur + 1; i < loader.Len(); i++ {
		in, err := loader.InstructionAt(i)
		if err != nil {
			return nil, err
		}
		if in.ProgramID == program {
			paired = in
			break
		}
		if in.ProgramID == swapProgram {
			if foundSwap {
				return nil, ErrFlashTxWithUnexpectedIxs
			}
			foundSwap = true
			continue
		}
		return nil, ErrFlashTxWithUnexpectedIxs
	}
	if paired == nil {
		return nil, ErrFlashIxsNotEnded
	}
	if !foundSwap {
		return nil, ErrFlashTxWithUnexpectedIxs
	}

	return checkPairedBracket(loader, paired, tx.LogUserSwapBalancesEnd)
}

// EnsureSwapBracketStart runs from the end instruction of a balance-logging
// bracket, scanning backward for the matching start with the same strict
// one-swap rule.
func EnsureSwapBracketStart(loader InstructionLoader, program,
	swapProgram account.AccountID) (*tx.LogUserSwapBalancesArgs, error) {

	cur := loader.CurrentIndex()

	var paired *tx.Instruction
	foundSwap := false
	for i := cur - 1; i >= 0; i-- {
		in, err := loader.InstructionAt(i)
		if err != nil {
			return nil, err
		}
		if in.ProgramID == program {
			paired = in
			break
		}
		if in.ProgramID == swapProgram {
			if foundSwap {
				return nil, ErrFlashTxWithUnexpectedIxs
			}
			foundSwap = true
			continue
		}
		return nil, ErrFlashTxWithUnexpectedIxs
	}
	if paired == nil {
		return nil, ErrFlashIxsNotStarted
	}
	if !foundSwap {
		return nil, ErrFlashTxWithUnexpectedIxs
	}

	return checkPairedBracket(loader, paired, tx.LogUserSwapBalancesStart)
}

func checkPairedBracket(loader InstructionLoader, paired *tx.Instruction,
	wantDiscriminator [tx.DiscriminatorSize]byte) (*tx.LogUserSwapBalancesArgs, error) {

	if err := checkPaired(loader, paired, wantDiscriminator); err != nil {
		return nil, err
	}
	args, err := tx.DecodeLogUserSwapBalancesArgs(paired.Args())
	if err != nil {
		return nil, limo.NewError(ErrFlashTxWithUnexpectedIxs, err.Error())
	}
	return args, nil
}
