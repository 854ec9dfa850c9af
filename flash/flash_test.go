// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package flash

import (
	"errors"
	"testing"

	"github.com/Kamino-Finance/limo/account"
	"github.com/Kamino-Finance/limo/encode"
	"github.com/Kamino-Finance/limo/tx"
)

var (
	limoProgram = testID("limo")
	swapProgram = testID("swapper")
	foreign     = testID("foreign")
)

func testID(seed string) account.AccountID {
	return account.HashFunc([]byte("test:" + seed))
}

func randID() account.AccountID {
	var aid account.AccountID
	copy(aid[:], encode.RandomBytes(account.HashSize))
	return aid
}

var fillAccounts = []tx.AccountMeta{
	{Key: testID("taker"), Signer: true},
	{Key: testID("maker")},
	{Key: testID("order")},
	{Key: testID("vault")},
}

func fillArgs() *tx.TakeOrderArgs {
	return &tx.TakeOrderArgs{InputAmount: 500, MinOutputAmount: 1000}
}

func startIx() tx.Instruction {
	return tx.NewInstruction(limoProgram, tx.FlashTakeOrderStartIx, fillArgs().Encode(), fillAccounts...)
}

func endIx() tx.Instruction {
	return tx.NewInstruction(limoProgram, tx.FlashTakeOrderEndIx, fillArgs().Encode(), fillAccounts...)
}

func foreignIx(program account.AccountID) tx.Instruction {
	return tx.NewInstruction(program, tx.Discriminator("swap"), nil)
}

func TestFlashPairVerification(t *testing.T) {
	// Canonical shape: budget ix, start, arbitrary foreign fills, end, token ix.
	transaction := &tx.Tx{Instructions: []tx.Instruction{
		foreignIx(tx.ComputeBudgetProgramID),
		startIx(),
		foreignIx(foreign),
		foreignIx(swapProgram),
		endIx(),
		foreignIx(tx.TokenProgramID),
	}}

	args, err := EnsurePairedEnd(tx.NewView(transaction, 1), limoProgram)
	if err != nil {
		t.Fatalf("EnsurePairedEnd: %v", err)
	}
	if *args != *fillArgs() {
		t.Fatalf("end args not recovered: %+v", args)
	}

	args, err = EnsurePairedStart(tx.NewView(transaction, 4), limoProgram)
	if err != nil {
		t.Fatalf("EnsurePairedStart: %v", err)
	}
	if *args != *fillArgs() {
		t.Fatalf("start args not recovered: %+v", args)
	}
}

func TestFlashPairMissingHalf(t *testing.T) {
	startOnly := &tx.Tx{Instructions: []tx.Instruction{startIx(), foreignIx(foreign)}}
	if _, err := EnsurePairedEnd(tx.NewView(startOnly, 0), limoProgram); !errors.Is(err, ErrFlashIxsNotEnded) {
		t.Fatalf("start without end: got %v", err)
	}

	endOnly := &tx.Tx{Instructions: []tx.Instruction{foreignIx(tx.TokenProgramID), endIx()}}
	if _, err := EnsurePairedStart(tx.NewView(endOnly, 1), limoProgram); !errors.Is(err, ErrFlashIxsNotStarted) {
		t.Fatalf("end without start: got %v", err)
	}
}

func TestFlashPairUnexpectedOutsiders(t *testing.T) {
	// A non-allow-listed instruction before the start.
	before := &tx.Tx{Instructions: []tx.Instruction{foreignIx(foreign), startIx(), endIx()}}
	if _, err := EnsurePairedEnd(tx.NewView(before, 1), limoProgram); !errors.Is(err, ErrFlashTxWithUnexpectedIxs) {
		t.Fatalf("foreign before start: got %v", err)
	}

	// A non-allow-listed instruction after the end.
	after := &tx.Tx{Instructions: []tx.Instruction{startIx(), endIx(), foreignIx(foreign)}}
	if _, err := EnsurePairedEnd(tx.NewView(after, 0), limoProgram); !errors.Is(err, ErrFlashTxWithUnexpectedIxs) {
		t.Fatalf("foreign after end: got %v", err)
	}
	if _, err := EnsurePairedStart(tx.NewView(after, 1), limoProgram); !errors.Is(err, ErrFlashTxWithUnexpectedIxs) {
		t.Fatalf("end verifier, foreign after end: got %v", err)
	}
}

func TestFlashPairMismatches(t *testing.T) {
	// The paired instruction must carry the partner discriminator.
	wrongMethod := &tx.Tx{Instructions: []tx.Instruction{
		startIx(),
		tx.NewInstruction(limoProgram, tx.TakeOrderIx, fillArgs().Encode(), fillAccounts...),
	}}
	if _, err := EnsurePairedEnd(tx.NewView(wrongMethod, 0), limoProgram); !errors.Is(err, ErrFlashTxWithUnexpectedIxs) {
		t.Fatalf("wrong paired method: got %v", err)
	}

	// The account lists must match by address and order.
	reordered := make([]tx.AccountMeta, len(fillAccounts))
	copy(reordered, fillAccounts)
	reordered[0], reordered[1] = reordered[1], reordered[0]
	badAccounts := &tx.Tx{Instructions: []tx.Instruction{
		startIx(),
		tx.NewInstruction(limoProgram, tx.FlashTakeOrderEndIx, fillArgs().Encode(), reordered...),
	}}
	if _, err := EnsurePairedEnd(tx.NewView(badAccounts, 0), limoProgram); !errors.Is(err, ErrFlashIxsAccountMismatch) {
		t.Fatalf("reordered accounts: got %v", err)
	}

	shortList := &tx.Tx{Instructions: []tx.Instruction{
		startIx(),
		tx.NewInstruction(limoProgram, tx.FlashTakeOrderEndIx, fillArgs().Encode(), fillAccounts[:3]...),
	}}
	if _, err := EnsurePairedEnd(tx.NewView(shortList, 0), limoProgram); !errors.Is(err, ErrFlashIxsAccountMismatch) {
		t.Fatalf("short account list: got %v", err)
	}

	// Signer bits are excluded from the comparison.
	unsigned := make([]tx.AccountMeta, len(fillAccounts))
	copy(unsigned, fillAccounts)
	unsigned[0].Signer = false
	signerOnly := &tx.Tx{Instructions: []tx.Instruction{
		startIx(),
		tx.NewInstruction(limoProgram, tx.FlashTakeOrderEndIx, fillArgs().Encode(), unsigned...),
	}}
	if _, err := EnsurePairedEnd(tx.NewView(signerOnly, 0), limoProgram); err != nil {
		t.Fatalf("signer bit difference rejected: %v", err)
	}
}

func TestVerifyTopLevel(t *testing.T) {
	transaction := &tx.Tx{Instructions: []tx.Instruction{startIx()}}

	if err := VerifyTopLevel(tx.NewView(transaction, 0), limoProgram); err != nil {
		t.Fatalf("top-level invocation rejected: %v", err)
	}
	if err := VerifyTopLevel(tx.NewView(transaction, 0), randID()); !errors.Is(err, ErrCPINotAllowed) {
		t.Fatalf("foreign current program: got %v", err)
	}
	if err := VerifyTopLevel(tx.NewNestedView(transaction, 0, 2), limoProgram); !errors.Is(err, ErrCPINotAllowed) {
		t.Fatalf("nested invocation: got %v", err)
	}
}

func bracketArgs() *tx.LogUserSwapBalancesArgs {
	return &tx.LogUserSwapBalancesArgs{SwapProgramID: swapProgram}
}

func bracketStartIx() tx.Instruction {
	return tx.NewInstruction(limoProgram, tx.LogUserSwapBalancesStart, bracketArgs().Encode(), fillAccounts...)
}

func bracketEndIx() tx.Instruction {
	return tx.NewInstruction(limoProgram, tx.LogUserSwapBalancesEnd, bracketArgs().Encode(), fillAccounts...)
}

func TestSwapBracket(t *testing.T) {
	good := &tx.Tx{Instructions: []tx.Instruction{
		bracketStartIx(),
		foreignIx(swapProgram),
		bracketEndIx(),
	}}

	args, err := EnsureSwapBracketEnd(tx.NewView(good, 0), limoProgram, swapProgram)
	if err != nil {
		t.Fatalf("EnsureSwapBracketEnd: %v", err)
	}
	if args.SwapProgramID != swapProgram {
		t.Fatalf("bracket end args not recovered")
	}
	if _, err = EnsureSwapBracketStart(tx.NewView(good, 2), limoProgram, swapProgram); err != nil {
		t.Fatalf("EnsureSwapBracketStart: %v", err)
	}

	// No swap instruction between the pair.
	noSwap := &tx.Tx{Instructions: []tx.Instruction{bracketStartIx(), bracketEndIx()}}
	if _, err = EnsureSwapBracketEnd(tx.NewView(noSwap, 0), limoProgram, swapProgram); !errors.Is(err, ErrFlashTxWithUnexpectedIxs) {
		t.Fatalf("zero swaps, forward: got %v", err)
	}
	if _, err = EnsureSwapBracketStart(tx.NewView(noSwap, 1), limoProgram, swapProgram); !errors.Is(err, ErrFlashTxWithUnexpectedIxs) {
		t.Fatalf("zero swaps, backward: got %v", err)
	}

	// Two swap instructions between the pair.
	twoSwaps := &tx.Tx{Instructions: []tx.Instruction{
		bracketStartIx(),
		foreignIx(swapProgram),
		foreignIx(swapProgram),
		bracketEndIx(),
	}}
	if _, err = EnsureSwapBracketEnd(tx.NewView(twoSwaps, 0), limoProgram, swapProgram); !errors.Is(err, ErrFlashTxWithUnexpectedIxs) {
		t.Fatalf("two swaps, forward: got %v", err)
	}
	if _, err = EnsureSwapBracketStart(tx.NewView(twoSwaps, 3), limoProgram, swapProgram); !errors.Is(err, ErrFlashTxWithUnexpectedIxs) {
		t.Fatalf("two swaps, backward: got %v", err)
	}

	// Anything that is neither the swap program nor the bracket fails.
	intruder := &tx.Tx{Instructions: []tx.Instruction{
		bracketStartIx(),
		foreignIx(swapProgram),
		foreignIx(foreign),
		bracketEndIx(),
	}}
	if _, err = EnsureSwapBracketEnd(tx.NewView(intruder, 0), limoProgram, swapProgram); !errors.Is(err, ErrFlashTxWithUnexpectedIxs) {
		t.Fatalf("intruder, forward: got %v", err)
	}
	if _, err = EnsureSwapBracketStart(tx.NewView(intruder, 3), limoProgram, swapProgram); !errors.Is(err, ErrFlashTxWithUnexpectedIxs) {
		t.Fatalf("intruder, backward: got %v", err)
	}

	// Unpaired halves.
	startOnly := &tx.Tx{Instructions: []tx.Instruction{bracketStartIx(), foreignIx(swapProgram)}}
	if _, err = EnsureSwapBracketEnd(tx.NewView(startOnly, 0), limoProgram, swapProgram); !errors.Is(err, ErrFlashIxsNotEnded) {
		t.Fatalf("bracket start only: got %v", err)
	}
	endOnly := &tx.Tx{Instructions: []tx.Instruction{foreignIx(swapProgram), bracketEndIx()}}
	if _, err = EnsureSwapBracketStart(tx.NewView(endOnly, 1), limoProgram, swapProgram); !errors.Is(err, ErrFlashIxsNotStarted) {
		t.Fatalf("bracket end only: got %v", err)
	}
}
