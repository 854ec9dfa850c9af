// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package market implements the order fill engine, the tip accounting, and
// the GlobalConfig lifecycle. Functions here operate on in-memory records
// only. Account loading, signer checks, and vault transfers belong to the
// program layer, which commits or discards whole transactions atomically.
package market

import (
	"github.com/Kamino-Finance/limo"
	"github.com/Kamino-Finance/limo/account"
	"github.com/Kamino-Finance/limo/calc"
	"github.com/Kamino-Finance/limo/order"
)

// Order state and arithmetic errors.
const (
	ErrOrderNotActive               = limo.ErrorKind("order is not active")
	ErrOrderInputAmountInvalid      = limo.ErrorKind("order input amount invalid")
	ErrOrderInputAmountTooLarge     = limo.ErrorKind("order input amount too large")
	ErrOrderOutputAmountInvalid     = limo.ErrorKind("order output amount invalid")
	ErrOrderSameMint                = limo.ErrorKind("order input and output mints are the same")
	ErrMathOverflow                 = limo.ErrorKind("math overflow")
	ErrOrderCannotBeCanceled        = limo.ErrorKind("order can not be canceled")
	ErrNotEnoughTimePassed          = limo.ErrorKind("not enough time passed since last update")
	ErrOrderWithinFlashOperation    = limo.ErrorKind("order within flash operation")
	ErrOrderNotWithinFlashOperation = limo.ErrorKind("order not within flash operation")
	ErrInvalidTipBalance            = limo.ErrorKind("invalid tip balance")
	ErrInvalidTipTransferAmount     = limo.ErrorKind("invalid tip transfer amount")
	ErrInvalidHostTipBalance        = limo.ErrorKind("invalid host tip balance")
	ErrInvalidParameterType         = limo.ErrorKind("invalid parameter type")
)

// TakeOrderEffects is the pair of escrow movements a fill produces.
type TakeOrderEffects struct {
	InputToSendToTaker  uint64
	OutputToSendToMaker uint64
}

// TipCalcs is the host/maker split of a fill's tip.
type TipCalcs struct {
	HostTip  uint64
	MakerTip uint64
}

// CreateOrder populates a fresh Order record. The input escrow transfer and
// the record's address derivation happen at the program layer before this is
// called.
func CreateOrder(o *order.Order, globalConfig, maker account.AccountID,
	inputAmount, outputAmount uint64, inputMint, outputMint account.AccountID,
	inputMintProgramID, outputMintProgramID account.AccountID,
	orderType order.OrderType, inVaultBump uint8, now uint64) error {

	if inputMint == outputMint {
		return ErrOrderSameMint
	}
	if inputAmount == 0 {
		return ErrOrderInputAmountInvalid
	}
	if outputAmount == 0 {
		return ErrOrderOutputAmountInvalid
	}

	o.GlobalConfig = globalConfig
	o.InitialInputAmount = inputAmount
	o.RemainingInputAmount = inputAmount
	o.ExpectedOutputAmount = outputAmount
	o.NumberOfFills = 0
	o.FilledOutputAmount = 0
	o.InputMint = inputMint
	o.InputMintProgramID = inputMintProgramID
	o.OutputMint = outputMint
	o.OutputMintProgramID = outputMintProgramID
	o.Maker = maker
	o.Status = order.OrderStatusActive
	o.Type = orderType
	o.InVaultBump = inVaultBump
	o.LastUpdatedTimestamp = now
	o.Counterparty = account.AccountID{}
	o.Permissionless = 0

	return nil
}

// UpdateOrder applies a maker-requested change to an active order. The value
// length must match the targeted field exactly.
func UpdateOrder(log limo.Logger, o *order.Order, mode order.UpdateOrderMode,
	value []byte) error {

	switch mode {
	case order.UpdatePermissionless:
		if len(value) != 1 {
			return ErrInvalidParameterType
		}
		if value[0] != 0 && value[0] != 1 {
			return ErrInvalidParameterType
		}
		log.Infof("update_order mode=%d: permissionless new=%d prev=%d",
			mode, value[0], o.Permissionless)
		o.Permissionless = value[0]
	case order.UpdateCounterparty:
		if len(value) != account.HashSize {
			return ErrInvalidParameterType
		}
		var aid account.AccountID
		copy(aid[:], value)
		log.Infof("update_order mode=%d: counterparty new=%s prev=%s",
			mode, aid, o.Counterparty)
		o.Counterparty = aid
	default:
		return ErrInvalidParameterType
	}
	return nil
}

// CloseOrderAndClaimTip cancels an order so its remaining escrowed input and
// accrued tip can be returned to the maker. Active and Filled orders close.
// Closing is blocked while a flash fill is outstanding and until the
// configured delay since the last update has passed.
func CloseOrderAndClaimTip(o *order.Order, cfg *GlobalConfig, now uint64) error {
	if o.Status != order.OrderStatusActive && o.Status != order.OrderStatusFilled {
		return ErrOrderCannotBeCanceled
	}

	deadline, ok := calc.CheckedAdd(o.LastUpdatedTimestamp, cfg.OrderCloseDelaySeconds)
	if !ok {
		return ErrMathOverflow
	}
	if now < deadline {
		return ErrNotEnoughTimePassed
	}

	if o.FlashLocked() {
		return ErrOrderWithinFlashOperation
	}

	o.Status = order.OrderStatusCancelled

	total, ok := calc.CheckedSub(cfg.TotalTipAmount, o.TipAmount)
	if !ok {
		return ErrInvalidTipBalance
	}
	cfg.TotalTipAmount = total

	return nil
}

// WithdrawHostTip drains the host's accumulated tip share, returning the
// amount owed. The caller transfers it out of the custodial authority.
func WithdrawHostTip(cfg *GlobalConfig, authorityBalance uint64) (uint64, error) {
	if authorityBalance < cfg.HostTipAmount {
		return 0, ErrInvalidHostTipBalance
	}
	hostTip := cfg.HostTipAmount
	total, ok := calc.CheckedSub(cfg.TotalTipAmount, hostTip)
	if !ok {
		return 0, ErrInvalidTipBalance
	}
	cfg.TotalTipAmount = total
	cfg.HostTipAmount = 0
	return hostTip, nil
}

// TakeOrderCalcs validates a fill request against an order and computes the
// escrow movements. The output credited to the maker must be at least the
// remaining-input-proportional share of the expected output, rounded up, so a
// sequence of partial fills can never total less than the maker asked for.
func TakeOrderCalcs(o *order.Order, inputAmount, outputAmount uint64) (TakeOrderEffects, error) {
	if inputAmount == 0 {
		return TakeOrderEffects{}, ErrOrderInputAmountInvalid
	}
	if o.Status != order.OrderStatusActive {
		return TakeOrderEffects{}, ErrOrderNotActive
	}
	if inputAmount > o.RemainingInputAmount {
		return TakeOrderEffects{}, ErrOrderInputAmountTooLarge
	}

	minOutput, ok := calc.MulDivCeil(inputAmount, o.ExpectedOutputAmount, o.InitialInputAmount)
	if !ok {
		return TakeOrderEffects{}, ErrMathOverflow
	}

	if outputAmount < minOutput {
		return TakeOrderEffects{}, ErrOrderOutputAmountInvalid
	}

	return TakeOrderEffects{
		InputToSendToTaker:  inputAmount,
		OutputToSendToMaker: outputAmount,
	}, nil
}

// TakeOrder applies a direct (non-flash) fill to the order and config
// records, returning the escrow movements for the caller to execute.
func TakeOrder(cfg *GlobalConfig, o *order.Order, inputAmount, tipAmount uint64,
	now uint64, outputAmount uint64) (TakeOrderEffects, error) {

	if o.FlashLocked() {
		return TakeOrderEffects{}, ErrOrderWithinFlashOperation
	}

	effects, err := TakeOrderCalcs(o, inputAmount, outputAmount)
	if err != nil {
		return TakeOrderEffects{}, err
	}

	err = updateTakeOrderAccountingAndTips(cfg, o, effects, tipAmount, now)
	if err != nil {
		return TakeOrderEffects{}, err
	}

	return effects, nil
}

// FlashWithdrawOrderInput begins a flash fill. The fill is validated and the
// order flash-locked, but no accounting is applied until the paired
// FlashPayOrderOutput.
func FlashWithdrawOrderInput(o *order.Order, inputAmount, outputAmount uint64) (TakeOrderEffects, error) {
	effects, err := TakeOrderCalcs(o, inputAmount, outputAmount)
	if err != nil {
		return TakeOrderEffects{}, err
	}

	if o.FlashLocked() {
		return TakeOrderEffects{}, ErrOrderWithinFlashOperation
	}
	o.FlashLock = 1

	return effects, nil
}

// FlashPayOrderOutput completes a flash fill, applying the accounting that
// FlashWithdrawOrderInput deferred and releasing the flash lock.
func FlashPayOrderOutput(cfg *GlobalConfig, o *order.Order, inputAmount,
	outputAmount, tipAmount uint64, now uint64) (TakeOrderEffects, error) {

	effects, err := TakeOrderCalcs(o, inputAmount, outputAmount)
	if err != nil {
		return TakeOrderEffects{}, err
	}

	if !o.FlashLocked() {
		return TakeOrderEffects{}, ErrOrderNotWithinFlashOperation
	}

	err = updateTakeOrderAccountingAndTips(cfg, o, effects, tipAmount, now)
	if err != nil {
		return TakeOrderEffects{}, err
	}

	o.FlashLock = 0
	return effects, nil
}

// FlashObservedOutput resolves the output owed at the end of a flash fill.
// The taker's output-balance gain since the start instruction is the observed
// proceeds: when positive, it is what the maker receives, capped at the
// declared minimum. A zero delta falls back to the declared minimum, paid
// from the taker's standing balance. A balance below the start snapshot is an
// accounting fault.
func FlashObservedOutput(startBalance, takerOutputBalance, minOutput uint64) (uint64, error) {
	delta, ok := calc.CheckedSub(takerOutputBalance, startBalance)
	if !ok {
		return 0, ErrMathOverflow
	}
	if delta > 0 && delta < minOutput {
		return delta, nil
	}
	return minOutput, nil
}

// ValidateAuthorityBalance reconciles the custodial authority's live native
// balance against the recorded accounting after a tip transfer. The observed
// balance increase must cover the tip, and the balance must cover all accrued
// tips, or the whole operation fails.
func ValidateAuthorityBalance(cfg *GlobalConfig, authorityBalance, tip uint64) error {
	delta, ok := calc.CheckedSub(authorityBalance, cfg.AuthorityPreviousBalance)
	if !ok || delta < tip {
		return ErrInvalidTipTransferAmount
	}
	if authorityBalance < cfg.TotalTipAmount {
		return ErrInvalidTipBalance
	}

	cfg.AuthorityPreviousBalance = authorityBalance

	return nil
}

func updateTakeOrderAccountingAndTips(cfg *GlobalConfig, o *order.Order,
	effects TakeOrderEffects, tipAmount uint64, now uint64) error {

	remaining, ok := calc.CheckedSub(o.RemainingInputAmount, effects.InputToSendToTaker)
	if !ok {
		return ErrMathOverflow
	}
	o.RemainingInputAmount = remaining

	filled, ok := calc.CheckedAdd(o.FilledOutputAmount, effects.OutputToSendToMaker)
	if !ok {
		return ErrMathOverflow
	}
	o.FilledOutputAmount = filled

	tips, err := tipCalcs(cfg, tipAmount)
	if err != nil {
		return err
	}

	hostTotal, ok := calc.CheckedAdd(cfg.HostTipAmount, tips.HostTip)
	if !ok {
		return ErrMathOverflow
	}
	cfg.HostTipAmount = hostTotal

	makerTip, ok := calc.CheckedAdd(o.TipAmount, tips.MakerTip)
	if !ok {
		return ErrMathOverflow
	}
	o.TipAmount = makerTip

	total, ok := calc.CheckedAdd(cfg.TotalTipAmount, tipAmount)
	if !ok {
		return ErrMathOverflow
	}
	cfg.TotalTipAmount = total

	o.NumberOfFills++

	if o.RemainingInputAmount == 0 && o.FilledOutputAmount >= o.ExpectedOutputAmount {
		o.Status = order.OrderStatusFilled
	}
	o.LastUpdatedTimestamp = now
	return nil
}

// tipCalcs splits a fill's tip between the host and the maker. The host share
// rounds up, so the host is never short-paid by integer division.
func tipCalcs(cfg *GlobalConfig, tipAmount uint64) (TipCalcs, error) {
	hostTip := calc.BasisPointsCeil(tipAmount, cfg.HostFeeBps)
	makerTip, ok := calc.CheckedSub(tipAmount, hostTip)
	if !ok {
		return TipCalcs{}, ErrMathOverflow
	}
	return TipCalcs{HostTip: hostTip, MakerTip: makerTip}, nil
}
