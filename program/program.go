// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package program dispatches transactions to the settlement handlers. A
// transaction is an ordered instruction list applied atomically: record
// mutations run in one store update and vault balances are snapshotted up
// front, so a failing instruction discards everything.
package program

import (
	"time"

	"github.com/Kamino-Finance/limo"
	"github.com/Kamino-Finance/limo/account"
	"github.com/Kamino-Finance/limo/encode"
	"github.com/Kamino-Finance/limo/store"
	"github.com/Kamino-Finance/limo/tx"
	"github.com/Kamino-Finance/limo/vault"
)

// Access control and account precondition errors.
const (
	ErrInvalidAdminAuthority       = limo.ErrorKind("invalid admin authority")
	ErrInvalidPdaAuthority         = limo.ErrorKind("invalid pda authority")
	ErrInvalidOrderOwner           = limo.ErrorKind("invalid order owner")
	ErrInvalidAccount              = limo.ErrorKind("invalid account")
	ErrMissingSignature            = limo.ErrorKind("missing required signature")
	ErrPermissionRequired          = limo.ErrorKind("permission required, permissionless taking not enabled")
	ErrPermissionDoesNotMatchOrder = limo.ErrorKind("permission does not match order address")
	ErrCounterpartyDisallowed      = limo.ErrorKind("counterparty not allowed to take the order")
	ErrUnknownInstruction          = limo.ErrorKind("unknown instruction")
)

// RouterAuth verifies a taker's external authorization to fill an order. The
// priority-fee router grants fills to auction winners and carries the routed
// tip with the grant.
type RouterAuth interface {
	// VerifyFill checks the authorization referenced by the permission
	// account for the given order and returns the routed tip.
	VerifyFill(permission, orderID account.AccountID) (uint64, error)
	// TipSource is the native-balance account routed tips are paid from. A
	// router-authorized fill debits the tip here, not from the taker.
	TipSource() account.AccountID
}

// Config is the configuration for a Program.
type Config struct {
	// ID is the program's own address, used for instruction dispatch and the
	// introspection checks.
	ID     account.AccountID
	DB     *store.DB
	Ledger *vault.Ledger
	// Router is the external fill-authorization hook. May be nil, in which
	// case only permissionless orders can be taken.
	Router RouterAuth
	Log    limo.Logger
	// Clock overrides the timestamp source. Nil means wall clock.
	Clock func() uint64
}

// Program executes settlement transactions against the record store and the
// vault ledger.
type Program struct {
	id     account.AccountID
	db     *store.DB
	ledger *vault.Ledger
	router RouterAuth
	log    limo.Logger
	now    func() uint64
}

// New creates a Program.
func New(cfg *Config) *Program {
	now := cfg.Clock
	if now == nil {
		now = func() uint64 { return encode.UnixSeconds(time.Now()) }
	}
	return &Program{
		id:     cfg.ID,
		db:     cfg.DB,
		ledger: cfg.Ledger,
		router: cfg.Router,
		log:    cfg.Log,
		now:    now,
	}
}

// Execute applies a transaction atomically. Instructions targeting other
// programs are skipped; any failing instruction aborts the transaction,
// discarding all record and balance changes.
func (p *Program) Execute(transaction *tx.Tx) error {
	snapshot := p.ledger.Clone()

	err := p.db.Update(func(txn *store.Txn) error {
		return p.executeAttempt(txn, transaction, snapshot)
	})
	if err != nil {
		p.ledger.Restore(snapshot)
	}
	return err
}

// executeAttempt applies every instruction of the transaction. A storage
// conflict retry re-enters here with a fresh store transaction, so the ledger
// is rolled back to the transaction's starting point on every attempt.
func (p *Program) executeAttempt(txn *store.Txn, transaction *tx.Tx, snapshot *vault.Ledger) error {
	p.ledger.Restore(snapshot)
	for i := range transaction.Instructions {
		in := &transaction.Instructions[i]
		if in.ProgramID != p.id {
			p.log.Debugf("skipping instruction %d for foreign program %s", i, in.ProgramID)
			continue
		}
		if err := p.executeInstruction(txn, tx.NewView(transaction, i)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) executeInstruction(txn *store.Txn, view *tx.View) error {
	in, err := view.InstructionAt(view.CurrentIndex())
	if err != nil {
		return err
	}
	d, ok := in.Discriminator()
	if !ok {
		return ErrUnknownInstruction
	}

	switch d {
	case tx.InitializeGlobalConfigIx:
		return p.handleInitializeGlobalConfig(txn, in)
	case tx.InitializeVaultIx:
		return p.handleInitializeVault(txn, in)
	case tx.CreateOrderIx:
		return p.handleCreateOrder(txn, in)
	case tx.TakeOrderIx:
		return p.handleTakeOrder(txn, in)
	case tx.FlashTakeOrderStartIx:
		return p.handleFlashTakeOrderStart(txn, view, in)
	case tx.FlashTakeOrderEndIx:
		return p.handleFlashTakeOrderEnd(txn, view, in)
	case tx.CloseOrderAndClaimTipIx:
		return p.handleCloseOrderAndClaimTip(txn, in)
	case tx.UpdateOrderIx:
		return p.handleUpdateOrder(txn, in)
	case tx.UpdateGlobalConfigIx:
		return p.handleUpdateGlobalConfig(txn, in)
	case tx.UpdateGlobalConfigAdminIx:
		return p.handleUpdateGlobalConfigAdmin(txn, in)
	case tx.WithdrawHostTipIx:
		return p.handleWithdrawHostTip(txn, in)
	case tx.LogUserSwapBalancesStart:
		return p.handleLogUserSwapBalancesStart(txn, view, in)
	case tx.LogUserSwapBalancesEnd:
		return p.handleLogUserSwapBalancesEnd(txn, view, in)
	}
	return ErrUnknownInstruction
}

// signer returns the i'th account's address, requiring its signature.
func signer(in *tx.Instruction, i int) (account.AccountID, error) {
	if i >= len(in.Accounts) {
		return account.AccountID{}, ErrInvalidAccount
	}
	meta := in.Accounts[i]
	if !meta.Signer {
		return account.AccountID{}, ErrMissingSignature
	}
	return meta.Key, nil
}

// accountAt returns the i'th account's address.
func accountAt(in *tx.Instruction, i int) (account.AccountID, error) {
	if i >= len(in.Accounts) {
		return account.AccountID{}, ErrInvalidAccount
	}
	return in.Accounts[i].Key, nil
}
