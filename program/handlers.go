// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package program

import (
	"github.com/Kamino-Finance/limo/account"
	"github.com/Kamino-Finance/limo/flash"
	"github.com/Kamino-Finance/limo/market"
	"github.com/Kamino-Finance/limo/order"
	"github.com/Kamino-Finance/limo/store"
	"github.com/Kamino-Finance/limo/tx"
	"github.com/Kamino-Finance/limo/vault"
)

// loadConfig retrieves the GlobalConfig record named at account index i.
func (p *Program) loadConfig(txn *store.Txn, in *tx.Instruction, i int) (*market.GlobalConfig, account.AccountID, error) {
	cfgID, err := accountAt(in, i)
	if err != nil {
		return nil, account.AccountID{}, err
	}
	cfg, err := txn.Config()
	if err != nil {
		return nil, account.AccountID{}, err
	}
	return cfg, cfgID, nil
}

// Accounts: 0 admin (signer), 1 globalConfig.
func (p *Program) handleInitializeGlobalConfig(txn *store.Txn, in *tx.Instruction) error {
	admin, err := signer(in, 0)
	if err != nil {
		return err
	}
	cfgID, err := accountAt(in, 1)
	if err != nil {
		return err
	}

	authority, bump := vault.DeriveAuthority(cfgID)
	cfg := new(market.GlobalConfig)
	market.InitializeGlobalConfig(cfg, admin, authority, uint64(bump),
		p.ledger.NativeBalance(authority))

	p.log.Infof("initialized global config %s, admin %s, authority %s", cfgID, admin, authority)
	return txn.SetConfig(cfg)
}

// Accounts: 0 admin (signer), 1 globalConfig, 2 mint.
func (p *Program) handleInitializeVault(txn *store.Txn, in *tx.Instruction) error {
	admin, err := signer(in, 0)
	if err != nil {
		return err
	}
	cfg, cfgID, err := p.loadConfig(txn, in, 1)
	if err != nil {
		return err
	}
	mint, err := accountAt(in, 2)
	if err != nil {
		return err
	}

	if admin != cfg.AdminAuthority {
		return ErrInvalidAdminAuthority
	}
	if err = market.RequireNotEmergency(cfg); err != nil {
		return err
	}

	vaultAddr, bump := vault.DeriveVaultAddress(cfgID, mint)
	p.log.Infof("initialized escrow vault %s (bump %d) for mint %s", vaultAddr, bump, mint)
	return nil
}

// Accounts: 0 maker (signer), 1 globalConfig, 2 order, 3 inputMint,
// 4 outputMint, 5 inputVault, 6 inputTokenProgram, 7 outputTokenProgram.
func (p *Program) handleCreateOrder(txn *store.Txn, in *tx.Instruction) error {
	maker, err := signer(in, 0)
	if err != nil {
		return err
	}
	cfg, cfgID, err := p.loadConfig(txn, in, 1)
	if err != nil {
		return err
	}
	if len(in.Accounts) < 8 {
		return ErrInvalidAccount
	}
	oid := in.Accounts[2].Key
	inputMint := in.Accounts[3].Key
	outputMint := in.Accounts[4].Key
	vaultAddr := in.Accounts[5].Key
	inputMintProgram := in.Accounts[6].Key
	outputMintProgram := in.Accounts[7].Key

	if err = market.RequireNotEmergency(cfg); err != nil {
		return err
	}
	if err = market.RequireNewOrdersEnabled(cfg); err != nil {
		return err
	}

	wantVault, vaultBump := vault.DeriveVaultAddress(cfgID, inputMint)
	if vaultAddr != wantVault {
		return ErrInvalidAccount
	}

	args, err := tx.DecodeCreateOrderArgs(in.Args())
	if err != nil {
		return err
	}
	orderType, err := order.ParseOrderType(args.OrderType)
	if err != nil {
		return err
	}

	o := new(order.Order)
	err = market.CreateOrder(o, cfgID, maker, args.InputAmount, args.OutputAmount,
		inputMint, outputMint, inputMintProgram, outputMintProgram, orderType,
		vaultBump, p.now())
	if err != nil {
		return err
	}

	if err = p.ledger.TransferToken(inputMint, maker, vaultAddr, args.InputAmount); err != nil {
		return err
	}

	p.log.Infof("created order %s, input_amount %d, input_mint %s, output_amount %d, output_mint %s",
		oid, args.InputAmount, inputMint, args.OutputAmount, outputMint)
	return txn.SetOrder(oid, o)
}

// fillAccounts is the account layout shared by take_order and the flash fill
// pair: 0 taker (signer), 1 maker, 2 globalConfig, 3 pdaAuthority, 4 order,
// 5 inputMint, 6 outputMint, 7 inputVault, 8 permission (optional).
type fillAccounts struct {
	taker      account.AccountID
	maker      account.AccountID
	cfgID      account.AccountID
	authority  account.AccountID
	oid        account.AccountID
	inputMint  account.AccountID
	outputMint account.AccountID
	vaultAddr  account.AccountID
	permission *account.AccountID
}

func fillAccountsFrom(in *tx.Instruction) (*fillAccounts, error) {
	taker, err := signer(in, 0)
	if err != nil {
		return nil, err
	}
	if len(in.Accounts) < 8 {
		return nil, ErrInvalidAccount
	}
	accts := &fillAccounts{
		taker:      taker,
		maker:      in.Accounts[1].Key,
		cfgID:      in.Accounts[2].Key,
		authority:  in.Accounts[3].Key,
		oid:        in.Accounts[4].Key,
		inputMint:  in.Accounts[5].Key,
		outputMint: in.Accounts[6].Key,
		vaultAddr:  in.Accounts[7].Key,
	}
	if len(in.Accounts) > 8 {
		permission := in.Accounts[8].Key
		accts.permission = &permission
	}
	return accts, nil
}

// loadFillState loads and cross-checks the config and order records named by
// a fill instruction's accounts.
func (p *Program) loadFillState(txn *store.Txn, accts *fillAccounts) (*market.GlobalConfig, *order.Order, error) {
	cfg, err := txn.Config()
	if err != nil {
		return nil, nil, err
	}
	if accts.authority != cfg.Authority {
		return nil, nil, ErrInvalidPdaAuthority
	}

	o, err := txn.Order(accts.oid)
	if err != nil {
		return nil, nil, err
	}
	if o.GlobalConfig != accts.cfgID || o.Maker != accts.maker {
		return nil, nil, ErrInvalidAccount
	}
	if o.InputMint != accts.inputMint || o.OutputMint != accts.outputMint {
		return nil, nil, ErrInvalidAccount
	}
	wantVault, _ := vault.DeriveVaultAddress(accts.cfgID, accts.inputMint)
	if accts.vaultAddr != wantVault {
		return nil, nil, ErrInvalidAccount
	}
	return cfg, o, nil
}

// checkPermissionAndGetTip applies the fill permission model: the order must
// be permissionless or the fill must carry an external authorization, and the
// taker must satisfy the counterparty restriction. The returned tip is the
// router's when authorized (routed true), the taker-declared amount
// otherwise.
func (p *Program) checkPermissionAndGetTip(o *order.Order, accts *fillAccounts,
	declaredTip uint64) (uint64, bool, error) {

	filledByRouter := accts.permission != nil && p.router != nil
	if !o.IsPermissionless() && !filledByRouter {
		return 0, false, ErrPermissionRequired
	}
	if !o.CounterpartyAllows(accts.taker) {
		return 0, false, ErrCounterpartyDisallowed
	}
	if !filledByRouter {
		return declaredTip, false, nil
	}
	if *accts.permission != accts.oid {
		return 0, false, ErrPermissionDoesNotMatchOrder
	}
	tip, err := p.router.VerifyFill(*accts.permission, accts.oid)
	return tip, err == nil, err
}

// tipPayer is the account a fill's tip is debited from: the router's funding
// account for routed fills, since the relay carries the auction proceeds, and
// the taker otherwise.
func (p *Program) tipPayer(accts *fillAccounts, routed bool) account.AccountID {
	if routed {
		return p.router.TipSource()
	}
	return accts.taker
}

// settleFill moves the fill proceeds: escrowed input to the taker, output to
// the maker, tip to the custodial authority, then reconciles the authority
// balance against the tip accounting.
func (p *Program) settleFill(cfg *market.GlobalConfig, accts *fillAccounts,
	effects market.TakeOrderEffects, tip uint64, tipPayer account.AccountID) error {

	err := p.ledger.TransferToken(accts.outputMint, accts.taker, accts.maker,
		effects.OutputToSendToMaker)
	if err != nil {
		return err
	}
	err = p.ledger.TransferToken(accts.inputMint, accts.vaultAddr, accts.taker,
		effects.InputToSendToTaker)
	if err != nil {
		return err
	}
	if tip > 0 {
		if err = p.ledger.TransferNative(tipPayer, accts.authority, tip); err != nil {
			return err
		}
	}
	return market.ValidateAuthorityBalance(cfg, p.ledger.NativeBalance(accts.authority), tip)
}

func (p *Program) handleTakeOrder(txn *store.Txn, in *tx.Instruction) error {
	accts, err := fillAccountsFrom(in)
	if err != nil {
		return err
	}
	cfg, o, err := p.loadFillState(txn, accts)
	if err != nil {
		return err
	}
	if err = market.RequireNotEmergency(cfg); err != nil {
		return err
	}
	if err = market.RequireTakingEnabled(cfg); err != nil {
		return err
	}

	args, err := tx.DecodeTakeOrderArgs(in.Args())
	if err != nil {
		return err
	}
	tip, routed, err := p.checkPermissionAndGetTip(o, accts, args.TipAmountPermissionlessTaking)
	if err != nil {
		return err
	}

	effects, err := market.TakeOrder(cfg, o, args.InputAmount, tip, p.now(), args.MinOutputAmount)
	if err != nil {
		return err
	}
	if err = p.settleFill(cfg, accts, effects, tip, p.tipPayer(accts, routed)); err != nil {
		return err
	}

	p.log.Infof("take_order %s: input %d to taker %s, output %d to maker %s, tip %d",
		accts.oid, effects.InputToSendToTaker, accts.taker, effects.OutputToSendToMaker,
		accts.maker, tip)

	if err = txn.SetOrder(accts.oid, o); err != nil {
		return err
	}
	return txn.SetConfig(cfg)
}

func (p *Program) handleFlashTakeOrderStart(txn *store.Txn, view *tx.View, in *tx.Instruction) error {
	accts, err := fillAccountsFrom(in)
	if err != nil {
		return err
	}
	cfg, o, err := p.loadFillState(txn, accts)
	if err != nil {
		return err
	}
	if err = market.RequireNotEmergency(cfg); err != nil {
		return err
	}
	if err = market.RequireTakingEnabled(cfg); err != nil {
		return err
	}
	if err = market.RequireFlashTakingEnabled(cfg); err != nil {
		return err
	}

	if err = flash.VerifyTopLevel(view, p.id); err != nil {
		return err
	}
	args, err := tx.DecodeTakeOrderArgs(in.Args())
	if err != nil {
		return err
	}
	endArgs, err := flash.EnsurePairedEnd(view, p.id)
	if err != nil {
		return err
	}
	if *endArgs != *args {
		return flash.ErrFlashIxsArgsMismatch
	}

	effects, err := market.FlashWithdrawOrderInput(o, args.InputAmount, args.MinOutputAmount)
	if err != nil {
		return err
	}
	err = p.ledger.TransferToken(accts.inputMint, accts.vaultAddr, accts.taker,
		effects.InputToSendToTaker)
	if err != nil {
		return err
	}

	o.FlashStartTakerOutputBalance = p.ledger.TokenBalance(accts.outputMint, accts.taker)

	p.log.Infof("flash_take_order_start %s: released %d input to taker %s",
		accts.oid, effects.InputToSendToTaker, accts.taker)
	return txn.SetOrder(accts.oid, o)
}

func (p *Program) handleFlashTakeOrderEnd(txn *store.Txn, view *tx.View, in *tx.Instruction) error {
	accts, err := fillAccountsFrom(in)
	if err != nil {
		return err
	}
	cfg, o, err := p.loadFillState(txn, accts)
	if err != nil {
		return err
	}
	if err = market.RequireNotEmergency(cfg); err != nil {
		return err
	}
	if err = market.RequireTakingEnabled(cfg); err != nil {
		return err
	}
	if err = market.RequireFlashTakingEnabled(cfg); err != nil {
		return err
	}

	if err = flash.VerifyTopLevel(view, p.id); err != nil {
		return err
	}
	args, err := tx.DecodeTakeOrderArgs(in.Args())
	if err != nil {
		return err
	}
	startArgs, err := flash.EnsurePairedStart(view, p.id)
	if err != nil {
		return err
	}
	if *startArgs != *args {
		return flash.ErrFlashIxsArgsMismatch
	}

	tip, routed, err := p.checkPermissionAndGetTip(o, accts, args.TipAmountPermissionlessTaking)
	if err != nil {
		return err
	}

	outputAmount, err := market.FlashObservedOutput(o.FlashStartTakerOutputBalance,
		p.ledger.TokenBalance(accts.outputMint, accts.taker), args.MinOutputAmount)
	if err != nil {
		return err
	}

	effects, err := market.FlashPayOrderOutput(cfg, o, args.InputAmount, outputAmount, tip, p.now())
	if err != nil {
		return err
	}
	err = p.ledger.TransferToken(accts.outputMint, accts.taker, accts.maker,
		effects.OutputToSendToMaker)
	if err != nil {
		return err
	}
	if tip > 0 {
		err = p.ledger.TransferNative(p.tipPayer(accts, routed), accts.authority, tip)
		if err != nil {
			return err
		}
	}
	err = market.ValidateAuthorityBalance(cfg, p.ledger.NativeBalance(accts.authority), tip)
	if err != nil {
		return err
	}

	o.FlashStartTakerOutputBalance = 0

	p.log.Infof("flash_take_order_end %s: output %d to maker %s, tip %d",
		accts.oid, effects.OutputToSendToMaker, accts.maker, tip)

	if err = txn.SetOrder(accts.oid, o); err != nil {
		return err
	}
	return txn.SetConfig(cfg)
}

// Accounts: 0 maker (signer), 1 globalConfig, 2 pdaAuthority, 3 order,
// 4 inputMint, 5 inputVault.
func (p *Program) handleCloseOrderAndClaimTip(txn *store.Txn, in *tx.Instruction) error {
	maker, err := signer(in, 0)
	if err != nil {
		return err
	}
	cfg, cfgID, err := p.loadConfig(txn, in, 1)
	if err != nil {
		return err
	}
	if len(in.Accounts) < 6 {
		return ErrInvalidAccount
	}
	authority := in.Accounts[2].Key
	oid := in.Accounts[3].Key
	inputMint := in.Accounts[4].Key
	vaultAddr := in.Accounts[5].Key

	if authority != cfg.Authority {
		return ErrInvalidPdaAuthority
	}
	o, err := txn.Order(oid)
	if err != nil {
		return err
	}
	if o.Maker != maker {
		return ErrInvalidOrderOwner
	}
	if o.GlobalConfig != cfgID || o.InputMint != inputMint {
		return ErrInvalidAccount
	}
	wantVault, _ := vault.DeriveVaultAddress(cfgID, inputMint)
	if vaultAddr != wantVault {
		return ErrInvalidAccount
	}

	if err = market.CloseOrderAndClaimTip(o, cfg, p.now()); err != nil {
		return err
	}

	if o.RemainingInputAmount > 0 {
		err = p.ledger.TransferToken(inputMint, vaultAddr, maker, o.RemainingInputAmount)
		if err != nil {
			return err
		}
	}
	if o.TipAmount > 0 {
		if err = p.ledger.TransferNative(authority, maker, o.TipAmount); err != nil {
			return err
		}
	}
	cfg.AuthorityPreviousBalance = p.ledger.NativeBalance(authority)

	p.log.Infof("closed order %s: refunded %d input, claimed %d tip to maker %s",
		oid, o.RemainingInputAmount, o.TipAmount, maker)

	if err = txn.DeleteOrder(oid); err != nil {
		return err
	}
	return txn.SetConfig(cfg)
}

// Accounts: 0 maker (signer), 1 order.
func (p *Program) handleUpdateOrder(txn *store.Txn, in *tx.Instruction) error {
	maker, err := signer(in, 0)
	if err != nil {
		return err
	}
	oid, err := accountAt(in, 1)
	if err != nil {
		return err
	}
	o, err := txn.Order(oid)
	if err != nil {
		return err
	}
	if o.Maker != maker {
		return ErrInvalidOrderOwner
	}
	if o.Status != order.OrderStatusActive {
		return market.ErrOrderNotActive
	}
	if o.FlashLocked() {
		return market.ErrOrderWithinFlashOperation
	}

	args, err := tx.DecodeUpdateOrderArgs(in.Args())
	if err != nil {
		return err
	}
	err = market.UpdateOrder(p.log, o, order.UpdateOrderMode(args.Mode), args.Value)
	if err != nil {
		return err
	}
	return txn.SetOrder(oid, o)
}

// Accounts: 0 admin (signer), 1 globalConfig.
func (p *Program) handleUpdateGlobalConfig(txn *store.Txn, in *tx.Instruction) error {
	admin, err := signer(in, 0)
	if err != nil {
		return err
	}
	cfg, _, err := p.loadConfig(txn, in, 1)
	if err != nil {
		return err
	}
	if admin != cfg.AdminAuthority {
		return ErrInvalidAdminAuthority
	}

	args, err := tx.DecodeUpdateGlobalConfigArgs(in.Args())
	if err != nil {
		return err
	}
	err = market.UpdateGlobalConfig(p.log, cfg, market.UpdateGlobalConfigMode(args.Mode),
		&args.Value, p.now())
	if err != nil {
		return err
	}
	return txn.SetConfig(cfg)
}

// Accounts: 0 staged admin (signer), 1 globalConfig.
func (p *Program) handleUpdateGlobalConfigAdmin(txn *store.Txn, in *tx.Instruction) error {
	caller, err := signer(in, 0)
	if err != nil {
		return err
	}
	cfg, _, err := p.loadConfig(txn, in, 1)
	if err != nil {
		return err
	}
	if caller != cfg.AdminAuthorityCached {
		return ErrInvalidAdminAuthority
	}

	market.PromoteCachedAdmin(p.log, cfg)
	return txn.SetConfig(cfg)
}

// Accounts: 0 admin (signer), 1 globalConfig, 2 pdaAuthority.
func (p *Program) handleWithdrawHostTip(txn *store.Txn, in *tx.Instruction) error {
	admin, err := signer(in, 0)
	if err != nil {
		return err
	}
	cfg, _, err := p.loadConfig(txn, in, 1)
	if err != nil {
		return err
	}
	authority, err := accountAt(in, 2)
	if err != nil {
		return err
	}

	if admin != cfg.AdminAuthority {
		return ErrInvalidAdminAuthority
	}
	if err = market.RequireNotEmergency(cfg); err != nil {
		return err
	}
	if authority != cfg.Authority {
		return ErrInvalidPdaAuthority
	}

	amt, err := market.WithdrawHostTip(cfg, p.ledger.NativeBalance(authority))
	if err != nil {
		return err
	}
	if amt > 0 {
		if err = p.ledger.TransferNative(authority, admin, amt); err != nil {
			return err
		}
	}
	cfg.AuthorityPreviousBalance = p.ledger.NativeBalance(authority)

	p.log.Infof("withdrew host tip %d to admin %s", amt, admin)
	return txn.SetConfig(cfg)
}

// Accounts: 0 user (signer), 1 balance state, 2 inputMint, 3 outputMint.
func (p *Program) swapBalanceAccounts(in *tx.Instruction) (user, state, inputMint, outputMint account.AccountID, err error) {
	user, err = signer(in, 0)
	if err != nil {
		return
	}
	if len(in.Accounts) < 4 {
		err = ErrInvalidAccount
		return
	}
	state = in.Accounts[1].Key
	inputMint = in.Accounts[2].Key
	outputMint = in.Accounts[3].Key
	return
}

func (p *Program) handleLogUserSwapBalancesStart(txn *store.Txn, view *tx.View, in *tx.Instruction) error {
	user, state, inputMint, outputMint, err := p.swapBalanceAccounts(in)
	if err != nil {
		return err
	}
	if err = flash.VerifyTopLevel(view, p.id); err != nil {
		return err
	}
	args, err := tx.DecodeLogUserSwapBalancesArgs(in.Args())
	if err != nil {
		return err
	}
	endArgs, err := flash.EnsureSwapBracketEnd(view, p.id, args.SwapProgramID)
	if err != nil {
		return err
	}
	if *endArgs != *args {
		return flash.ErrFlashIxsArgsMismatch
	}

	return txn.SetSwapBalances(state, &store.UserSwapBalances{
		Lamports:      p.ledger.NativeBalance(user),
		InputBalance:  p.ledger.TokenBalance(inputMint, user),
		OutputBalance: p.ledger.TokenBalance(outputMint, user),
	})
}

func (p *Program) handleLogUserSwapBalancesEnd(txn *store.Txn, view *tx.View, in *tx.Instruction) error {
	user, state, inputMint, outputMint, err := p.swapBalanceAccounts(in)
	if err != nil {
		return err
	}
	if err = flash.VerifyTopLevel(view, p.id); err != nil {
		return err
	}
	args, err := tx.DecodeLogUserSwapBalancesArgs(in.Args())
	if err != nil {
		return err
	}
	startArgs, err := flash.EnsureSwapBracketStart(view, p.id, args.SwapProgramID)
	if err != nil {
		return err
	}
	if *startArgs != *args {
		return flash.ErrFlashIxsArgsMismatch
	}

	before, err := txn.SwapBalances(state)
	if err != nil {
		return err
	}
	p.log.Infof("user %s swap via %s: lamports %d -> %d, input %d -> %d, output %d -> %d",
		user, args.SwapProgramID,
		before.Lamports, p.ledger.NativeBalance(user),
		before.InputBalance, p.ledger.TokenBalance(inputMint, user),
		before.OutputBalance, p.ledger.TokenBalance(outputMint, user))

	return txn.DeleteSwapBalances(state)
}
