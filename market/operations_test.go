// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package market

import (
	"errors"
	"math"
	"testing"

	"github.com/Kamino-Finance/limo"
	"github.com/Kamino-Finance/limo/account"
	"github.com/Kamino-Finance/limo/encode"
	"github.com/Kamino-Finance/limo/order"
)

func randID() account.AccountID {
	var aid account.AccountID
	copy(aid[:], encode.RandomBytes(account.HashSize))
	return aid
}

func testConfig() *GlobalConfig {
	cfg := new(GlobalConfig)
	InitializeGlobalConfig(cfg, randID(), randID(), 0xfd, 0)
	return cfg
}

// testOrder returns an active 1000 -> 2000 order, implied price 2 output per
// input.
func testOrder(cfg *GlobalConfig) *order.Order {
	o := new(order.Order)
	err := CreateOrder(o, randID(), randID(), 1000, 2000, randID(), randID(),
		randID(), randID(), order.VanillaOrderType, 0xfe, 1_700_000_000)
	if err != nil {
		panic("CreateOrder: " + err.Error())
	}
	return o
}

func TestCreateOrderChecks(t *testing.T) {
	mint := randID()
	o := new(order.Order)

	err := CreateOrder(o, randID(), randID(), 1000, 2000, mint, mint,
		randID(), randID(), order.VanillaOrderType, 0, 0)
	if !errors.Is(err, ErrOrderSameMint) {
		t.Fatalf("same mint: got %v, wanted ErrOrderSameMint", err)
	}

	err = CreateOrder(o, randID(), randID(), 0, 2000, randID(), randID(),
		randID(), randID(), order.VanillaOrderType, 0, 0)
	if !errors.Is(err, ErrOrderInputAmountInvalid) {
		t.Fatalf("zero input: got %v, wanted ErrOrderInputAmountInvalid", err)
	}

	err = CreateOrder(o, randID(), randID(), 1000, 0, randID(), randID(),
		randID(), randID(), order.VanillaOrderType, 0, 0)
	if !errors.Is(err, ErrOrderOutputAmountInvalid) {
		t.Fatalf("zero output: got %v, wanted ErrOrderOutputAmountInvalid", err)
	}
}

func TestTakeOrderCalcs(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name    string
		input   uint64
		output  uint64
		wantErr error
	}{{
		name:   "exact half at implied price",
		input:  500,
		output: 1000,
	}, {
		name:    "output one short of proportional minimum",
		input:   500,
		output:  999,
		wantErr: ErrOrderOutputAmountInvalid,
	}, {
		name:   "overpaying is allowed",
		input:  500,
		output: 1500,
	}, {
		name:    "zero input",
		input:   0,
		output:  1,
		wantErr: ErrOrderInputAmountInvalid,
	}, {
		name:    "input exceeds remaining",
		input:   1001,
		output:  3000,
		wantErr: ErrOrderInputAmountTooLarge,
	}, {
		name:   "single unit rounds the output up",
		input:  1,
		output: 2,
	}}

	for _, tt := range tests {
		o := testOrder(cfg)
		effects, err := TakeOrderCalcs(o, tt.input, tt.output)
		if !errors.Is(err, tt.wantErr) {
			t.Fatalf("%s: got err %v, wanted %v", tt.name, err, tt.wantErr)
		}
		if err != nil {
			continue
		}
		if effects.InputToSendToTaker != tt.input || effects.OutputToSendToMaker != tt.output {
			t.Fatalf("%s: effects %+v do not echo the validated amounts", tt.name, effects)
		}
	}
}

func TestTakeOrderCalcsCeiling(t *testing.T) {
	// 3 -> 10: filling 1 unit requires ceil(10/3) = 4, and three 1-unit fills
	// deliver 12 >= 10.
	cfg := testConfig()
	o := testOrder(cfg)
	o.InitialInputAmount, o.RemainingInputAmount = 3, 3
	o.ExpectedOutputAmount = 10

	if _, err := TakeOrderCalcs(o, 1, 3); !errors.Is(err, ErrOrderOutputAmountInvalid) {
		t.Fatalf("floor share accepted: %v", err)
	}
	if _, err := TakeOrderCalcs(o, 1, 4); err != nil {
		t.Fatalf("ceiling share rejected: %v", err)
	}

	total := uint64(0)
	for i := 0; i < 3; i++ {
		if _, err := TakeOrder(cfg, o, 1, 0, 0, 4); err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
		total += 4
	}
	if total < o.ExpectedOutputAmount {
		t.Fatalf("partial fills summed to %d, below expected %d", total, o.ExpectedOutputAmount)
	}
	if o.Status != order.OrderStatusFilled {
		t.Fatalf("order not filled after consuming all input, status %v", o.Status)
	}
}

func TestTakeOrderCalcsOverflow(t *testing.T) {
	cfg := testConfig()
	o := testOrder(cfg)
	o.InitialInputAmount, o.RemainingInputAmount = math.MaxUint64, math.MaxUint64
	o.ExpectedOutputAmount = math.MaxUint64

	// The 128-bit product is fine, but the proportional minimum for the full
	// remaining input is MaxUint64, which still fits.
	if _, err := TakeOrderCalcs(o, math.MaxUint64, math.MaxUint64); err != nil {
		t.Fatalf("max-range fill rejected: %v", err)
	}

	// A quotient that does not fit must be reported, not wrapped.
	o.InitialInputAmount = 1
	o.RemainingInputAmount = math.MaxUint64
	if _, err := TakeOrderCalcs(o, 2, math.MaxUint64); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("got %v, wanted ErrMathOverflow", err)
	}
}

func TestTakeOrderLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.HostFeeBps = 250
	o := testOrder(cfg)

	effects, err := TakeOrder(cfg, o, 500, 101, 1_700_000_100, 1000)
	if err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if effects.InputToSendToTaker != 500 || effects.OutputToSendToMaker != 1000 {
		t.Fatalf("unexpected effects %+v", effects)
	}
	if o.Status != order.OrderStatusActive {
		t.Fatalf("half-filled order left active state: %v", o.Status)
	}
	if o.RemainingInputAmount != 500 || o.FilledOutputAmount != 1000 || o.NumberOfFills != 1 {
		t.Fatalf("fill accounting wrong: remaining=%d filled=%d fills=%d",
			o.RemainingInputAmount, o.FilledOutputAmount, o.NumberOfFills)
	}
	// ceil(101 * 250 / 10000) = 3 to the host, 98 to the maker.
	if cfg.HostTipAmount != 3 || o.TipAmount != 98 || cfg.TotalTipAmount != 101 {
		t.Fatalf("tip split wrong: host=%d maker=%d total=%d",
			cfg.HostTipAmount, o.TipAmount, cfg.TotalTipAmount)
	}
	if o.LastUpdatedTimestamp != 1_700_000_100 {
		t.Fatalf("timestamp not stamped")
	}

	_, err = TakeOrder(cfg, o, 500, 0, 1_700_000_200, 1000)
	if err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if o.Status != order.OrderStatusFilled {
		t.Fatalf("fully consumed order not filled: %v", o.Status)
	}
	if o.RemainingInputAmount != 0 || o.FilledOutputAmount != 2000 || o.NumberOfFills != 2 {
		t.Fatalf("final accounting wrong: remaining=%d filled=%d fills=%d",
			o.RemainingInputAmount, o.FilledOutputAmount, o.NumberOfFills)
	}
	if cfg.HostTipAmount+o.TipAmount != cfg.TotalTipAmount {
		t.Fatalf("tip conservation broken: host=%d maker=%d total=%d",
			cfg.HostTipAmount, o.TipAmount, cfg.TotalTipAmount)
	}

	// Terminal states reject further fills.
	if _, err = TakeOrder(cfg, o, 1, 0, 0, 2); !errors.Is(err, ErrOrderNotActive) {
		t.Fatalf("filled order accepted a fill: %v", err)
	}
	o.Status = order.OrderStatusCancelled
	o.RemainingInputAmount = 500
	if _, err = TakeOrder(cfg, o, 1, 0, 0, 2); !errors.Is(err, ErrOrderNotActive) {
		t.Fatalf("cancelled order accepted a fill: %v", err)
	}
}

func TestFlashFillPair(t *testing.T) {
	cfg := testConfig()
	o := testOrder(cfg)

	// End before start.
	if _, err := FlashPayOrderOutput(cfg, o, 500, 1000, 0, 0); !errors.Is(err, ErrOrderNotWithinFlashOperation) {
		t.Fatalf("unlocked end: got %v", err)
	}

	effects, err := FlashWithdrawOrderInput(o, 500, 1000)
	if err != nil {
		t.Fatalf("flash start: %v", err)
	}
	if effects.InputToSendToTaker != 500 {
		t.Fatalf("unexpected flash start effects %+v", effects)
	}
	if !o.FlashLocked() {
		t.Fatalf("flash start did not lock the order")
	}
	// Start validates but defers accounting.
	if o.RemainingInputAmount != 1000 || o.NumberOfFills != 0 {
		t.Fatalf("flash start applied accounting early")
	}

	// While locked, everything else is refused.
	if _, err = FlashWithdrawOrderInput(o, 500, 1000); !errors.Is(err, ErrOrderWithinFlashOperation) {
		t.Fatalf("double flash start: got %v", err)
	}
	if _, err = TakeOrder(cfg, o, 500, 0, 0, 1000); !errors.Is(err, ErrOrderWithinFlashOperation) {
		t.Fatalf("direct fill while locked: got %v", err)
	}
	if err = CloseOrderAndClaimTip(o, cfg, math.MaxUint64); !errors.Is(err, ErrOrderWithinFlashOperation) {
		t.Fatalf("close while locked: got %v", err)
	}

	if _, err = FlashPayOrderOutput(cfg, o, 500, 1000, 0, 1_700_000_100); err != nil {
		t.Fatalf("flash end: %v", err)
	}
	if o.FlashLocked() {
		t.Fatalf("flash end did not release the lock")
	}
	if o.RemainingInputAmount != 500 || o.FilledOutputAmount != 1000 || o.NumberOfFills != 1 {
		t.Fatalf("flash end accounting wrong: remaining=%d filled=%d fills=%d",
			o.RemainingInputAmount, o.FilledOutputAmount, o.NumberOfFills)
	}
}

func TestCloseOrderAndClaimTip(t *testing.T) {
	cfg := testConfig()
	cfg.OrderCloseDelaySeconds = 60
	o := testOrder(cfg)
	o.TipAmount = 40
	cfg.TotalTipAmount = 100

	created := o.LastUpdatedTimestamp

	if err := CloseOrderAndClaimTip(o, cfg, created+59); !errors.Is(err, ErrNotEnoughTimePassed) {
		t.Fatalf("close before cooldown: got %v", err)
	}

	if err := CloseOrderAndClaimTip(o, cfg, created+60); err != nil {
		t.Fatalf("close at cooldown: %v", err)
	}
	if o.Status != order.OrderStatusCancelled {
		t.Fatalf("closed order status %v", o.Status)
	}
	if cfg.TotalTipAmount != 60 {
		t.Fatalf("total tip not reduced by claimed tip: %d", cfg.TotalTipAmount)
	}

	// Already cancelled.
	if err := CloseOrderAndClaimTip(o, cfg, created+120); !errors.Is(err, ErrOrderCannotBeCanceled) {
		t.Fatalf("double close: got %v", err)
	}

	// A filled order still closes, claiming the tip.
	o2 := testOrder(cfg)
	o2.Status = order.OrderStatusFilled
	if err := CloseOrderAndClaimTip(o2, cfg, created+60); err != nil {
		t.Fatalf("close of filled order: %v", err)
	}

	// The config total must cover the order tip.
	o3 := testOrder(cfg)
	o3.TipAmount = cfg.TotalTipAmount + 1
	if err := CloseOrderAndClaimTip(o3, cfg, created+60); !errors.Is(err, ErrInvalidTipBalance) {
		t.Fatalf("over-claim: got %v", err)
	}
}

func TestWithdrawHostTip(t *testing.T) {
	cfg := testConfig()
	cfg.TotalTipAmount = 100
	cfg.HostTipAmount = 30

	if _, err := WithdrawHostTip(cfg, 29); !errors.Is(err, ErrInvalidHostTipBalance) {
		t.Fatalf("underfunded withdraw: got %v", err)
	}

	amt, err := WithdrawHostTip(cfg, 100)
	if err != nil {
		t.Fatalf("WithdrawHostTip: %v", err)
	}
	if amt != 30 || cfg.HostTipAmount != 0 || cfg.TotalTipAmount != 70 {
		t.Fatalf("withdraw accounting wrong: amt=%d host=%d total=%d",
			amt, cfg.HostTipAmount, cfg.TotalTipAmount)
	}
}

func TestValidateAuthorityBalance(t *testing.T) {
	cfg := testConfig()
	cfg.AuthorityPreviousBalance = 1000
	cfg.TotalTipAmount = 500

	// Balance grew by less than the tip.
	if err := ValidateAuthorityBalance(cfg, 1004, 5); !errors.Is(err, ErrInvalidTipTransferAmount) {
		t.Fatalf("short-paid tip: got %v", err)
	}
	// Balance decreased.
	if err := ValidateAuthorityBalance(cfg, 999, 0); !errors.Is(err, ErrInvalidTipTransferAmount) {
		t.Fatalf("decreased balance: got %v", err)
	}
	// Balance below accrued tips.
	cfg.AuthorityPreviousBalance = 100
	if err := ValidateAuthorityBalance(cfg, 400, 5); !errors.Is(err, ErrInvalidTipBalance) {
		t.Fatalf("balance below accrued tips: got %v", err)
	}

	cfg.AuthorityPreviousBalance = 1000
	if err := ValidateAuthorityBalance(cfg, 1005, 5); err != nil {
		t.Fatalf("ValidateAuthorityBalance: %v", err)
	}
	if cfg.AuthorityPreviousBalance != 1005 {
		t.Fatalf("recorded balance not advanced: %d", cfg.AuthorityPreviousBalance)
	}
}

func TestUpdateOrder(t *testing.T) {
	cfg := testConfig()
	o := testOrder(cfg)
	log := limo.Disabled

	if err := UpdateOrder(log, o, order.UpdatePermissionless, []byte{1}); err != nil {
		t.Fatalf("set permissionless: %v", err)
	}
	if !o.IsPermissionless() {
		t.Fatalf("permissionless flag not set")
	}
	if err := UpdateOrder(log, o, order.UpdatePermissionless, []byte{2}); !errors.Is(err, ErrInvalidParameterType) {
		t.Fatalf("bad flag value: got %v", err)
	}
	if err := UpdateOrder(log, o, order.UpdatePermissionless, []byte{0, 0}); !errors.Is(err, ErrInvalidParameterType) {
		t.Fatalf("bad flag length: got %v", err)
	}

	cp := randID()
	if err := UpdateOrder(log, o, order.UpdateCounterparty, cp[:]); err != nil {
		t.Fatalf("set counterparty: %v", err)
	}
	if o.Counterparty != cp {
		t.Fatalf("counterparty not set")
	}
	if err := UpdateOrder(log, o, order.UpdateCounterparty, cp[:31]); !errors.Is(err, ErrInvalidParameterType) {
		t.Fatalf("short counterparty: got %v", err)
	}

	if err := UpdateOrder(log, o, order.UpdateOrderMode(99), []byte{0}); !errors.Is(err, ErrInvalidParameterType) {
		t.Fatalf("unknown mode: got %v", err)
	}
}

func TestFlashObservedOutput(t *testing.T) {
	tests := []struct {
		name      string
		start     uint64
		live      uint64
		minOutput uint64
		want      uint64
		wantErr   error
	}{{
		name:      "zero delta falls back to declared minimum",
		start:     5000,
		live:      5000,
		minOutput: 2000,
		want:      2000,
	}, {
		name:      "delta below minimum caps the output",
		start:     5000,
		live:      6950,
		minOutput: 2000,
		want:      1950,
	}, {
		name:      "delta at minimum pays the minimum",
		start:     5000,
		live:      7000,
		minOutput: 2000,
		want:      2000,
	}, {
		name:      "delta above minimum still pays the minimum",
		start:     5000,
		live:      8000,
		minOutput: 2000,
		want:      2000,
	}, {
		name:    "balance below the start snapshot",
		start:   5000,
		live:    4999,
		wantErr: ErrMathOverflow,
	}}

	for _, test := range tests {
		got, err := FlashObservedOutput(test.start, test.live, test.minOutput)
		if test.wantErr != nil {
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("%s: got err %v, wanted %v", test.name, err, test.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", test.name, err)
		}
		if got != test.want {
			t.Fatalf("%s: got %d, wanted %d", test.name, got, test.want)
		}
	}
}

func TestFlashFillObservedDelta(t *testing.T) {
	// The taker declares a minimum above the proportional floor but only
	// gains a smaller amount between the flash halves. The maker is paid the
	// observed gain, still above the floor.
	cfg := testConfig()
	o := testOrder(cfg)

	if _, err := FlashWithdrawOrderInput(o, 1000, 2100); err != nil {
		t.Fatalf("FlashWithdrawOrderInput: %v", err)
	}

	output, err := FlashObservedOutput(5000, 7050, 2100)
	if err != nil {
		t.Fatalf("FlashObservedOutput: %v", err)
	}
	if output != 2050 {
		t.Fatalf("observed output %d, wanted 2050", output)
	}

	effects, err := FlashPayOrderOutput(cfg, o, 1000, output, 0, 1_700_000_100)
	if err != nil {
		t.Fatalf("FlashPayOrderOutput: %v", err)
	}
	if effects.OutputToSendToMaker != 2050 {
		t.Fatalf("maker paid %d, wanted the capped delta 2050", effects.OutputToSendToMaker)
	}
	if o.Status != order.OrderStatusFilled || o.FilledOutputAmount != 2050 {
		t.Fatalf("fill not applied: status=%v filled=%d", o.Status, o.FilledOutputAmount)
	}

	// An observed gain below the proportional floor fails the fill, leaving
	// the flash lock in place.
	o2 := testOrder(cfg)
	if _, err = FlashWithdrawOrderInput(o2, 1000, 2100); err != nil {
		t.Fatalf("FlashWithdrawOrderInput: %v", err)
	}
	output, err = FlashObservedOutput(5000, 6900, 2100)
	if err != nil {
		t.Fatalf("FlashObservedOutput: %v", err)
	}
	if output != 1900 {
		t.Fatalf("observed output %d, wanted 1900", output)
	}
	_, err = FlashPayOrderOutput(cfg, o2, 1000, output, 0, 1_700_000_100)
	if !errors.Is(err, ErrOrderOutputAmountInvalid) {
		t.Fatalf("underpaid flash fill: got %v", err)
	}
	if !o2.FlashLocked() {
		t.Fatalf("failed flash fill released the lock")
	}
}
