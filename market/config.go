// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package market

import (
	"fmt"

	"github.com/Kamino-Finance/limo"
	"github.com/Kamino-Finance/limo/account"
	"github.com/Kamino-Finance/limo/calc"
	"github.com/Kamino-Finance/limo/encode"
)

// UpdateGlobalConfigValueSize is the fixed length of the raw value buffer
// accepted by update_global_config. The target field consumes its prefix.
const UpdateGlobalConfigValueSize = 32

// SerializedGlobalConfigSize is the length in bytes of a serialized
// GlobalConfig record, reserved padding included.
const SerializedGlobalConfigSize = 4 + 2 + 2 + 8 + pad1Size + 3*8 +
	account.HashSize + 8 + 2*account.HashSize + 2*8 + configReservedSize

const (
	pad1Size           = 9 * 8
	configReservedSize = 241 * 8
)

// GlobalConfig is the per-deployment configuration and accounting record. It
// owns the escrow vault authority and carries the kill-switches and the
// process-wide tip totals. The field order matches the stored record layout.
type GlobalConfig struct {
	EmergencyMode         uint8
	FlashTakeOrderBlocked uint8
	NewOrdersBlocked      uint8
	OrdersTakingBlocked   uint8

	HostFeeBps uint16

	Pad0 [2]byte

	OrderCloseDelaySeconds uint64

	Pad1 [pad1Size]byte

	// AuthorityPreviousBalance is the custodial authority's native balance as
	// of the last balance-moving operation. The reconciliation check in
	// ValidateAuthorityBalance compares it against the live balance to detect
	// short-paid tips and unattributed external transfers.
	AuthorityPreviousBalance uint64
	TotalTipAmount           uint64
	HostTipAmount            uint64

	Authority     account.AccountID
	AuthorityBump uint64

	AdminAuthority account.AccountID
	// AdminAuthorityCached stages the next admin for the 2-step rotation
	// completed by update_global_config_admin.
	AdminAuthorityCached account.AccountID

	TxnFeeCost      uint64
	AtaCreationCost uint64

	// Reserved padding must be preserved verbatim on any rewrite so that the
	// record interoperates with existing stored images.
	Reserved [configReservedSize]byte
}

// UpdateGlobalConfigMode selects the field targeted by an
// update_global_config instruction.
type UpdateGlobalConfigMode uint16

// The different UpdateGlobalConfigMode values.
const (
	UpdateEmergencyMode UpdateGlobalConfigMode = iota
	UpdateFlashTakeOrderBlocked
	UpdateBlockNewOrders
	UpdateBlockOrderTaking
	UpdateHostFeeBps
	UpdateAdminAuthorityCached
	// UpdateOrderTakingPermissionless targets a field that no longer exists.
	// The mode is still accepted so stale admin tooling does not error, but it
	// has no effect.
	UpdateOrderTakingPermissionless
	UpdateOrderCloseDelaySeconds
	UpdateTxnFeeCost
	UpdateAtaCreationCost
)

// Configuration kill-switch and option errors.
const (
	ErrEmergencyMode         = limo.ErrorKind("emergency mode is enabled")
	ErrFlashTakeOrderBlocked = limo.ErrorKind("flash take_order is blocked")
	ErrNewOrdersBlocked      = limo.ErrorKind("creating new orders is blocked")
	ErrOrderTakingBlocked    = limo.ErrorKind("orders taking is blocked")
	ErrInvalidConfigOption   = limo.ErrorKind("invalid config option")
	ErrInvalidFlag           = limo.ErrorKind("invalid boolean flag, valid values are 0 and 1")
	ErrInvalidHostFee        = limo.ErrorKind("host fee bps must be between 0 and 10000")
)

// InitializeGlobalConfig sets a zeroed GlobalConfig to its starting state. The
// caller becomes both the acting and the staged admin.
func InitializeGlobalConfig(cfg *GlobalConfig, adminAuthority, authority account.AccountID,
	authorityBump uint64, authorityBalance uint64) {

	cfg.EmergencyMode = 0
	cfg.Authority = authority
	cfg.AuthorityBump = authorityBump
	cfg.AdminAuthority = adminAuthority
	cfg.AdminAuthorityCached = adminAuthority
	cfg.TotalTipAmount = 0
	cfg.HostTipAmount = 0
	cfg.AuthorityPreviousBalance = authorityBalance
}

// RequireNotEmergency fails when the emergency kill-switch is tripped.
func RequireNotEmergency(cfg *GlobalConfig) error {
	if cfg.EmergencyMode > 0 {
		return ErrEmergencyMode
	}
	return nil
}

// RequireFlashTakingEnabled fails when flash order taking is blocked.
func RequireFlashTakingEnabled(cfg *GlobalConfig) error {
	if cfg.FlashTakeOrderBlocked > 0 {
		return ErrFlashTakeOrderBlocked
	}
	return nil
}

// RequireNewOrdersEnabled fails when order creation is blocked.
func RequireNewOrdersEnabled(cfg *GlobalConfig) error {
	if cfg.NewOrdersBlocked > 0 {
		return ErrNewOrdersBlocked
	}
	return nil
}

// RequireTakingEnabled fails when order taking is blocked.
func RequireTakingEnabled(cfg *GlobalConfig) error {
	if cfg.OrdersTakingBlocked > 0 {
		return ErrOrderTakingBlocked
	}
	return nil
}

// UpdateGlobalConfig applies an admin configuration change. The value buffer
// is fixed-size; each mode consumes the prefix it needs.
func UpdateGlobalConfig(log limo.Logger, cfg *GlobalConfig, mode UpdateGlobalConfigMode,
	value *[UpdateGlobalConfigValueSize]byte, now uint64) error {

	switch mode {
	case UpdateEmergencyMode, UpdateFlashTakeOrderBlocked, UpdateBlockNewOrders,
		UpdateBlockOrderTaking, UpdateOrderTakingPermissionless:
		return updateGlobalConfigFlag(log, cfg, mode, value[0], now)
	case UpdateHostFeeBps:
		bps := encode.IntCoder.Uint16(value[0:2])
		if bps > calc.MaxBps {
			return ErrInvalidHostFee
		}
		log.Infof("update_global_config mode=%d ts=%d: host_fee_bps new=%d prev=%d",
			mode, now, bps, cfg.HostFeeBps)
		cfg.HostFeeBps = bps
	case UpdateOrderCloseDelaySeconds:
		delay := encode.IntCoder.Uint64(value[0:8])
		log.Infof("update_global_config mode=%d ts=%d: order_close_delay_seconds new=%d prev=%d",
			mode, now, delay, cfg.OrderCloseDelaySeconds)
		cfg.OrderCloseDelaySeconds = delay
	case UpdateAdminAuthorityCached:
		var aid account.AccountID
		copy(aid[:], value[0:account.HashSize])
		log.Infof("update_global_config mode=%d ts=%d: admin_authority_cached new=%s prev=%s",
			mode, now, aid, cfg.AdminAuthorityCached)
		cfg.AdminAuthorityCached = aid
	case UpdateTxnFeeCost:
		cost := encode.IntCoder.Uint64(value[0:8])
		log.Infof("update_global_config mode=%d ts=%d: txn_fee_cost new=%d prev=%d",
			mode, now, cost, cfg.TxnFeeCost)
		cfg.TxnFeeCost = cost
	case UpdateAtaCreationCost:
		cost := encode.IntCoder.Uint64(value[0:8])
		log.Infof("update_global_config mode=%d ts=%d: ata_creation_cost new=%d prev=%d",
			mode, now, cost, cfg.AtaCreationCost)
		cfg.AtaCreationCost = cost
	default:
		return ErrInvalidConfigOption
	}
	return nil
}

func updateGlobalConfigFlag(log limo.Logger, cfg *GlobalConfig, mode UpdateGlobalConfigMode,
	value uint8, now uint64) error {

	if value != 0 && value != 1 {
		return ErrInvalidFlag
	}

	switch mode {
	case UpdateEmergencyMode:
		log.Infof("update_global_config mode=%d ts=%d: emergency_mode new=%d prev=%d",
			mode, now, value, cfg.EmergencyMode)
		cfg.EmergencyMode = value
	case UpdateFlashTakeOrderBlocked:
		log.Infof("update_global_config mode=%d ts=%d: flash_take_order_blocked new=%d prev=%d",
			mode, now, value, cfg.FlashTakeOrderBlocked)
		cfg.FlashTakeOrderBlocked = value
	case UpdateBlockNewOrders:
		log.Infof("update_global_config mode=%d ts=%d: new_orders_blocked new=%d prev=%d",
			mode, now, value, cfg.NewOrdersBlocked)
		cfg.NewOrdersBlocked = value
	case UpdateBlockOrderTaking:
		log.Infof("update_global_config mode=%d ts=%d: orders_taking_blocked new=%d prev=%d",
			mode, now, value, cfg.OrdersTakingBlocked)
		cfg.OrdersTakingBlocked = value
	case UpdateOrderTakingPermissionless:
		log.Infof("update_global_config mode=%d ts=%d: field deprecated", mode, now)
	default:
		return ErrInvalidConfigOption
	}
	return nil
}

// PromoteCachedAdmin completes the 2-step admin rotation, promoting the staged
// admin to the acting admin.
func PromoteCachedAdmin(log limo.Logger, cfg *GlobalConfig) {
	log.Infof("updated global config admin_authority, previous: %s, new: %s",
		cfg.AdminAuthority, cfg.AdminAuthorityCached)
	cfg.AdminAuthority = cfg.AdminAuthorityCached
}

// Serialize marshals the GlobalConfig into its fixed-size record image.
func (cfg *GlobalConfig) Serialize() []byte {
	b := make([]byte, SerializedGlobalConfigSize)
	offset := 0

	putID := func(aid account.AccountID) {
		copy(b[offset:offset+account.HashSize], aid[:])
		offset += account.HashSize
	}
	putU64 := func(v uint64) {
		encode.IntCoder.PutUint64(b[offset:offset+8], v)
		offset += 8
	}

	b[0] = cfg.EmergencyMode
	b[1] = cfg.FlashTakeOrderBlocked
	b[2] = cfg.NewOrdersBlocked
	b[3] = cfg.OrdersTakingBlocked
	encode.IntCoder.PutUint16(b[4:6], cfg.HostFeeBps)
	copy(b[6:8], cfg.Pad0[:])
	offset = 8

	putU64(cfg.OrderCloseDelaySeconds)

	copy(b[offset:offset+pad1Size], cfg.Pad1[:])
	offset += pad1Size

	putU64(cfg.AuthorityPreviousBalance)
	putU64(cfg.TotalTipAmount)
	putU64(cfg.HostTipAmount)

	putID(cfg.Authority)
	putU64(cfg.AuthorityBump)
	putID(cfg.AdminAuthority)
	putID(cfg.AdminAuthorityCached)

	putU64(cfg.TxnFeeCost)
	putU64(cfg.AtaCreationCost)

	copy(b[offset:], cfg.Reserved[:])
	return b
}

// DeserializeGlobalConfig decodes a stored GlobalConfig record. The reserved
// trailing padding is retained so a rewrite preserves it byte-for-byte.
func DeserializeGlobalConfig(b []byte) (*GlobalConfig, error) {
	if len(b) != SerializedGlobalConfigSize {
		return nil, fmt.Errorf("expected global config record of length %d, got %d",
			SerializedGlobalConfigSize, len(b))
	}
	cfg := new(GlobalConfig)
	offset := 0

	getID := func(aid *account.AccountID) {
		copy(aid[:], b[offset:offset+account.HashSize])
		offset += account.HashSize
	}
	getU64 := func(v *uint64) {
		*v = encode.IntCoder.Uint64(b[offset : offset+8])
		offset += 8
	}

	cfg.EmergencyMode = b[0]
	cfg.FlashTakeOrderBlocked = b[1]
	cfg.NewOrdersBlocked = b[2]
	cfg.OrdersTakingBlocked = b[3]
	cfg.HostFeeBps = encode.IntCoder.Uint16(b[4:6])
	copy(cfg.Pad0[:], b[6:8])
	offset = 8

	getU64(&cfg.OrderCloseDelaySeconds)

	copy(cfg.Pad1[:], b[offset:offset+pad1Size])
	offset += pad1Size

	getU64(&cfg.AuthorityPreviousBalance)
	getU64(&cfg.TotalTipAmount)
	getU64(&cfg.HostTipAmount)

	getID(&cfg.Authority)
	getU64(&cfg.AuthorityBump)
	getID(&cfg.AdminAuthority)
	getID(&cfg.AdminAuthorityCached)

	getU64(&cfg.TxnFeeCost)
	getU64(&cfg.AtaCreationCost)

	copy(cfg.Reserved[:], b[offset:])
	return cfg, nil
}
