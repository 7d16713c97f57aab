package position

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// Asset is one side of a lending position.
type Asset struct {
	Name     string          `json:"name"`
	Address  common.Address  `json:"address"`
	Decimals int32           `json:"decimals"`
	Amount   decimal.Decimal `json:"amount"`
}

// Position is a borrower's debt secured by collateral inside a lending pool.
type Position struct {
	PoolID     common.Hash     `json:"pool_id"`
	User       common.Address  `json:"user"`
	Collateral Asset           `json:"collateral"`
	Debt       Asset           `json:"debt"`
	LLTV       decimal.Decimal `json:"lltv"`
}

// Update is a single message from the position producer.
type Update struct {
	Block    uint64
	Position Position
}

// Key identifies a position across updates.
func (p Position) Key() string {
	hash := crypto.Keccak256Hash(
		p.PoolID.Bytes(),
		p.User.Bytes(),
		p.Collateral.Address.Bytes(),
		p.Debt.Address.Bytes(),
	)
	return hash.Hex()
}

// String is used in log lines.
func (p Position) String() string {
	return fmt.Sprintf("%s/%s of %s", p.Collateral.Name, p.Debt.Name, p.User.Hex())
}

// LiquidationMode selects how much of an eligible position gets liquidated.
type LiquidationMode int

const (
	Full LiquidationMode = iota
	Partial
)

func (m LiquidationMode) String() string {
	switch m {
	case Full:
		return "full"
	case Partial:
		return "partial"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseLiquidationMode accepts "full" or "partial" in any case.
func ParseLiquidationMode(raw string) (LiquidationMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "full":
		return Full, nil
	case "partial":
		return Partial, nil
	default:
		return Full, fmt.Errorf("unknown liquidation mode %q", raw)
	}
}
