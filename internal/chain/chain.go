package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	// ErrTransactionReverted is returned when a mined transaction failed.
	ErrTransactionReverted = errors.New("transaction reverted")
	// ErrConfirmationTimeout is returned when the receipt never showed up.
	ErrConfirmationTimeout = errors.New("transaction not confirmed")
	// ErrNoCalls is returned when asked to execute an empty call set.
	ErrNoCalls = errors.New("no calls to execute")
)

// Call is a single contract invocation.
type Call struct {
	To   common.Address
	Data []byte
}

// Executor estimates, submits and confirms transaction sets.
type Executor interface {
	EstimateFeesCost(ctx context.Context, calls []Call) (decimal.Decimal, error)
	ExecuteTransactions(ctx context.Context, calls []Call) (common.Hash, error)
	WaitForAcceptance(ctx context.Context, tx common.Hash) error
}
