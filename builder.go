package walletkit

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OpBuilder assembles unsigned user operations from high-level calls. Gas
// limits and paymaster data are left blank for the negotiator; the signature
// is left blank for the signer.
type OpBuilder struct {
	account *SmartAccount
}

func NewOpBuilder(account *SmartAccount) *OpBuilder {
	return &OpBuilder{account: account}
}

// Build produces an operation executing a single call through the account's
// execute entry point.
func (b *OpBuilder) Build(ctx context.Context, call Call) (*UserOperation, error) {
	if err := validateCall(call); err != nil {
		return nil, err
	}
	callData, err := accountABI.Pack("execute", call.To, orZero(call.Value), callBytes(call.Data))
	if err != nil {
		return nil, fmt.Errorf("error packing execute call: %w", err)
	}
	return b.build(ctx, callData)
}

// BuildBatch encodes an ordered list of calls as a single operation invoking
// the account's multi-call entry point. The batch executes atomically and in
// input order, so callers reason about it exactly as they would a single
// call.
func (b *OpBuilder) BuildBatch(ctx context.Context, calls []Call) (*UserOperation, error) {
	if len(calls) == 0 {
		return nil, &ValidationError{Field: "calls", Reason: "empty batch"}
	}
	dest := make([]common.Address, len(calls))
	values := make([]*big.Int, len(calls))
	data := make([][]byte, len(calls))
	for i, call := range calls {
		if err := validateCall(call); err != nil {
			return nil, err
		}
		dest[i] = call.To
		values[i] = orZero(call.Value)
		data[i] = callBytes(call.Data)
	}
	callData, err := accountABI.Pack("executeBatch", dest, values, data)
	if err != nil {
		return nil, fmt.Errorf("error packing executeBatch call: %w", err)
	}
	return b.build(ctx, callData)
}

// build fills the operation's identity fields. Deployment status is queried
// fresh on every build: initCode belongs only on the first operation of an
// account, and a flag captured before this call could already be stale.
func (b *OpBuilder) build(ctx context.Context, callData []byte) (*UserOperation, error) {
	sender, err := b.account.Address(ctx)
	if err != nil {
		return nil, err
	}
	deployed, err := b.account.IsDeployed(ctx)
	if err != nil {
		return nil, err
	}

	var initCode []byte
	if !deployed {
		initCode, err = b.account.initCode()
		if err != nil {
			return nil, err
		}
	}

	nonce, err := b.account.Nonce(ctx)
	if err != nil {
		return nil, err
	}

	return &UserOperation{
		Sender:               sender,
		Nonce:                nonce,
		InitCode:             initCode,
		CallData:             callData,
		MaxFeePerGas:         big.NewInt(DefaultMaxFeePerGas),
		MaxPriorityFeePerGas: big.NewInt(DefaultMaxPriorityFeePerGas),
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}, nil
}

// validateCall rejects malformed calls before any network round trip.
func validateCall(call Call) error {
	if call.To == (common.Address{}) {
		return &ValidationError{Field: "to", Reason: "zero recipient address"}
	}
	if call.Value != nil && call.Value.Sign() < 0 {
		return &ValidationError{Field: "value", Reason: "negative value"}
	}
	return nil
}

// callBytes guards against the ABI encoder's handling of nil byte slices.
func callBytes(data []byte) []byte {
	if data == nil {
		return []byte{}
	}
	return data
}
