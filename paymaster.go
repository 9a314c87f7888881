package walletkit

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
)

// Negotiator fills in the gas and sponsorship fields of a built operation.
// Gas estimation failures are fatal to the send: limits for an unknown call
// cannot be safely defaulted. Sponsorship failures are not: the negotiator
// degrades to an unsponsored operation and leaves the decision to the caller.
type Negotiator struct {
	bundler    *BundlerClient
	paymaster  *rpcEndpoint
	entrypoint common.Address
	chainId    *big.Int
	log        log.Logger
}

func NewNegotiator(bundler *BundlerClient, cfg *Config, chainId *big.Int, logger log.Logger) *Negotiator {
	if logger == nil {
		logger = log.Root()
	}
	n := &Negotiator{
		bundler:    bundler,
		entrypoint: cfg.Entrypoint,
		chainId:    chainId,
		log:        logger,
	}
	if cfg.PaymasterUrl != "" {
		n.paymaster = newRPCEndpoint(cfg.PaymasterUrl)
	}
	return n
}

// EstimateGas runs the bundler's gas estimation for the operation.
func (n *Negotiator) EstimateGas(ctx context.Context, userOp *UserOperation) (*GasEstimate, error) {
	return n.bundler.EstimateUserOpGas(ctx, userOp)
}

// Apply returns a copy of the operation with the estimate's gas fields set.
// The input operation is not mutated.
func (n *Negotiator) Apply(userOp *UserOperation, estimate *GasEstimate) *UserOperation {
	out := userOp.Clone()
	out.CallGasLimit = copyBig(estimate.CallGasLimit)
	out.VerificationGasLimit = copyBig(estimate.VerificationGasLimit)
	out.PreVerificationGas = copyBig(estimate.PreVerificationGas)
	return out
}

// Sponsor asks the paymaster endpoint to sponsor the operation. On any
// failure (transport error, RPC error, malformed or empty response) it
// returns a copy equal to the input, unsponsored, and never an error.
// "Unsponsored" must stay distinguishable from "failed": the operation is
// still perfectly sendable on the account's own balance.
func (n *Negotiator) Sponsor(ctx context.Context, userOp *UserOperation) *UserOperation {
	out := userOp.Clone()
	if n.paymaster == nil {
		return out
	}

	params := []any{userOp.ToBody(), map[string]any{
		"entryPoint": n.entrypoint,
		"chainId":    hexutil.EncodeBig(n.chainId),
	}}
	raw, err := n.paymaster.call(ctx, "pm_sponsorUserOperation", params)
	if err != nil {
		n.log.Warn("paymaster sponsorship unavailable, sending unsponsored", "err", err)
		return out
	}

	var result struct {
		PaymasterAndData string `json:"paymasterAndData"`
	}
	if err = json.Unmarshal(raw, &result); err != nil || result.PaymasterAndData == "" {
		n.log.Warn("malformed paymaster response, sending unsponsored", "err", err)
		return out
	}
	data, err := hexutil.Decode(result.PaymasterAndData)
	if err != nil {
		n.log.Warn("invalid paymasterAndData hex, sending unsponsored", "err", err)
		return out
	}
	out.PaymasterAndData = data
	return out
}
