package walletkit

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ABI surfaces for the application contracts the wallet talks to.
var (
	tokenABI = mustABI(`[
		{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"claimFaucet","stateMutability":"nonpayable","inputs":[],"outputs":[]},
		{"type":"function","name":"canClaimFaucet","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
	]`)

	votingABI = mustABI(`[
		{"type":"function","name":"vote","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"getVotes","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"checkVote","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"},{"name":"voter","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
	]`)

	visitorBookABI = mustABI(`[
		{"type":"function","name":"signBook","stateMutability":"nonpayable","inputs":[{"name":"message","type":"string"}],"outputs":[]}
	]`)
)

// ClaimFaucetCall builds the call claiming the token faucet allowance.
func ClaimFaucetCall(token common.Address) (Call, error) {
	data, err := tokenABI.Pack("claimFaucet")
	if err != nil {
		return Call{}, fmt.Errorf("error packing claimFaucet call: %w", err)
	}
	return Call{To: token, Data: data}, nil
}

// VoteCall builds the call casting a vote for the given proposal.
func VoteCall(voting common.Address, proposalId *big.Int) (Call, error) {
	data, err := votingABI.Pack("vote", orZero(proposalId))
	if err != nil {
		return Call{}, fmt.Errorf("error packing vote call: %w", err)
	}
	return Call{To: voting, Data: data}, nil
}

// SignBookCall builds the call appending a message to the visitor book.
func SignBookCall(book common.Address, message string) (Call, error) {
	data, err := visitorBookABI.Pack("signBook", message)
	if err != nil {
		return Call{}, fmt.Errorf("error packing signBook call: %w", err)
	}
	return Call{To: book, Data: data}, nil
}

// TokenBalance reads the token balance of holder.
func TokenBalance(ctx context.Context, chain ChainReader, token, holder common.Address) (*big.Int, error) {
	out, err := readContract(ctx, chain, token, tokenABI, "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// CanClaimFaucet reports whether holder is currently eligible for the faucet.
func CanClaimFaucet(ctx context.Context, chain ChainReader, token, holder common.Address) (bool, error) {
	out, err := readContract(ctx, chain, token, tokenABI, "canClaimFaucet", holder)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

// ProposalVotes reads the vote tally for a proposal.
func ProposalVotes(ctx context.Context, chain ChainReader, voting common.Address, proposalId *big.Int) (*big.Int, error) {
	out, err := readContract(ctx, chain, voting, votingABI, "getVotes", orZero(proposalId))
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// HasVoted reports whether voter has already voted on a proposal.
func HasVoted(ctx context.Context, chain ChainReader, voting common.Address, proposalId *big.Int, voter common.Address) (bool, error) {
	out, err := readContract(ctx, chain, voting, votingABI, "checkVote", orZero(proposalId), voter)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func readContract(ctx context.Context, chain ChainReader, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("error packing %s call: %w", method, err)
	}
	out, err := chain.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("error calling %s: %w", method, err)
	}
	results, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("error decoding %s result: %w", method, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("empty %s result", method)
	}
	return results, nil
}
