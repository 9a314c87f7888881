package walletkit

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testToken  = common.HexToAddress("0x6666666666666666666666666666666666666666")
	testVoting = common.HexToAddress("0x7777777777777777777777777777777777777777")
)

func TestVoteCall(t *testing.T) {
	call, err := VoteCall(testVoting, big.NewInt(12))
	require.NoError(t, err)
	assert.Equal(t, testVoting, call.To)
	assert.Nil(t, call.Value)
	require.Equal(t, votingABI.Methods["vote"].ID, call.Data[:4])

	args, err := votingABI.Methods["vote"].Inputs.Unpack(call.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(12), args[0].(*big.Int).Int64())
}

func TestClaimFaucetCall(t *testing.T) {
	call, err := ClaimFaucetCall(testToken)
	require.NoError(t, err)
	assert.Equal(t, testToken, call.To)
	assert.Equal(t, tokenABI.Methods["claimFaucet"].ID, call.Data)
}

func TestSignBookCall(t *testing.T) {
	call, err := SignBookCall(testVoting, "hello")
	require.NoError(t, err)
	require.Equal(t, visitorBookABI.Methods["signBook"].ID, call.Data[:4])

	args, err := visitorBookABI.Methods["signBook"].Inputs.Unpack(call.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, "hello", args[0].(string))
}

func TestTokenBalance(t *testing.T) {
	chain := newFakeChain(testAccount)
	chain.setBalance(big.NewInt(1234))

	balance, err := TokenBalance(context.Background(), chain, testToken, testAccount)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), balance.Int64())
}

func TestProposalReads(t *testing.T) {
	chain := newFakeChain(testAccount)
	chain.votes = big.NewInt(9)
	chain.voted = true

	votes, err := ProposalVotes(context.Background(), chain, testVoting, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, int64(9), votes.Int64())

	voted, err := HasVoted(context.Background(), chain, testVoting, big.NewInt(1), testAccount)
	require.NoError(t, err)
	assert.True(t, voted)
}
