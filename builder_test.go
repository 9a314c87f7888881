package walletkit

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(chain *fakeChain) *OpBuilder {
	account := NewSmartAccount(chain, testConfig(), testOwner, NewAddressCache(16))
	return NewOpBuilder(account)
}

func TestBuildUndeployedCarriesInitCode(t *testing.T) {
	chain := newFakeChain(testAccount)
	builder := newTestBuilder(chain)

	op, err := builder.Build(context.Background(), Call{To: testOwner, Value: big.NewInt(1)})
	require.NoError(t, err)

	assert.Equal(t, testAccount, op.Sender)
	assert.Zero(t, op.Nonce.Sign())
	require.NotEmpty(t, op.InitCode)
	assert.Equal(t, testFactory.Bytes(), op.InitCode[:common.AddressLength])
	assert.Empty(t, op.PaymasterAndData)
	assert.Empty(t, op.Signature)
	assert.Nil(t, op.CallGasLimit)
	assert.Equal(t, DefaultMaxFeePerGas, op.MaxFeePerGas.Int64())
	assert.Equal(t, DefaultMaxPriorityFeePerGas, op.MaxPriorityFeePerGas.Int64())
}

func TestBuildDeployedOmitsInitCode(t *testing.T) {
	chain := newFakeChain(testAccount)
	chain.setDeployed(true)
	chain.setNonce(3)
	builder := newTestBuilder(chain)

	op, err := builder.Build(context.Background(), Call{To: testOwner})
	require.NoError(t, err)
	assert.Empty(t, op.InitCode)
	assert.Equal(t, int64(3), op.Nonce.Int64())
}

func TestBuildCallDataIsExecute(t *testing.T) {
	chain := newFakeChain(testAccount)
	builder := newTestBuilder(chain)

	target := common.HexToAddress("0x5555555555555555555555555555555555555555")
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	op, err := builder.Build(context.Background(), Call{To: target, Value: big.NewInt(10), Data: payload})
	require.NoError(t, err)

	method := accountABI.Methods["execute"]
	require.Equal(t, method.ID, op.CallData[:4])
	args, err := method.Inputs.Unpack(op.CallData[4:])
	require.NoError(t, err)
	assert.Equal(t, target, args[0].(common.Address))
	assert.Equal(t, int64(10), args[1].(*big.Int).Int64())
	assert.Equal(t, payload, args[2].([]byte))
}

func TestBuildBatchPreservesOrder(t *testing.T) {
	chain := newFakeChain(testAccount)
	builder := newTestBuilder(chain)

	calls := []Call{
		{To: common.HexToAddress("0x0000000000000000000000000000000000000001"), Value: big.NewInt(1)},
		{To: common.HexToAddress("0x0000000000000000000000000000000000000002"), Data: []byte{0x01}},
		{To: common.HexToAddress("0x0000000000000000000000000000000000000003"), Value: big.NewInt(3)},
	}
	op, err := builder.BuildBatch(context.Background(), calls)
	require.NoError(t, err)

	method := accountABI.Methods["executeBatch"]
	require.Equal(t, method.ID, op.CallData[:4])
	args, err := method.Inputs.Unpack(op.CallData[4:])
	require.NoError(t, err)

	dest := args[0].([]common.Address)
	values := args[1].([]*big.Int)
	data := args[2].([][]byte)
	require.Len(t, dest, len(calls))
	for i, call := range calls {
		assert.Equal(t, call.To, dest[i], "destination order must match input order")
		assert.Equal(t, orZero(call.Value).String(), values[i].String())
		assert.Equal(t, callBytes(call.Data), data[i])
	}
}

func TestBuildRejectsMalformedCalls(t *testing.T) {
	chain := newFakeChain(testAccount)
	builder := newTestBuilder(chain)

	var verr *ValidationError
	_, err := builder.Build(context.Background(), Call{})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "to", verr.Field)

	_, err = builder.Build(context.Background(), Call{To: testOwner, Value: big.NewInt(-1)})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "value", verr.Field)

	_, err = builder.BuildBatch(context.Background(), nil)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "calls", verr.Field)

	// Any malformed call poisons the whole batch.
	_, err = builder.BuildBatch(context.Background(), []Call{{To: testOwner}, {}})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "to", verr.Field)
}
