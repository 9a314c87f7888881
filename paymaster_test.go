package walletkit

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChainId() *big.Int { return big.NewInt(31337) }

func builtTestOp() *UserOperation {
	return &UserOperation{
		Sender:               testAccount,
		Nonce:                big.NewInt(4),
		CallData:             []byte{0xca, 0x11},
		MaxFeePerGas:         big.NewInt(DefaultMaxFeePerGas),
		MaxPriorityFeePerGas: big.NewInt(DefaultMaxPriorityFeePerGas),
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}
}

func TestApplySetsGasWithoutMutating(t *testing.T) {
	fb := newFakeBundler(t)
	n := NewNegotiator(NewBundlerClient(fb.config()), fb.config(), testChainId(), nil)

	in := builtTestOp()
	estimate := &GasEstimate{
		CallGasLimit:         big.NewInt(0x30000),
		VerificationGasLimit: big.NewInt(0x20000),
		PreVerificationGas:   big.NewInt(0x10000),
	}
	out := n.Apply(in, estimate)

	assert.Equal(t, int64(0x30000), out.CallGasLimit.Int64())
	assert.Equal(t, int64(0x20000), out.VerificationGasLimit.Int64())
	assert.Equal(t, int64(0x10000), out.PreVerificationGas.Int64())
	assert.Nil(t, in.CallGasLimit, "input operation must not be mutated")
}

func TestEstimateGasFatalOnBundlerRejection(t *testing.T) {
	fb := newFakeBundler(t)
	fb.estimateErr = true
	n := NewNegotiator(NewBundlerClient(fb.config()), fb.config(), testChainId(), nil)

	_, err := n.EstimateGas(context.Background(), builtTestOp())
	var berr *BundlerError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, -32500, berr.Code)
}

func TestSponsorWithoutPaymasterReturnsEqualCopy(t *testing.T) {
	fb := newFakeBundler(t)
	cfg := fb.config() // no PaymasterUrl
	n := NewNegotiator(NewBundlerClient(cfg), cfg, testChainId(), nil)

	in := builtTestOp()
	out := n.Sponsor(context.Background(), in)
	assert.Equal(t, in, out)
	assert.NotSame(t, in, out)
}

func TestSponsorAppliesPaymasterData(t *testing.T) {
	data := []byte{0x12, 0x34, 0x56}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"paymasterAndData":"%s"}}`, hexutil.Encode(data))
	}))
	defer srv.Close()

	fb := newFakeBundler(t)
	cfg := fb.config()
	cfg.PaymasterUrl = srv.URL
	n := NewNegotiator(NewBundlerClient(cfg), cfg, testChainId(), nil)

	in := builtTestOp()
	out := n.Sponsor(context.Background(), in)
	assert.Equal(t, data, out.PaymasterAndData)
	assert.Empty(t, in.PaymasterAndData, "input operation must not be mutated")
}

func TestSponsorDegradesToUnsponsored(t *testing.T) {
	responses := []func(w http.ResponseWriter){
		func(w http.ResponseWriter) { http.Error(w, "paymaster down", http.StatusInternalServerError) },
		func(w http.ResponseWriter) {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32500,"message":"policy violation"}}`)
		},
		func(w http.ResponseWriter) { fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{}}`) },
		func(w http.ResponseWriter) { fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"paymasterAndData":"zzz"}}`) },
		func(w http.ResponseWriter) { fmt.Fprintf(w, `not json`) },
	}

	for i, respond := range responses {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			respond(w)
		}))

		fb := newFakeBundler(t)
		cfg := fb.config()
		cfg.PaymasterUrl = srv.URL
		n := NewNegotiator(NewBundlerClient(cfg), cfg, testChainId(), nil)

		in := builtTestOp()
		out := n.Sponsor(context.Background(), in)

		// Degradation is total: the result is byte-for-byte the unsponsored
		// operation, and no error escapes.
		assert.Equal(t, in, out, "response case %d", i)
		srv.Close()
	}
}
