package walletkit

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func hashTestOp() *UserOperation {
	return &UserOperation{
		Sender:               testAccount,
		Nonce:                big.NewInt(1),
		InitCode:             []byte{0x01},
		CallData:             []byte{0x02},
		CallGasLimit:         big.NewInt(100000),
		VerificationGasLimit: big.NewInt(200000),
		PreVerificationGas:   big.NewInt(50000),
		MaxFeePerGas:         big.NewInt(25000000000),
		MaxPriorityFeePerGas: big.NewInt(1000000),
		PaymasterAndData:     []byte{0x03},
		Signature:            []byte{0x04},
	}
}

func TestUserOpHashDeterministic(t *testing.T) {
	chainId := big.NewInt(31337)
	a, err := hashTestOp().Hash(testEntrypoint, chainId)
	if err != nil {
		t.Fatalf("Failed to hash: %v", err)
	}
	b, err := hashTestOp().Hash(testEntrypoint, chainId)
	if err != nil {
		t.Fatalf("Failed to hash: %v", err)
	}
	if a != b {
		t.Error("Hash is not deterministic")
	}
	if a == (common.Hash{}) {
		t.Error("Hash is zero")
	}
}

func TestUserOpHashBindsSignedFields(t *testing.T) {
	chainId := big.NewInt(31337)
	base, err := hashTestOp().Hash(testEntrypoint, chainId)
	if err != nil {
		t.Fatalf("Failed to hash: %v", err)
	}

	mutations := map[string]func(op *UserOperation){
		"nonce":                func(op *UserOperation) { op.Nonce = big.NewInt(2) },
		"callData":             func(op *UserOperation) { op.CallData = []byte{0xff} },
		"initCode":             func(op *UserOperation) { op.InitCode = nil },
		"callGasLimit":         func(op *UserOperation) { op.CallGasLimit = big.NewInt(1) },
		"verificationGasLimit": func(op *UserOperation) { op.VerificationGasLimit = big.NewInt(1) },
		"preVerificationGas":   func(op *UserOperation) { op.PreVerificationGas = big.NewInt(1) },
		"maxFeePerGas":         func(op *UserOperation) { op.MaxFeePerGas = big.NewInt(1) },
		"maxPriorityFeePerGas": func(op *UserOperation) { op.MaxPriorityFeePerGas = big.NewInt(1) },
		"paymasterAndData":     func(op *UserOperation) { op.PaymasterAndData = []byte{0xff} },
	}
	for field, mutate := range mutations {
		op := hashTestOp()
		mutate(op)
		got, err := op.Hash(testEntrypoint, chainId)
		if err != nil {
			t.Fatalf("Failed to hash with %s changed: %v", field, err)
		}
		if got == base {
			t.Errorf("Changing %s did not change the hash", field)
		}
	}

	// The signature is produced from the hash and therefore not part of it.
	op := hashTestOp()
	op.Signature = []byte{0xde, 0xad}
	got, err := op.Hash(testEntrypoint, chainId)
	if err != nil {
		t.Fatalf("Failed to hash: %v", err)
	}
	if got != base {
		t.Error("Signature must not affect the hash")
	}
}

func TestUserOpHashBindsDomain(t *testing.T) {
	chainId := big.NewInt(31337)
	base, err := hashTestOp().Hash(testEntrypoint, chainId)
	if err != nil {
		t.Fatalf("Failed to hash: %v", err)
	}

	otherChain, err := hashTestOp().Hash(testEntrypoint, big.NewInt(1))
	if err != nil {
		t.Fatalf("Failed to hash: %v", err)
	}
	if otherChain == base {
		t.Error("Chain id must be part of the hash")
	}

	otherEntrypoint, err := hashTestOp().Hash(testFactory, chainId)
	if err != nil {
		t.Fatalf("Failed to hash: %v", err)
	}
	if otherEntrypoint == base {
		t.Error("Entrypoint must be part of the hash")
	}
}

func TestHexToBigInt(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0x0", 0},
		{"0x1", 1},
		{"0x5208", 21000},
		{"5208", 21000},
		{"0xf", 15},
	}
	for _, tc := range cases {
		if got := HexToBigInt(tc.in); got.Int64() != tc.want {
			t.Errorf("HexToBigInt(%q) = %v, want %d", tc.in, got, tc.want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	op := hashTestOp()
	clone := op.Clone()

	clone.Nonce.SetInt64(99)
	clone.CallData[0] = 0xff
	if op.Nonce.Int64() != 1 || op.CallData[0] != 0x02 {
		t.Error("Clone shares state with its source")
	}
}
