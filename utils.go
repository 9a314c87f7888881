package walletkit

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Hash computes the canonical EntryPoint V0.6.0 user-operation hash: the
// keccak of the ABI-encoded static fields (dynamic fields hashed first),
// bound to the entrypoint address and chain id. Gas and paymaster fields are
// part of the digest, so signing only happens after they are final.
func (u *UserOperation) Hash(entrypoint common.Address, chainId *big.Int) (common.Hash, error) {
	arguments := abi.Arguments{
		{Type: abi.Type{T: abi.AddressTy}},              // sender
		{Type: abi.Type{T: abi.UintTy, Size: 256}},      // nonce
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // hashInitCode
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // hashCallData
		{Type: abi.Type{T: abi.UintTy, Size: 256}},      // callGasLimit
		{Type: abi.Type{T: abi.UintTy, Size: 256}},      // verificationGasLimit
		{Type: abi.Type{T: abi.UintTy, Size: 256}},      // preVerificationGas
		{Type: abi.Type{T: abi.UintTy, Size: 256}},      // maxFeePerGas
		{Type: abi.Type{T: abi.UintTy, Size: 256}},      // maxPriorityFeePerGas
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // hashPaymasterAndData
	}

	packed, err := arguments.Pack(
		u.Sender,
		orZero(u.Nonce),
		crypto.Keccak256Hash(u.InitCode),
		crypto.Keccak256Hash(u.CallData),
		orZero(u.CallGasLimit),
		orZero(u.VerificationGasLimit),
		orZero(u.PreVerificationGas),
		orZero(u.MaxFeePerGas),
		orZero(u.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(u.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, err
	}

	hashArgs := abi.Arguments{
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // userOp.hash
		{Type: abi.Type{T: abi.AddressTy}},              // entrypoint address
		{Type: abi.Type{T: abi.UintTy, Size: 256}},      // chainID
	}
	packedHash, err := hashArgs.Pack(crypto.Keccak256Hash(packed), entrypoint, chainId)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packedHash), nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// HexToBigInt converts a hex string to a big.Int.
// If the hex string is prefixed with "0x", it will be removed.
func HexToBigInt(hex string) *big.Int {
	hex = strings.TrimPrefix(hex, "0x")
	if len(hex)%2 == 1 {
		hex = "0" + hex
	}
	return new(big.Int).SetBytes(common.Hex2Bytes(hex))
}

// mustABI parses an ABI definition at package init time.
func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
