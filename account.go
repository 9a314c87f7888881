package walletkit

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ChainReader is the subset of the node RPC surface the pipeline reads from.
// *ethclient.Client satisfies it.
type ChainReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Minimal ABI surfaces for the factory, entrypoint, and account contracts.
// Only the call/read entry points the pipeline touches.
var (
	factoryABI = mustABI(`[
		{"type":"function","name":"getAddress","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
		{"type":"function","name":"createAccount","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
	]`)

	entrypointABI = mustABI(`[
		{"type":"function","name":"getNonce","stateMutability":"view","inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]}
	]`)

	accountABI = mustABI(`[
		{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]},
		{"type":"function","name":"executeBatch","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address[]"},{"name":"value","type":"uint256[]"},{"name":"func","type":"bytes[]"}],"outputs":[]}
	]`)
)

// SmartAccount models one counterfactual smart account for the life of a
// wallet session. The derived address is deterministic for a fixed
// (factory, owner, salt) and therefore cacheable; deployment status is
// re-checked on chain every time, never assumed.
type SmartAccount struct {
	owner      common.Address
	salt       *big.Int
	factory    common.Address
	entrypoint common.Address
	chain      ChainReader
	cache      AddressCache
}

func NewSmartAccount(chain ChainReader, cfg *Config, owner common.Address, cache AddressCache) *SmartAccount {
	salt := cfg.Salt
	if salt == nil {
		salt = big.NewInt(0)
	}
	return &SmartAccount{
		owner:      owner,
		salt:       new(big.Int).Set(salt),
		factory:    cfg.AccountFactory,
		entrypoint: cfg.Entrypoint,
		chain:      chain,
		cache:      cache,
	}
}

func (a *SmartAccount) Owner() common.Address { return a.owner }

func (a *SmartAccount) Salt() *big.Int { return new(big.Int).Set(a.salt) }

// Address returns the counterfactual account address, reading the factory's
// getAddress view on first use and the cache afterwards. It is idempotent,
// side-effect free, and never touches the bundler or paymaster.
func (a *SmartAccount) Address(ctx context.Context) (common.Address, error) {
	if a.cache != nil {
		if addr, ok := a.cache.Get(a.owner, a.salt); ok {
			return addr, nil
		}
	}
	data, err := factoryABI.Pack("getAddress", a.owner, a.salt)
	if err != nil {
		return common.Address{}, fmt.Errorf("error packing getAddress call: %w", err)
	}
	out, err := a.chain.CallContract(ctx, ethereum.CallMsg{To: &a.factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("error getting account address: %w", err)
	}
	results, err := factoryABI.Unpack("getAddress", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("error decoding account address: %w", err)
	}
	addr := results[0].(common.Address)
	if a.cache != nil {
		a.cache.Put(a.owner, a.salt, addr)
	}
	return addr, nil
}

// IsDeployed checks if the account is deployed by querying its bytecode.
// The result is live: a deploying operation can flip it between calls, so it
// is never cached.
func (a *SmartAccount) IsDeployed(ctx context.Context) (bool, error) {
	addr, err := a.Address(ctx)
	if err != nil {
		return false, err
	}
	code, err := a.chain.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("error checking if account is deployed: %w", err)
	}
	return len(code) > 0, nil
}

// Balance returns the account's native balance.
func (a *SmartAccount) Balance(ctx context.Context) (*big.Int, error) {
	addr, err := a.Address(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := a.chain.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("error getting account balance: %w", err)
	}
	return balance, nil
}

// Nonce reads the account's current nonce from the entrypoint. An undeployed
// account has no on-chain nonce; only its first operation may use 0.
func (a *SmartAccount) Nonce(ctx context.Context) (*big.Int, error) {
	deployed, err := a.IsDeployed(ctx)
	if err != nil {
		return nil, err
	}
	if !deployed {
		return big.NewInt(0), nil
	}
	addr, err := a.Address(ctx)
	if err != nil {
		return nil, err
	}
	data, err := entrypointABI.Pack("getNonce", addr, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("error packing getNonce call: %w", err)
	}
	out, err := a.chain.CallContract(ctx, ethereum.CallMsg{To: &a.entrypoint, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("error getting nonce: %w", err)
	}
	results, err := entrypointABI.Unpack("getNonce", out)
	if err != nil {
		return nil, fmt.Errorf("error decoding nonce: %w", err)
	}
	return results[0].(*big.Int), nil
}

// initCode encodes the factory createAccount call, concatenated after the
// factory address, for the account's first operation.
func (a *SmartAccount) initCode() ([]byte, error) {
	calldata, err := factoryABI.Pack("createAccount", a.owner, a.salt)
	if err != nil {
		return nil, fmt.Errorf("error packing account init code: %w", err)
	}
	return append(a.factory.Bytes(), calldata...), nil
}
