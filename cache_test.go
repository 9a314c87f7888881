package walletkit

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAddressCache(t *testing.T) {
	cache := NewAddressCache(2)

	if _, ok := cache.Get(testOwner, big.NewInt(0)); ok {
		t.Fatal("Expected miss on empty cache")
	}

	cache.Put(testOwner, big.NewInt(0), testAccount)
	got, ok := cache.Get(testOwner, big.NewInt(0))
	if !ok || got != testAccount {
		t.Errorf("Expected %s, got %s (hit=%v)", testAccount.Hex(), got.Hex(), ok)
	}

	// Same owner, different salt is a distinct entry.
	if _, ok := cache.Get(testOwner, big.NewInt(1)); ok {
		t.Error("Salt must be part of the cache key")
	}
}

func TestAddressCacheEviction(t *testing.T) {
	cache := NewAddressCache(2)
	owners := []common.Address{
		common.HexToAddress("0x000000000000000000000000000000000000000a"),
		common.HexToAddress("0x000000000000000000000000000000000000000b"),
		common.HexToAddress("0x000000000000000000000000000000000000000c"),
	}
	for _, owner := range owners {
		cache.Put(owner, big.NewInt(0), testAccount)
	}
	if _, ok := cache.Get(owners[0], big.NewInt(0)); ok {
		t.Error("Oldest entry should have been evicted")
	}
	if _, ok := cache.Get(owners[2], big.NewInt(0)); !ok {
		t.Error("Newest entry should be present")
	}
}
