package walletkit

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
)

// AddressCache stores counterfactual account addresses keyed by owner and
// salt. Addresses are deterministic for a fixed factory, so entries never
// go stale. Implementations must be thread-safe.
type AddressCache interface {
	// Get retrieves a cached address.
	Get(owner common.Address, salt *big.Int) (common.Address, bool)

	// Put stores a derived address.
	Put(owner common.Address, salt *big.Int, addr common.Address)
}

type addressCache struct {
	inner *lru.Cache
}

// NewAddressCache builds an LRU-backed AddressCache holding up to maxSize
// entries.
func NewAddressCache(maxSize int) AddressCache {
	cache, err := lru.New(maxSize)
	if err != nil {
		panic(fmt.Errorf("failed to create address cache: %w, maxSize: %d", err, maxSize))
	}
	return &addressCache{inner: cache}
}

func cacheKey(owner common.Address, salt *big.Int) string {
	return fmt.Sprintf("%s-%s", owner.Hex(), salt.String())
}

// Get implements AddressCache.
func (c *addressCache) Get(owner common.Address, salt *big.Int) (common.Address, bool) {
	value, ok := c.inner.Get(cacheKey(owner, salt))
	if !ok {
		return common.Address{}, false
	}
	return value.(common.Address), true
}

// Put implements AddressCache.
func (c *addressCache) Put(owner common.Address, salt *big.Int, addr common.Address) {
	c.inner.Add(cacheKey(owner, salt), addr)
}

var _ AddressCache = &addressCache{}
