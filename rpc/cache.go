package rpc

import (
	uuid "github.com/satori/go.uuid"

	lru "github.com/hashicorp/golang-lru"
)

// vmInfoCacheSize bounds the client-side VmInfo cache; a controller
// session realistically juggles dozens, not thousands, of VMs.
const vmInfoCacheSize = 256

// vmInfoCache memoizes the most recently fetched VmInfo per VM id,
// invalidated by ListHasChanged, QemuConfigurationHasChanged and
// VirtualMachineDidTransition notifications.
type vmInfoCache struct {
	cache *lru.Cache
}

func newVMInfoCache() *vmInfoCache {
	c, err := lru.New(vmInfoCacheSize)
	if err != nil {
		// Only fails for a non-positive size, which vmInfoCacheSize never is.
		panic(err)
	}
	return &vmInfoCache{cache: c}
}

func (c *vmInfoCache) get(id uuid.UUID) (VmInfo, bool) {
	v, ok := c.cache.Get(id)
	if !ok {
		return VmInfo{}, false
	}
	return v.(VmInfo), true
}

func (c *vmInfoCache) put(info VmInfo) {
	c.cache.Add(info.ID, info)
}

func (c *vmInfoCache) invalidate(id uuid.UUID) {
	c.cache.Remove(id)
}

func (c *vmInfoCache) invalidateAll() {
	c.cache.Purge()
}
