// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cache implements the two LRU caches the DNS dissector is allowed
// to call into as external collaborators (spec.md §6): the DNS-to-IP
// reverse address cache (ndpi_cache_address) and the FPC-DNS cache
// (ndpi_lru_add_to_cache). Both wrap github.com/golang/groupcache/lru, which
// is not internally synchronized, with a mutex so the core can treat them
// as atomic get/put per spec.md §5.
package cache

import (
	"net/netip"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"grimm.is/dpicore/internal/protocol"
)

// AddressEntry is the value stored in the reverse address cache.
type AddressEntry struct {
	Hostname  string
	ExpiresAt time.Time
}

// AddressCache maps a resolved IP address back to the hostname that
// resolved to it, with the answer's TTL as the entry's lifetime. It backs
// spec.md §4.7.5's "if an external address cache is configured, insert
// (addr -> host_server_name) with the TTL".
type AddressCache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

// NewAddressCache builds an address cache with room for size entries. A
// size of 0 disables the cache (spec.md §6 dpi.address_cache_size).
func NewAddressCache(size int) *AddressCache {
	if size <= 0 {
		return nil
	}
	return &AddressCache{lru: lru.New(size)}
}

// Put records that addr resolved to hostname, valid for ttl seconds from
// now. Put is a no-op on a nil cache (disabled).
func (c *AddressCache) Put(addr netip.Addr, hostname string, ttl uint32) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(addr, AddressEntry{
		Hostname:  hostname,
		ExpiresAt: time.Now().Add(time.Duration(ttl) * time.Second),
	})
}

// Get returns the hostname last associated with addr, if present and not
// expired.
func (c *AddressCache) Get(addr netip.Addr) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(addr)
	if !ok {
		return "", false
	}
	entry := v.(AddressEntry)
	if time.Now().After(entry.ExpiresAt) {
		c.lru.Remove(addr)
		return "", false
	}
	return entry.Hostname, true
}

// FPCDNSKey identifies a DNS answer for the purposes of the FPC-DNS cache:
// the queried hostname plus the record type that was answered.
type FPCDNSKey struct {
	Hostname string
	QType    uint16
}

// FPCDNSCache maps a DNS answer key to the application protocol last
// matched for that name, so that later flows whose only evidence is the
// resolved IP address (no visible SNI/hostname) can still be classified
// (spec.md §4.7.6 "insert (fpc_dns_key -> app) into the external FPC-DNS LRU
// cache").
type FPCDNSCache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

// NewFPCDNSCache builds a cache with room for size entries; a size of 0 or
// less selects 4096 entries.
func NewFPCDNSCache(size int) *FPCDNSCache {
	if size <= 0 {
		size = 4096
	}
	return &FPCDNSCache{lru: lru.New(size)}
}

// Add records that key resolved to app.
func (c *FPCDNSCache) Add(key FPCDNSKey, app protocol.ID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, app)
}

// Get returns the application protocol last recorded for key.
func (c *FPCDNSCache) Get(key FPCDNSKey) (protocol.ID, bool) {
	if c == nil {
		return protocol.Unknown, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key)
	if !ok {
		return protocol.Unknown, false
	}
	return v.(protocol.ID), true
}
