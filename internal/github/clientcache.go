package github

import (
	"container/list"
	"sync"
)

// clientCache is a bounded, least-recently-used set of installation clients
// keyed by lowercase owner.
type clientCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	items    map[string]*list.Element
}

type cacheEntry struct {
	owner  string
	client *AppClient
}

func newClientCache(capacity int) *clientCache {
	if capacity < 1 {
		capacity = 1
	}
	return &clientCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *clientCache) get(owner string) (*AppClient, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[owner]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).client, true
}

// put stores client for owner and reports the owner evicted to make room.
func (c *clientCache) put(owner string, client *AppClient) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[owner]; ok {
		el.Value.(*cacheEntry).client = client
		c.order.MoveToFront(el)
		return "", false
	}

	var evicted string
	var didEvict bool
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		victim := c.order.Remove(oldest).(*cacheEntry)
		delete(c.items, victim.owner)
		evicted, didEvict = victim.owner, true
	}

	c.items[owner] = c.order.PushFront(&cacheEntry{owner: owner, client: client})
	return evicted, didEvict
}

func (c *clientCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
