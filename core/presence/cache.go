package presence

import "sync"

// Cache holds the last observed status of each user. Entries are never evicted.
type Cache struct {
	statuses map[UserID]Status
	mutex    sync.RWMutex
}

func NewCache() *Cache {
	return &Cache{statuses: make(map[UserID]Status)}
}

// Set records the status of the given user, replacing any previous value
func (c *Cache) Set(id UserID, status Status) {
	c.mutex.Lock()
	c.statuses[id] = status
	c.mutex.Unlock()
}

// Get returns the cached status of the given user and whether we have one
func (c *Cache) Get(id UserID) (Status, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	s, ok := c.statuses[id]
	return s, ok
}

func (c *Cache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.statuses)
}
