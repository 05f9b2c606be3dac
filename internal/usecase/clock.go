package usecase

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// tenantClock issues server-assigned ReceivedAt timestamps that are
// monotonically non-decreasing per tenant within this process. ReceivedAt
// is an ordering tie-break for sample-event selection, not a total order;
// skew across gateway processes is tolerated.
type tenantClock struct {
	mu   sync.Mutex
	last map[uuid.UUID]time.Time
	now  func() time.Time
}

func newTenantClock() *tenantClock {
	return &tenantClock{
		last: make(map[uuid.UUID]time.Time),
		now:  time.Now,
	}
}

func (c *tenantClock) Next(tenantID uuid.UUID) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now().UTC()
	if last, ok := c.last[tenantID]; ok && now.Before(last) {
		now = last
	}
	c.last[tenantID] = now
	return now
}
