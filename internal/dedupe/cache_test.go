// ABOUTME: Tests for the notification dedupe cache
// ABOUTME: Covers duplicate detection, TTL expiry, and capacity eviction

package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeenNotification(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.SeenNotification("conn-1", 1))
	assert.True(t, c.SeenNotification("conn-1", 1))

	// Different notification or connection is not a duplicate
	assert.False(t, c.SeenNotification("conn-1", 2))
	assert.False(t, c.SeenNotification("conn-2", 1))
}

func TestExpiredEntryNotDuplicate(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	defer c.Close()

	assert.False(t, c.SeenNotification("conn-1", 1))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.SeenNotification("conn-1", 1))
}

func TestCapacityEviction(t *testing.T) {
	c := New(time.Minute, 2)
	defer c.Close()

	assert.False(t, c.SeenNotification("conn-1", 1))
	assert.False(t, c.SeenNotification("conn-1", 2))
	// Inserting a third evicts the oldest
	assert.False(t, c.SeenNotification("conn-1", 3))
	assert.False(t, c.SeenNotification("conn-1", 1))
}

func TestRunCleanupRemovesExpired(t *testing.T) {
	c := New(time.Nanosecond, 100)
	defer c.Close()

	c.SeenNotification("conn-1", 1)
	time.Sleep(time.Millisecond)
	c.runCleanup()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.seen)
	assert.Zero(t, c.order.Len())
}
