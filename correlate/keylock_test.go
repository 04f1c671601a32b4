package correlate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLocks_SameKeySerializes(t *testing.T) {
	locks := NewKeyLocks(16)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock("host-1")
			counter++
			locks.Unlock("host-1")
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
}

func TestKeyLocks_StableStripeAssignment(t *testing.T) {
	locks := NewKeyLocks(16)
	assert.Same(t, locks.stripe("host-1"), locks.stripe("host-1"))
}

func TestKeyLocks_MinimumOneStripe(t *testing.T) {
	locks := NewKeyLocks(0)
	locks.Lock("any")
	locks.Unlock("any")
}
