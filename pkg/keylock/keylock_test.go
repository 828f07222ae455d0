package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	l := New()
	counter := 0

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("loan:1")
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.held())
}

func TestLockAllDeduplicatesAndReleases(t *testing.T) {
	l := New()
	unlock := l.LockAll(LoanKey("a"), AccountKey("b"), LoanKey("a"))
	assert.Equal(t, 2, l.held())
	unlock()
	assert.Equal(t, 0, l.held())
}

func TestSharedAccountAcrossLoans(t *testing.T) {
	l := New()
	balance := 0

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.LockAll(LoanKey(string(rune('a'+i))), AccountKey("funding"))
			defer unlock()
			balance++
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, balance)
	assert.Equal(t, 0, l.held())
}
