package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionalRWMutexSerializesWriters(t *testing.T) {
	mutex := OptionalRWMutex{UseMutex: true}
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				mutex.Lock()
				counter++
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 8000, counter)
}

func TestOptionalRWMutexDisabled(t *testing.T) {
	mutex := OptionalRWMutex{}

	// Locking twice would deadlock if the mutex were in use
	mutex.Lock()
	mutex.Lock()
	mutex.RLock()
	mutex.Unlock()
	mutex.Unlock()
	mutex.RUnlock()

	require.True(t, mutex.Mutex.TryLock())
}
