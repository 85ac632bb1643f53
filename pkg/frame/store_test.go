package frame

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutGetDelete(t *testing.T) {
	s := NewStore()
	stamp := time.Now()
	rec := &Record{}

	require.NoError(t, s.Put(stamp, rec))
	assert.Equal(t, 1, s.Size())

	got, err := s.Get(stamp)
	require.NoError(t, err)
	assert.Same(t, rec, got)

	require.NoError(t, s.Delete(stamp))
	assert.Equal(t, 0, s.Size())

	_, err = s.Get(stamp)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(stamp), ErrNotFound)
}

func TestStoreRejectsDuplicateTimestamps(t *testing.T) {
	s := NewStore()
	stamp := time.Now()

	require.NoError(t, s.Put(stamp, &Record{}))
	assert.ErrorIs(t, s.Put(stamp, &Record{}), ErrDuplicateKey)
	assert.Equal(t, 1, s.Size())
}

func TestStoreConcurrentDisjointKeys(t *testing.T) {
	s := NewStore()
	base := time.Now()
	const n = 200

	// Survivors are the even offsets; odd ones are inserted and deleted
	// concurrently and must not disturb them.
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stamp := base.Add(time.Duration(i) * time.Microsecond)
			if err := s.Put(stamp, &Record{}); err != nil {
				t.Errorf("Put(%d): %v", i, err)
				return
			}
			if i%2 == 1 {
				if _, err := s.Get(stamp); err != nil {
					t.Errorf("Get(%d): %v", i, err)
				}
				if err := s.Delete(stamp); err != nil {
					t.Errorf("Delete(%d): %v", i, err)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n/2, s.Size())
	for i := 0; i < n; i += 2 {
		_, err := s.Get(base.Add(time.Duration(i) * time.Microsecond))
		assert.NoError(t, err, "even entry %d corrupted", i)
	}
}
