package tracker

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireRelease(t *testing.T) {
	tr := New(nil)
	a := tr.Acquire("/idx/v_1")
	b := tr.Acquire("/idx/v_1/")
	assert.Equal(t, 2, tr.Refcount("/idx/v_1"))

	a.Release()
	assert.Equal(t, 1, tr.Refcount("/idx/v_1"))
	b.Release()
	assert.Equal(t, 0, tr.Refcount("/idx/v_1"))
	assert.Empty(t, tr.Snapshot())
}

func TestDoubleReleaseNeverGoesNegative(t *testing.T) {
	tr := New(nil)
	keep := tr.Acquire("/idx/v_1")
	l := tr.Acquire("/idx/v_1")
	l.Release()
	l.Release()
	assert.Equal(t, 1, tr.Refcount("/idx/v_1"))
	keep.Release()
	assert.Equal(t, 0, tr.Refcount("/idx/v_1"))
}

func TestDoReleasesOnErrorAndPanic(t *testing.T) {
	tr := New(nil)
	boom := errors.New("boom")

	err := tr.Do("/idx/v_1", func() error {
		assert.Equal(t, 1, tr.Refcount("/idx/v_1"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, tr.Refcount("/idx/v_1"))

	assert.Panics(t, func() {
		_ = tr.Do("/idx/v_1", func() error { panic("query crashed") })
	})
	assert.Equal(t, 0, tr.Refcount("/idx/v_1"))
}

func TestConcurrentLeases(t *testing.T) {
	tr := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l := tr.Acquire("/idx/v_1")
				l.Release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, tr.Refcount("/idx/v_1"))
}
