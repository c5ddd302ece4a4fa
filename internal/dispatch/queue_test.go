package dispatch

import (
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/assert"
)

func TestQueue_RunsInOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := NewQueue()
		defer q.Close()

		var got []int
		for i := range 5 {
			q.Post(func() { got = append(got, i) })
		}
		q.Do(func() {})

		assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	})
}

func TestQueue_PostFromInsideQueue(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := NewQueue()
		defer q.Close()

		var got []string
		q.Post(func() {
			got = append(got, "outer")
			q.Post(func() { got = append(got, "inner") })
			got = append(got, "outer done")
		})
		synctest.Wait()

		assert.Equal(t, []string{"outer", "outer done", "inner"}, got)
	})
}

func TestQueue_DoAfterClose(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := NewQueue()
		q.Close()

		ran := false
		ok := q.Do(func() { ran = true })

		assert.False(t, ok)
		assert.False(t, ran)
	})
}

func TestQueue_CloseIdempotent(t *testing.T) {
	synctest.Test(t, func(_ *testing.T) {
		q := NewQueue()
		q.Close()
		q.Close()
	})
}

func TestInline_RunsImmediately(t *testing.T) {
	ran := false
	Inline.Post(func() { ran = true })
	assert.True(t, ran)
}
