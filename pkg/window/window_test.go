package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindow(t *testing.T) {
	testCases := []struct {
		name     string
		capacity int
		push     []int
		values   []int
		latest2  []int
	}{
		{
			name:     "empty",
			capacity: 3,
			values:   []int{},
			latest2:  []int{},
		},
		{
			name:     "not full",
			capacity: 3,
			push:     []int{1, 2},
			values:   []int{1, 2},
			latest2:  []int{2, 1},
		},
		{
			name:     "evict oldest",
			capacity: 3,
			push:     []int{1, 2, 3, 4, 5},
			values:   []int{3, 4, 5},
			latest2:  []int{5, 4},
		},
		{
			name:     "zero capacity",
			capacity: 0,
			push:     []int{7, 8},
			values:   []int{8},
			latest2:  []int{8},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := New[int](tc.capacity)
			for _, v := range tc.push {
				w.Push(v)
			}
			assert.Equal(t, tc.values, w.Values())
			assert.Equal(t, tc.latest2, w.Latest(2))
			assert.Equal(t, len(tc.values), w.Len())
		})
	}
}

func TestWindow_Update(t *testing.T) {
	w := New[int](2)
	w.Update(func(v *int) { *v = 100 })
	assert.Equal(t, 0, w.Len())

	w.Push(1)
	w.Push(2)
	w.Push(3)
	w.Update(func(v *int) { *v += 10 })
	assert.Equal(t, []int{2, 13}, w.Values())
}
