package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitDeliversInRegistrationOrder(t *testing.T) {
	var r Registry[int]
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		r.Add(func(int) { order = append(order, i) })
	}

	r.Emit(0)

	want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	require.Equal(t, want, order)
}

func TestRemoveSkipsCallback(t *testing.T) {
	var r Registry[string]
	var calls []string
	id := r.Add(func(string) { calls = append(calls, "a") })
	r.Add(func(string) { calls = append(calls, "b") })

	r.Remove(id)
	r.Emit("x")

	require.Equal(t, []string{"b"}, calls)
	require.Equal(t, 1, r.Len())
}

func TestRemoveUnknownIDIsNoop(t *testing.T) {
	var r Registry[int]
	r.Add(func(int) {})
	r.Remove(999)
	require.Equal(t, 1, r.Len())
}
