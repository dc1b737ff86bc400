package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFIFO(t *testing.T) {
	rb := New(8, nil, "test")
	rb.Write([]float32{1, 2, 3})
	require.Equal(t, 3, rb.Count())

	out := rb.Read(2)
	require.Equal(t, []float32{1, 2}, out)
	require.Equal(t, 1, rb.Count())
}

func TestReadReturnsFewerThanRequested(t *testing.T) {
	rb := New(8, nil, "test")
	rb.Write([]float32{1, 2})

	out := rb.Read(10)
	require.Equal(t, []float32{1, 2}, out)
	require.Empty(t, rb.Read(1))
}

func TestReadEmptyReturnsEmpty(t *testing.T) {
	rb := New(4, nil, "test")
	require.True(t, rb.IsEmpty())
	require.Empty(t, rb.Read(5))
}

func TestWriteOverflowDropsOldest(t *testing.T) {
	rb := New(4, nil, "test")
	rb.Write([]float32{1, 2, 3, 4})
	rb.Write([]float32{5, 6})

	require.Equal(t, 4, rb.Count())
	out := rb.Read(4)
	require.Equal(t, []float32{3, 4, 5, 6}, out)
}

func TestWriteLargerThanCapacityKeepsTrailing(t *testing.T) {
	rb := New(3, nil, "test")
	rb.Write([]float32{1, 2, 3, 4, 5})

	require.Equal(t, 3, rb.Count())
	require.Equal(t, []float32{3, 4, 5}, rb.Read(3))
}

func TestResetZeroesCursorsNotStorage(t *testing.T) {
	rb := New(4, nil, "test")
	rb.Write([]float32{1, 2, 3})
	rb.Reset()

	require.True(t, rb.IsEmpty())
	require.Empty(t, rb.Read(1))

	rb.Write([]float32{9})
	require.Equal(t, []float32{9}, rb.Read(1))
}

func TestWriteAcrossWrapAroundPreservesOrder(t *testing.T) {
	rb := New(4, nil, "test")
	rb.Write([]float32{1, 2, 3})
	rb.Read(2)
	rb.Write([]float32{4, 5})

	require.Equal(t, 3, rb.Count())
	require.Equal(t, []float32{3, 4, 5}, rb.Read(3))
}
