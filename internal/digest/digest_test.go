package digest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	require.Equal(t, Sum(data), Sum(data), "same bytes must produce the same digest")
	require.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", Sum(data))
}

func TestSumDistinguishesContent(t *testing.T) {
	t.Parallel()

	samples := [][]byte{
		nil,
		[]byte(""),
		[]byte("a"),
		[]byte("b"),
		[]byte("ab"),
		[]byte("ba"),
		{0x00},
		{0x00, 0x00},
	}

	seen := map[string][]byte{}
	for _, s := range samples {
		d := Sum(s)
		require.Len(t, d, 32, "digest must be fixed length hex")
		if prev, ok := seen[d]; ok {
			require.Equal(t, prev, s, "distinct buffers must not collide")
		}
		seen[d] = s
	}
	// nil and empty are the same byte content and must share a digest.
	require.Equal(t, Sum(nil), Sum([]byte("")))
}
