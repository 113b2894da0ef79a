package streambuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageSingleChunkExact(t *testing.T) {
	b := New(1024)
	chunk := []byte("0123456789")
	view, consumed, ready, err := b.Stage(chunk, 10, false, 0)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, 10, consumed)
	assert.Equal(t, chunk, view)
}

func TestStageAcrossMultipleChunks(t *testing.T) {
	b := New(1024)
	view, consumed, ready, err := b.Stage([]byte("01234"), 10, false, 0)
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Equal(t, 5, consumed)
	assert.Nil(t, view)

	view, consumed, ready, err = b.Stage([]byte("56789rest"), 10, false, 0)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, 5, consumed)
	assert.Equal(t, []byte("0123456789"), view)
}

func TestStageOneByteAtATime(t *testing.T) {
	b := New(1024)
	want := []byte("abcdefgh")
	var got []byte
	for i := 0; i < len(want); i++ {
		view, consumed, ready, err := b.Stage(want[i:i+1], len(want), false, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, consumed)
		if ready {
			got = view
		} else {
			assert.Nil(t, view)
		}
	}
	assert.Equal(t, want, got)
}

func TestStageZeroLength(t *testing.T) {
	b := New(1024)
	view, consumed, ready, err := b.Stage([]byte("anything"), 0, false, 0)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, 0, consumed)
	assert.Empty(t, view)
}

func TestStageOverflow(t *testing.T) {
	b := New(8)
	_, _, _, err := b.Stage(make([]byte, 5), 20, false, 0)
	require.NoError(t, err)
	_, _, _, err = b.Stage(make([]byte, 10), 20, false, 0)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestStageBinaryModePassthrough(t *testing.T) {
	b := New(1024)
	chunk := []byte("0123456789")
	view, consumed, ready, err := b.Stage(chunk, 999, true, 4)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, 4, consumed)
	assert.Equal(t, []byte("0123"), view)
	// Binary mode never copies into the staging buffer.
	assert.Equal(t, 0, b.Len())
}

func TestStageBinaryModeNoBytesAvailable(t *testing.T) {
	b := New(1024)
	view, consumed, ready, err := b.Stage(nil, 0, true, 10)
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Equal(t, 0, consumed)
	assert.Nil(t, view)
}

func TestConsumedResetsStaging(t *testing.T) {
	b := New(1024)
	_, _, ready, err := b.Stage([]byte("01234"), 10, false, 0)
	require.NoError(t, err)
	require.False(t, ready)
	assert.Equal(t, 5, b.Len())
	b.Consumed()
	assert.Equal(t, 0, b.Len())
}

func TestResetDropsPartialStage(t *testing.T) {
	b := New(1024)
	_, _, _, err := b.Stage([]byte("01234"), 10, false, 0)
	require.NoError(t, err)
	b.Reset()
	assert.Equal(t, 0, b.Len())
}
