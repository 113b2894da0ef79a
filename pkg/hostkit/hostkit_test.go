package hostkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oma-lwm2m/pkgdl/pkg/pkgdl"
)

func TestMemoryHostRecordsTranscript(t *testing.T) {
	h := &MemoryHost{Size: 1234}
	cb := h.Callbacks()

	require.NoError(t, cb.InitDownload("mem://pkg"))
	info, err := cb.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), info.Size)

	require.NoError(t, cb.SetFwState(pkgdl.UpdateStateDownloading))
	require.NoError(t, cb.StoreRange([]byte{1, 2, 3}))
	require.NoError(t, cb.StoreRange([]byte{4, 5}))
	require.NoError(t, cb.SetFwState(pkgdl.UpdateStateDownloaded))
	require.NoError(t, cb.SetFwResult(pkgdl.ResultNormal))
	require.NoError(t, cb.EndDownload())

	assert.Equal(t, []byte{1, 2, 3, 4, 5}, h.Stored.Bytes())
	assert.Equal(t, []pkgdl.UpdateState{pkgdl.UpdateStateDownloading, pkgdl.UpdateStateDownloaded}, h.FwStates)
	assert.Equal(t, []pkgdl.ResultKind{pkgdl.ResultNormal}, h.FwResults)
	assert.Equal(t, 1, h.EndCalls)
}

func TestMemoryHostPropagatesInjectedErrors(t *testing.T) {
	boom := assertError("boom")
	h := &MemoryHost{InitErr: boom}
	cb := h.Callbacks()
	assert.ErrorIs(t, cb.InitDownload("mem://pkg"), boom)
}

type assertError string

func (e assertError) Error() string { return string(e) }
