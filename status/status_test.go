package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorent/gorent/metainfo"
	"github.com/gorent/gorent/p2p"
)

func twoPieceInfo() metainfo.Info {
	return metainfo.Info{PieceLength: 16, Length: 24} // piece 0: 16 bytes, piece 1: 8 bytes
}

func TestNewStatusInvariant(t *testing.T) {
	s := New(twoPieceInfo())
	assert.Equal(t, int64(24), s.Left())
	assert.Equal(t, int64(0), s.Downloaded())
	assert.Equal(t, s.Downloaded()+s.Left(), int64(24))
	assert.Equal(t, 2, s.PieceCount())
}

func TestDownloadPieceTransitionScenario(t *testing.T) {
	// spec §8 scenario 6.
	s := New(metainfo.Info{PieceLength: 16, Length: 16})
	s.Lock()
	defer s.Unlock()
	require.NoError(t, s.SetPieceAsRequested(0))
	err := s.UpdatePieceStatus(0, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, ValidAndAvailable, s.pieces[0].State)
	assert.Equal(t, int64(16), s.downloaded)
	assert.Equal(t, int64(0), s.left)
}

func TestUpdatePieceStatusPartialThenComplete(t *testing.T) {
	s := New(metainfo.Info{PieceLength: 16, Length: 16})
	s.Lock()
	require.NoError(t, s.UpdatePieceStatus(0, 0, 10))
	assert.Equal(t, PartiallyDownloaded, s.pieces[0].State)
	assert.EqualValues(t, 10, s.pieces[0].DownloadedBytes)
	assert.False(t, s.pieces[0].Requested)

	begin, err := s.CalculateBeginningByteIndex(0)
	require.NoError(t, err)
	assert.EqualValues(t, 10, begin)

	require.NoError(t, s.UpdatePieceStatus(0, 10, 6))
	assert.Equal(t, ValidAndAvailable, s.pieces[0].State)
	s.Unlock()

	assert.True(t, s.IsComplete())
	assert.Equal(t, Completed, s.EventState())
}

func TestLookForMissingPieceRespectsPeerBitfieldAndRequestedFlag(t *testing.T) {
	s := New(metainfo.Info{PieceLength: 4, Length: 12}) // 3 pieces
	s.Lock()
	defer s.Unlock()

	peerHas := p2p.NewBitfield([]bool{true, false, true})

	idx, ok := s.LookForMissingPiece(peerHas)
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	require.NoError(t, s.SetPieceAsRequested(0))

	idx, ok = s.LookForMissingPiece(peerHas)
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	require.NoError(t, s.SetPieceAsRequested(2))
	_, ok = s.LookForMissingPiece(peerHas)
	assert.False(t, ok)
}

func TestSetPieceAsRequestedFailsOnValid(t *testing.T) {
	s := New(metainfo.Info{PieceLength: 4, Length: 4})
	s.Lock()
	require.NoError(t, s.UpdatePieceStatus(0, 0, 4))
	err := s.SetPieceAsRequested(0)
	s.Unlock()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyValid)
}

func TestSetAllPiecesAsNotRequested(t *testing.T) {
	s := New(metainfo.Info{PieceLength: 4, Length: 8})
	s.Lock()
	require.NoError(t, s.SetPieceAsRequested(0))
	require.NoError(t, s.SetPieceAsRequested(1))
	s.Unlock()

	s.SetAllPiecesAsNotRequested()

	assert.False(t, s.PieceAt(0).Requested)
	assert.False(t, s.PieceAt(1).Requested)
}

func TestResetPieceOnHashMismatch(t *testing.T) {
	s := New(metainfo.Info{PieceLength: 4, Length: 4})
	s.Lock()
	require.NoError(t, s.UpdatePieceStatus(0, 0, 4))
	s.ResetPiece(0)
	s.Unlock()

	p := s.PieceAt(0)
	assert.Equal(t, Missing, p.State)
	assert.False(t, p.Requested)
}

func TestCalculateAmountOfBytesCapsAtBlockSize(t *testing.T) {
	s := New(metainfo.Info{PieceLength: 32768, Length: 32768})
	amount := s.CalculateAmountOfBytes(0, 0)
	assert.EqualValues(t, p2p.BlockBytes, amount)
	amount = s.CalculateAmountOfBytes(0, 32768-100)
	assert.EqualValues(t, 100, amount)
}

func TestAvailableCountTracksValidPieces(t *testing.T) {
	s := New(metainfo.Info{PieceLength: 4, Length: 8})
	assert.Equal(t, 0, s.AvailableCount())

	s.Lock()
	require.NoError(t, s.UpdatePieceStatus(0, 0, 4))
	s.Unlock()
	assert.Equal(t, 1, s.AvailableCount())

	s.Lock()
	require.NoError(t, s.UpdatePieceStatus(1, 0, 4))
	s.Unlock()
	assert.Equal(t, 2, s.AvailableCount())

	s.Lock()
	s.ResetPiece(0)
	s.Unlock()
	assert.Equal(t, 1, s.AvailableCount())
}
