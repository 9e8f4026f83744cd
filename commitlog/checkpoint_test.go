package commitlog

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointSignVerify(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	cs := NewCheckpointSigner("voting-center-01", key)
	state := Checkpoint{
		MainHead:     "7f3b",
		PendingCount: 42,
		Timestamp:    1650000000000,
	}
	sealed, err := cs.Sign1(state)
	require.NoError(t, err)

	got, err := VerifyCheckpoint(sealed, &key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, state, *got)

	// A different key must not verify.
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	_, err = VerifyCheckpoint(sealed, &other.PublicKey)
	require.Error(t, err)
}

func TestSealMainRecordsCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	seedLog(t, s)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cs := NewCheckpointSigner("voting-center-01", key)

	require.NoError(t, s.SealMain(ctx, cs, 7, 1650000000000))

	head, err := s.Local().ReadRef(ctx, "main")
	require.NoError(t, err)
	data, err := s.Remote().store.Get(ctx, "checkpoints/us/alameda/"+string(head))
	require.NoError(t, err)

	ckpt, err := VerifyCheckpoint(data, &key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, string(head), ckpt.MainHead)
	assert.Equal(t, 7, ckpt.PendingCount)
}
