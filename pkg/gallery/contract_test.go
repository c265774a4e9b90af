package gallery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testByteLen = 16

func emb(b byte) []byte {
	out := make([]byte, testByteLen)
	for i := range out {
		out[i] = b
	}
	return out
}

// runStoreContract exercises the behaviour every Store must share.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("unknown identity", func(t *testing.T) {
		_, err := s.GetTemplates(ctx, "ghost")
		assert.ErrorIs(t, err, ErrIdentityNotFound)
		assert.ErrorIs(t, s.DeleteIdentity(ctx, "ghost"), ErrIdentityNotFound)
		assert.ErrorIs(t, s.MarkComplete(ctx, "ghost", true), ErrIdentityNotFound)
	})

	t.Run("replace keeps one template per pose", func(t *testing.T) {
		first, err := s.ReplaceTemplate(ctx, "E001", "front", emb(1), 60)
		require.NoError(t, err)
		require.NotEmpty(t, first.ID)

		_, err = s.ReplaceTemplate(ctx, "E001", "left", emb(2), 80)
		require.NoError(t, err)

		second, err := s.ReplaceTemplate(ctx, "E001", "front", emb(3), 40)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)

		ts, err := s.GetTemplates(ctx, "E001")
		require.NoError(t, err)
		require.Len(t, ts, 2)

		// best quality first
		assert.Equal(t, "left", ts[0].Pose)
		assert.Equal(t, "front", ts[1].Pose)
		assert.Equal(t, emb(3), ts[1].Embedding)
		assert.Equal(t, 40.0, ts[1].Quality)
		assert.Equal(t, second.ID, ts[1].ID)
	})

	t.Run("invalid template rejected", func(t *testing.T) {
		_, err := s.ReplaceTemplate(ctx, "E001", "front", emb(1)[:8], 60)
		assert.ErrorIs(t, err, ErrInvalidTemplate)
		_, err = s.ReplaceTemplate(ctx, "../etc", "front", emb(1), 60)
		assert.ErrorIs(t, err, ErrInvalidIdentity)
	})

	t.Run("list and complete", func(t *testing.T) {
		_, err := s.ReplaceTemplate(ctx, "E002", "front", emb(4), 90)
		require.NoError(t, err)
		require.NoError(t, s.MarkComplete(ctx, "E002", true))

		infos, err := s.ListIdentities(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.Equal(t, "E001", infos[0].Key)
		assert.ElementsMatch(t, []string{"front", "left"}, infos[0].Poses)
		assert.False(t, infos[0].Complete)
		assert.Equal(t, "E002", infos[1].Key)
		assert.True(t, infos[1].Complete)

		keys, err := s.ListEnrollableIdentities(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"E001", "E002"}, keys)
	})

	t.Run("clear keeps the identity", func(t *testing.T) {
		require.NoError(t, s.ClearIdentity(ctx, "E002"))

		ts, err := s.GetTemplates(ctx, "E002")
		require.NoError(t, err)
		assert.Empty(t, ts)

		keys, err := s.ListEnrollableIdentities(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"E001"}, keys)

		infos, err := s.ListIdentities(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.False(t, infos[1].Complete)
	})

	t.Run("concurrent replace of one pose", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.ReplaceTemplate(ctx, "E003", "front", emb(byte(i+1)), float64(50+i))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		ts, err := s.GetTemplates(ctx, "E003")
		require.NoError(t, err)
		assert.Len(t, ts, 1)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DeleteIdentity(ctx, "E003"))
		_, err := s.GetTemplates(ctx, "E003")
		assert.True(t, errors.Is(err, ErrIdentityNotFound))
	})
}
