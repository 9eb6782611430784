package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveDocumentKey_DeterministicAndScoped(t *testing.T) {
	t.Parallel()

	a, err := DeriveDocumentKey(testKeyHex, "notes")
	require.NoError(t, err)
	require.Len(t, a, 64)

	again, err := DeriveDocumentKey(testKeyHex, "notes")
	require.NoError(t, err)
	require.Equal(t, a, again)

	other, err := DeriveDocumentKey(testKeyHex, "backup")
	require.NoError(t, err)
	require.NotEqual(t, a, other)
}

func TestDeriveDocumentKey_RejectsBadMasterKey(t *testing.T) {
	t.Parallel()

	_, err := DeriveDocumentKey("zz", "notes")
	require.Error(t, err)

	_, err = DeriveDocumentKey("abcd", "notes")
	require.Error(t, err)
}
