package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	key := KeyFor("https://example.gov.br/gazette/2025-01-01.pdf")
	require.True(t, len(key) > len("pdfs/.pdf"))
	require.Equal(t, key, KeyFor("https://example.gov.br/gazette/2025-01-01.pdf"))
}

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := NewMemoryStore("https://pub-example.r2.dev")
	ctx := context.Background()

	key, err := store.Put(ctx, "https://example.gov.br/gazette.pdf", []byte("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)
	require.Equal(t, KeyFor("https://example.gov.br/gazette.pdf"), key)

	body, ok := store.Get(key)
	require.True(t, ok)
	require.Equal(t, []byte("%PDF-1.4"), body)

	require.Equal(t, "https://pub-example.r2.dev/"+key, store.PublicURL(key))
}

func TestMemoryStore_PublicURL_Empty(t *testing.T) {
	store := NewMemoryStore("")
	require.Equal(t, "", store.PublicURL("pdfs/anything.pdf"))
}
