package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestDigestRoundTrip(t *testing.T) {
	ix := openTestIndex(t)
	digest := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}

	seen, err := ix.Has(digest)
	require.NoError(t, err)
	assert.False(t, seen)

	_, found, err := ix.Location(digest)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, ix.Put(digest, "acct.INBOX/170000.abcd.eml"))

	seen, err = ix.Has(digest)
	require.NoError(t, err)
	assert.True(t, seen)

	location, found, err := ix.Location(digest)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "acct.INBOX/170000.abcd.eml", location)
}

func TestWatermarkDefaultsToZero(t *testing.T) {
	ix := openTestIndex(t)

	mark, err := ix.Watermark("INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), mark)
}

func TestWatermarkNeverRegresses(t *testing.T) {
	ix := openTestIndex(t)

	require.NoError(t, ix.SetWatermark("INBOX", 40))
	require.NoError(t, ix.SetWatermark("INBOX", 17))

	mark, err := ix.Watermark("INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(40), mark)

	require.NoError(t, ix.SetWatermark("INBOX", 41))
	mark, err = ix.Watermark("INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(41), mark)
}

func TestWatermarksArePerFolder(t *testing.T) {
	ix := openTestIndex(t)

	require.NoError(t, ix.SetWatermark("INBOX", 10))
	require.NoError(t, ix.SetWatermark("INBOX.Sent", 3))

	mark, err := ix.Watermark("INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(10), mark)

	mark, err = ix.Watermark("INBOX.Sent")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), mark)
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	ix, err := Open(path)
	require.NoError(t, err)
	digest := []byte{0x42, 0x42, 0x42, 0x42}
	require.NoError(t, ix.Put(digest, "acct.INBOX/key.eml"))
	require.NoError(t, ix.SetWatermark("INBOX", 99))
	require.NoError(t, ix.Close())

	ix, err = Open(path)
	require.NoError(t, err)
	defer ix.Close()

	seen, err := ix.Has(digest)
	require.NoError(t, err)
	assert.True(t, seen)

	mark, err := ix.Watermark("INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(99), mark)
}
