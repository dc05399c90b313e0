package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repeat(s string, n int) []byte {
	return []byte(strings.Repeat(s, n))
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	data := repeat("the quick brown fox jumps over the lazy dog ", 200)

	for _, c := range []Codec{Zstd, Brotli, Gzip} {
		c := c
		t.Run(string(c), func(t *testing.T) {
			out, meta, err := Compress(data, c, Options{Enabled: true, MinSize: 1})
			require.NoError(t, err)
			assert.Equal(t, c, meta.Codec)
			assert.Less(t, meta.CompressedSize, meta.OriginalSize)

			back, err := Decompress(out, meta)
			require.NoError(t, err)
			assert.Equal(t, data, back)
		})
	}
}

func TestCompressSkipsWhenDisabled(t *testing.T) {
	data := repeat("x", 4096)
	out, meta, err := Compress(data, Zstd, Options{Enabled: false})
	require.NoError(t, err)
	assert.Equal(t, None, meta.Codec)
	assert.Equal(t, data, out)
	assert.Equal(t, 1.0, meta.Ratio)
}

func TestCompressSkipsBelowMinSize(t *testing.T) {
	data := []byte("short")
	out, meta, err := Compress(data, Zstd, Options{Enabled: true, MinSize: 1024})
	require.NoError(t, err)
	assert.Equal(t, None, meta.Codec)
	assert.Equal(t, data, out)
}

func TestCompressSkipsSkipMimeType(t *testing.T) {
	data := repeat("binary-ish-but-pretend-jpeg", 200)
	out, meta, err := Compress(data, Zstd, Options{Enabled: true, MinSize: 1, MimeType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, None, meta.Codec)
	assert.Equal(t, data, out)
}

func TestCompressSkipsWhenResultNotSmaller(t *testing.T) {
	// Incompressible random-looking short data around the framing overhead.
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	out, meta, err := Compress(data, Zstd, Options{Enabled: true, MinSize: 1})
	require.NoError(t, err)
	assert.Equal(t, None, meta.Codec)
	assert.Equal(t, data, out)
}

func TestDecompressDetectsCrossCodecConfusion(t *testing.T) {
	data := repeat("payload", 300)
	out, meta, err := Compress(data, Zstd, Options{Enabled: true, MinSize: 1})
	require.NoError(t, err)

	meta.Codec = Brotli
	_, err = Decompress(out, meta)
	assert.Error(t, err)
}

func TestStatsTracksSkippedAndCompressed(t *testing.T) {
	var st Stats
	_, m1, err := Compress(repeat("a", 4096), Zstd, Options{Enabled: true, MinSize: 1})
	require.NoError(t, err)
	st.Record(m1)

	_, m2, err := Compress([]byte("tiny"), Zstd, Options{Enabled: true, MinSize: 1024})
	require.NoError(t, err)
	st.Record(m2)

	snap := st.Snapshot()
	assert.EqualValues(t, 1, snap.PagesCompressed)
	assert.EqualValues(t, 1, snap.PagesSkipped)

	st.Reset()
	snap = st.Snapshot()
	assert.Zero(t, snap.PagesCompressed)
	assert.Zero(t, snap.PagesSkipped)
}
