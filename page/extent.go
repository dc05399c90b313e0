// Package page implements the fixed-size page chunking, the packed extent
// wire format, and the page metadata index.
package page

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/fsxcore/tieredfs/codec"
	"github.com/fsxcore/tieredfs/errkind"
	"github.com/fsxcore/tieredfs/internal/bitmap"
	"github.com/fsxcore/tieredfs/internal/wire"
)

// DefaultPageSize is the fixed chunk size a blob's byte stream is split
// into.
const DefaultPageSize = 2 << 20 // 2 MiB

var magic = [4]byte{0x46, 0x53, 0x58, 0x45} // "FSXE"

const wireVersion uint16 = 1

const flagCompressed uint16 = 1 << 0

// fixedHeaderSize is magic(4) + version(2) + flags(2) + page_size(4) +
// page_count(4), the fixed fields ahead of the variable-length bitmap.
const fixedHeaderSize = 4 + 2 + 2 + 4 + 4

const checksumSize = 32

// Extent packs up to len(Bitmap)*8 pages into a single backend object.
// Slots are uniform-stride: every present slot occupies exactly PageSize
// bytes of the (uncompressed) payload, in slot order. A blob's final,
// possibly-short page is zero-padded to PageSize before packing; its true
// length lives in the page metadata index, not in the extent itself.
type Extent struct {
	PageSize   uint32
	PageCount  uint32
	Compressed bool
	Bitmap     []byte
	// payload is the on-wire bytes: compressed if Compressed is set,
	// otherwise the raw concatenation of present pages.
	payload  []byte
	checksum [checksumSize]byte
}

// Build arranges pages (index i is nil when slot i is absent) into an
// extent, optionally compressing the concatenated payload. pageSize is the
// uniform per-slot stride; callers must zero-pad any present page shorter
// than pageSize before calling Build.
func Build(pages [][]byte, pageSize uint32, c codec.Codec, copts codec.Options) ([]byte, error) {
	if pageSize == 0 {
		return nil, errkind.New(errkind.Invalid, "build_extent", "", fmt.Errorf("page size must be > 0"))
	}
	bm := bitmap.New(len(pages))
	var raw bytes.Buffer
	for i, p := range pages {
		if p == nil {
			continue
		}
		if uint32(len(p)) != pageSize {
			return nil, errkind.New(errkind.Invalid, "build_extent", "", fmt.Errorf("slot %d: page length %d != page size %d", i, len(p), pageSize))
		}
		bitmap.Set(bm, i)
		raw.Write(p)
	}

	sum := sha256.Sum256(raw.Bytes())

	compressedPayload, meta, err := codec.Compress(raw.Bytes(), c, copts)
	if err != nil {
		return nil, err
	}
	compressed := meta.Codec != codec.None && meta.Codec != ""

	out := make([]byte, 0, fixedHeaderSize+len(bm)+len(compressedPayload)+checksumSize)
	out = append(out, magic[:]...)
	out = wire.PutUint16(out, wireVersion)
	var flags uint16
	if compressed {
		flags |= flagCompressed
	}
	out = wire.PutUint16(out, flags)
	out = wire.PutUint32(out, pageSize)
	out = wire.PutUint32(out, uint32(len(pages)))
	out = append(out, bm...)
	out = append(out, compressedPayload...)
	out = append(out, sum[:]...)
	return out, nil
}

// Parse validates the header and locates the bitmap, payload, and
// checksum. It does not decompress the payload; call ExtractPage or
// Validate for that.
func Parse(data []byte) (*Extent, error) {
	if len(data) < fixedHeaderSize+checksumSize {
		return nil, errkind.New(errkind.Invalid, "parse_extent_header", "", fmt.Errorf("truncated extent: %d bytes", len(data)))
	}
	if !bytes.Equal(data[0:4], magic[:]) {
		return nil, errkind.New(errkind.Invalid, "parse_extent_header", "", fmt.Errorf("bad magic"))
	}
	version := wire.Uint16(data, 4)
	if version != wireVersion {
		return nil, errkind.New(errkind.Invalid, "parse_extent_header", "", fmt.Errorf("unsupported version %d", version))
	}
	flags := wire.Uint16(data, 6)
	pageSize := wire.Uint32(data, 8)
	pageCount := wire.Uint32(data, 12)

	bmSize := bitmap.Size(int(pageCount))
	off := fixedHeaderSize
	if len(data) < off+bmSize+checksumSize {
		return nil, errkind.New(errkind.Invalid, "parse_extent_header", "", fmt.Errorf("truncated bitmap/checksum"))
	}
	bm := data[off : off+bmSize]
	off += bmSize

	payload := data[off : len(data)-checksumSize]
	var sum [checksumSize]byte
	copy(sum[:], data[len(data)-checksumSize:])

	return &Extent{
		PageSize:   pageSize,
		PageCount:  pageCount,
		Compressed: flags&flagCompressed != 0,
		Bitmap:     append([]byte(nil), bm...),
		payload:    append([]byte(nil), payload...),
		checksum:   sum,
	}, nil
}

// uncompressed returns the raw, decompressed payload, decompressing lazily
// (and only once conceptually — callers typically call this once per
// extent then reuse the Extent).
func (e *Extent) uncompressed() ([]byte, error) {
	if !e.Compressed {
		return e.payload, nil
	}
	// The wire format does not carry which codec produced the frame
	// outside the frame's own magic, so probe in the fixed codec order;
	// zstd and brotli frames self-identify via their magic, gzip
	// via its own two-byte magic recognized by compress/gzip.
	expected := uncompressedSize(e)
	for _, c := range []codec.Codec{codec.Zstd, codec.Brotli, codec.Gzip} {
		out, err := codec.Decompress(e.payload, codec.Meta{Codec: c, OriginalSize: expected})
		if err == nil {
			return out, nil
		}
	}
	return nil, errkind.New(errkind.Invalid, "extract_page", "", fmt.Errorf("unable to decompress extent payload"))
}

// uncompressedSize returns the expected size of the decompressed payload:
// one PageSize stride per present slot.
func uncompressedSize(e *Extent) int {
	return bitmap.Count(e.Bitmap, int(e.PageCount)) * int(e.PageSize)
}

// ExtractPage returns the bytes for slot, or a NotFound error if the slot's
// presence bit is zero.
func (e *Extent) ExtractPage(slot int) ([]byte, error) {
	if slot < 0 || slot >= int(e.PageCount) {
		return nil, errkind.New(errkind.Invalid, "extract_page", "", fmt.Errorf("slot %d out of range", slot))
	}
	if !bitmap.Test(e.Bitmap, slot) {
		return nil, errkind.New(errkind.NotFound, "extract_page", "", fmt.Errorf("slot %d absent", slot))
	}
	raw, err := e.uncompressed()
	if err != nil {
		return nil, err
	}
	idx := bitmap.Count(e.Bitmap, slot)
	start := idx * int(e.PageSize)
	end := start + int(e.PageSize)
	if end > len(raw) {
		return nil, errkind.New(errkind.Invalid, "extract_page", "", fmt.Errorf("payload shorter than expected"))
	}
	out := make([]byte, e.PageSize)
	copy(out, raw[start:end])
	return out, nil
}

// Validate recomputes the checksum over the uncompressed payload and
// compares it against the trailing stored SHA-256.
func (e *Extent) Validate() error {
	raw, err := e.uncompressed()
	if err != nil {
		return err
	}
	sum := sha256.Sum256(raw)
	if sum != e.checksum {
		return errkind.New(errkind.Invalid, "validate_extent", "", fmt.Errorf("checksum mismatch"))
	}
	return nil
}

// PagesPerExtent returns how many pageSize-sized slots fit in an extent of
// extentSize bytes.
func PagesPerExtent(extentSize, pageSize uint32) int {
	if pageSize == 0 {
		return 0
	}
	return int(extentSize / pageSize)
}
