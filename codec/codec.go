// Package codec implements the optional page-demotion compression:
// none/zstd/brotli/gzip codecs, skip heuristics, and running stats.
// zstd and brotli frames carry a magic plus the original size so
// truncation and cross-codec confusion are detected; gzip's own header
// already serves that role.
package codec

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/fsxcore/tieredfs/internal/wire"
)

// Codec names a supported compression algorithm.
type Codec string

const (
	None   Codec = "none"
	Zstd   Codec = "zstd"
	Brotli Codec = "brotli"
	Gzip   Codec = "gzip"
)

// DefaultMinSize is the smallest input that is ever worth compressing.
const DefaultMinSize = 1024

// skipMimeTypes holds formats that are already compressed; trying again
// almost always yields a larger or equal-size frame.
var skipMimeTypes = map[string]bool{
	"image/jpeg": true, "image/png": true, "image/gif": true, "image/webp": true,
	"video/mp4": true, "video/webm": true, "video/quicktime": true,
	"audio/mpeg": true, "audio/aac": true, "audio/ogg": true,
	"application/zip": true, "application/gzip": true, "application/x-tar": true,
	"application/x-7z-compressed": true, "application/x-rar-compressed": true,
	"application/pdf": true,
}

// Meta travels alongside the stored bytes so Decompress knows how to
// reverse the transform and callers can report space savings.
type Meta struct {
	Codec          Codec
	OriginalSize   int
	CompressedSize int
	Ratio          float64 // CompressedSize / OriginalSize; 1.0 means no savings
}

// Options configures Compress's skip heuristics.
type Options struct {
	Enabled  bool
	MinSize  int
	MimeType string
}

var (
	zstdMagic   = []byte{0x28, 0xB5, 0x2F, 0xFD}
	brotliMagic = []byte{0x62, 0x52, 0x6F, 0x31} // "bRo1"
)

// Compress applies codec to data unless a skip condition applies
// (disabled, too small, already-compressed MIME type, or no savings), in
// which case it returns the original bytes untouched with a {none,...}
// Meta. The returned byte slice is always safe for the caller to retain.
func Compress(data []byte, c Codec, opts Options) ([]byte, Meta, error) {
	passthrough := Meta{Codec: None, OriginalSize: len(data), CompressedSize: len(data), Ratio: 1.0}

	if !opts.Enabled || c == None {
		return data, passthrough, nil
	}
	minSize := opts.MinSize
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	if len(data) < minSize {
		return data, passthrough, nil
	}
	if skipMimeTypes[opts.MimeType] {
		return data, passthrough, nil
	}

	framed, err := frame(data, c)
	if err != nil {
		return nil, Meta{}, err
	}
	if len(framed) >= len(data) {
		return data, passthrough, nil
	}

	return framed, Meta{
		Codec:          c,
		OriginalSize:   len(data),
		CompressedSize: len(framed),
		Ratio:          float64(len(framed)) / float64(len(data)),
	}, nil
}

func frame(data []byte, c Codec) ([]byte, error) {
	switch c {
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		body := enc.EncodeAll(data, nil)
		_ = enc.Close()
		return framedBytes(zstdMagic, data, body), nil
	case Brotli:
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return framedBytes(brotliMagic, data, buf.Bytes()), nil
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.New("codec: unsupported codec " + string(c))
	}
}

// framedBytes prepends the codec's 4-byte magic and the 8-byte
// little-endian original size ahead of body, so truncation and
// cross-codec confusion are detected on the way back out.
func framedBytes(magic []byte, original, body []byte) []byte {
	out := make([]byte, 0, len(magic)+8+len(body))
	out = append(out, magic...)
	out = wire.PutUint64(out, uint64(len(original)))
	out = append(out, body...)
	return out
}

// Decompress reverses Compress. meta.Codec == None is a pass-through. The
// decompressed length must equal meta.OriginalSize or the call fails.
func Decompress(data []byte, meta Meta) ([]byte, error) {
	var out []byte
	var err error

	switch meta.Codec {
	case "", None:
		return data, nil
	case Zstd:
		out, err = unframe(data, zstdMagic, func(body []byte) ([]byte, error) {
			dec, derr := zstd.NewReader(nil)
			if derr != nil {
				return nil, derr
			}
			defer dec.Close()
			return dec.DecodeAll(body, nil)
		})
	case Brotli:
		out, err = unframe(data, brotliMagic, func(body []byte) ([]byte, error) {
			return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		})
	case Gzip:
		r, gerr := gzip.NewReader(bytes.NewReader(data))
		if gerr != nil {
			return nil, gerr
		}
		defer r.Close()
		out, err = io.ReadAll(r)
	default:
		return nil, errors.New("codec: unknown codec " + string(meta.Codec))
	}
	if err != nil {
		return nil, err
	}
	if len(out) != meta.OriginalSize {
		return nil, errors.New("codec: decompressed size mismatch")
	}
	return out, nil
}

func unframe(data, magic []byte, decode func([]byte) ([]byte, error)) ([]byte, error) {
	if len(data) < len(magic)+8 {
		return nil, errors.New("codec: truncated frame")
	}
	if !bytes.Equal(data[:len(magic)], magic) {
		return nil, errors.New("codec: magic mismatch, cross-codec confusion")
	}
	originalSize := wire.Uint64(data, len(magic))
	body := data[len(magic)+8:]
	out, err := decode(body)
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) != originalSize {
		return nil, errors.New("codec: truncated payload")
	}
	return out, nil
}
