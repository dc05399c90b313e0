// Package config builds the immutable, validated configuration object
// consumed by the tiered filesystem facade's collaborators: an ini-backed
// Load plus a programmatic New, both returning a value type that cannot
// be mutated after construction.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/fsxcore/tieredfs/errkind"
)

// Encoding names how Read/Write should interpret bytes at the boundary.
// The core storage engine always deals in raw bytes; Encoding is
// meaningful only to the collaborator that decides how to present them.
type Encoding string

const (
	EncodingUTF8    Encoding = "utf8"
	EncodingUTF8Alt Encoding = "utf-8"
	EncodingASCII   Encoding = "ascii"
	EncodingBase64  Encoding = "base64"
	EncodingHex     Encoding = "hex"
	EncodingBinary  Encoding = "binary"
	EncodingLatin1  Encoding = "latin1"
)

var validEncodings = map[Encoding]bool{
	EncodingUTF8: true, EncodingUTF8Alt: true, EncodingASCII: true,
	EncodingBase64: true, EncodingHex: true, EncodingBinary: true, EncodingLatin1: true,
}

// DefaultMode is the default file mode for new writes.
const DefaultMode = 0o666

// DefaultFlags mirrors the stdlib's O_RDONLY.
const DefaultFlags = os.O_RDONLY

// Config is the immutable, validated configuration object. Once
// built by New or Load it is never mutated; every field is copied by
// value, so a Config is always safe to share across goroutines.
type Config struct {
	rootPath  string
	readOnly  bool
	encoding  Encoding
	mode      uint32
	flags     int
	recursive bool
}

// Params is the raw, unvalidated input to New. Zero values take the
// spec's defaults.
type Params struct {
	RootPath  string
	ReadOnly  bool
	Encoding  Encoding
	Mode      *uint32 // nil -> DefaultMode
	Flags     *int    // nil -> DefaultFlags
	Recursive bool
}

// New validates params and returns an immutable Config, or an EINVAL
// error naming the offending field.
func New(p Params) (Config, error) {
	root := p.RootPath
	if root == "" {
		root = "/"
	}

	enc := p.Encoding
	if enc == "" {
		enc = EncodingUTF8
	}
	if !validEncodings[enc] {
		return Config{}, errkind.New(errkind.Invalid, "config", "encoding", fmt.Errorf("unsupported encoding %q", enc))
	}

	mode := uint32(DefaultMode)
	if p.Mode != nil {
		mode = *p.Mode
	}
	if mode > 0o7777 {
		return Config{}, errkind.New(errkind.Invalid, "config", "mode", fmt.Errorf("mode %#o out of range 0..0o7777", mode))
	}

	flags := DefaultFlags
	if p.Flags != nil {
		flags = *p.Flags
	}

	return Config{
		rootPath:  root,
		readOnly:  p.ReadOnly,
		encoding:  enc,
		mode:      mode,
		flags:     flags,
		recursive: p.Recursive,
	}, nil
}

func (c Config) RootPath() string   { return c.rootPath }
func (c Config) ReadOnly() bool     { return c.readOnly }
func (c Config) Encoding() Encoding { return c.encoding }
func (c Config) Mode() uint32       { return c.mode }
func (c Config) Flags() int         { return c.flags }
func (c Config) Recursive() bool    { return c.recursive }

// Load reads an ini.v1-formatted file and validates it into a Config.
// The expected section is "fs"; every key is optional.
//
//	[fs]
//	root_path = /srv/data
//	read_only = false
//	encoding  = utf8
//	mode      = 0644
//	flags     = 0
//	recursive = false
func Load(path string) (Config, error) {
	raw, err := ini.Load(path)
	if err != nil {
		return Config{}, errkind.New(errkind.Invalid, "config", path, err)
	}
	return fromSection(raw.Section("fs"))
}

func fromSection(section *ini.Section) (Config, error) {
	p := Params{
		RootPath: section.Key("root_path").String(),
	}

	if v := section.Key("read_only").String(); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, errkind.New(errkind.Invalid, "config", "read_only", err)
		}
		p.ReadOnly = b
	}

	if v := section.Key("encoding").String(); v != "" {
		p.Encoding = Encoding(strings.ToLower(v))
	}

	if v := section.Key("mode").String(); v != "" {
		m, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			return Config{}, errkind.New(errkind.Invalid, "config", "mode", err)
		}
		mode := uint32(m)
		p.Mode = &mode
	}

	if v := section.Key("flags").String(); v != "" {
		f, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errkind.New(errkind.Invalid, "config", "flags", err)
		}
		p.Flags = &f
	}

	if v := section.Key("recursive").String(); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, errkind.New(errkind.Invalid, "config", "recursive", err)
		}
		p.Recursive = b
	}

	return New(p)
}
