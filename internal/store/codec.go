package store

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pierrec/lz4/v4"

	"skippy/internal/core"
)

// Compression names accepted in Options.Compression.
const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
)

// md5HexLen is the length of a hex-encoded MD5 digest.
const md5HexLen = 32

// lz4Magic is the little-endian frame magic number 0x184D2204.
var lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}

var errCorrupt = errors.New("corrupt state file")

// CoverageCodec defines how a coverage record is serialized.
type CoverageCodec interface {
	// Encode writes the classes, one per line, in the given order.
	Encode(w io.Writer, classes []core.ClassName) error
	// Name returns the compression name of this codec.
	Name() string
}

// PlainCodec writes coverage records as newline-separated class names.
type PlainCodec struct{}

// Encode implements CoverageCodec.Encode.
func (PlainCodec) Encode(w io.Writer, classes []core.ClassName) error {
	bw := bufio.NewWriter(w)
	for _, c := range classes {
		if _, err := bw.WriteString(string(c)); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Name implements CoverageCodec.Name.
func (PlainCodec) Name() string { return CompressionNone }

// LZ4Codec wraps the plain encoding in an LZ4 frame.
type LZ4Codec struct{}

// Encode implements CoverageCodec.Encode.
func (LZ4Codec) Encode(w io.Writer, classes []core.ClassName) error {
	zw := lz4.NewWriter(w)
	if err := (PlainCodec{}).Encode(zw, classes); err != nil {
		_ = zw.Close()
		return fmt.Errorf("lz4 encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("lz4 encode: %w", err)
	}
	return nil
}

// Name implements CoverageCodec.Name.
func (LZ4Codec) Name() string { return CompressionLZ4 }

// CodecFor maps a compression name to its codec.
func CodecFor(name string) (CoverageCodec, error) {
	switch name {
	case "", CompressionNone:
		return PlainCodec{}, nil
	case CompressionLZ4:
		return LZ4Codec{}, nil
	default:
		return nil, fmt.Errorf("unknown coverage compression %q", name)
	}
}

// DecodeCoverage parses a coverage record written by any CoverageCodec.
// The encoding is detected from the content, so switching compression does
// not invalidate existing records.
func DecodeCoverage(data []byte) (core.CoverageSet, error) {
	if bytes.HasPrefix(data, lz4Magic) {
		plain, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", errCorrupt, err)
		}
		data = plain
	}

	set := make(core.CoverageSet)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if !validClassName(line) {
			return nil, fmt.Errorf("%w: bad class name %q", errCorrupt, line)
		}
		set.Add(core.ClassName(line))
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: empty coverage record", errCorrupt)
	}
	return set, nil
}

// EncodeRegistry renders the registry as "<md5hex> <class>" lines sorted by
// class name. The hash has a fixed width, so the class name may contain any
// character but a line break.
func EncodeRegistry(fp core.Fingerprints) []byte {
	var buf bytes.Buffer
	for _, f := range fp.Sorted() {
		buf.WriteString(string(f.Hash))
		buf.WriteByte(' ')
		buf.WriteString(string(f.Class))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// DecodeRegistry parses the output of EncodeRegistry. Any malformed line
// rejects the whole file.
func DecodeRegistry(data []byte) (core.Fingerprints, error) {
	fp := make(core.Fingerprints)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		return nil, fmt.Errorf("%w: missing trailing newline", errCorrupt)
	}
	for i, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		if len(line) <= md5HexLen+1 || line[md5HexLen] != ' ' {
			return nil, fmt.Errorf("%w: line %d: %q", errCorrupt, i+1, line)
		}
		sum, class := line[:md5HexLen], line[md5HexLen+1:]
		if !isMD5Hex(sum) || !validClassName(class) {
			return nil, fmt.Errorf("%w: line %d: %q", errCorrupt, i+1, line)
		}
		if _, dup := fp[core.ClassName(class)]; dup {
			return nil, fmt.Errorf("%w: duplicate class %q", errCorrupt, class)
		}
		fp[core.ClassName(class)] = core.Hash(sum)
	}
	return fp, nil
}

func isMD5Hex(s string) bool {
	if len(s) != md5HexLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
