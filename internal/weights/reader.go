// Package weights reads raw little-endian tensor blobs, the format the
// fletcher loader consumes, as bit patterns for inspection.
package weights

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-bitview/internal/bitfield"
)

// ErrTruncated is returned when the input ends inside a value.
var ErrTruncated = errors.New("truncated value at end of input")

// ReadPatterns reads up to limit little-endian values of width w from r.
// A limit <= 0 reads until EOF.
func ReadPatterns(r io.Reader, w bitfield.Width, limit int) ([]uint32, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("unsupported width %d", int(w))
	}
	size := int(w) / 8
	br := bufio.NewReader(r)
	buf := make([]byte, size)

	var out []uint32
	if limit > 0 {
		out = make([]uint32, 0, limit)
	}
	for limit <= 0 || len(out) < limit {
		_, err := io.ReadFull(br, buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return out, fmt.Errorf("value %d: %w", len(out), ErrTruncated)
		}
		if err != nil {
			return out, err
		}
		if size == 2 {
			out = append(out, uint32(binary.LittleEndian.Uint16(buf)))
		} else {
			out = append(out, binary.LittleEndian.Uint32(buf))
		}
	}
	return out, nil
}

// LoadFile reads patterns from path starting at a byte offset.
func LoadFile(path string, w bitfield.Width, offset int64, limit int) ([]uint32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek to %d: %w", offset, err)
		}
	}

	patterns, err := ReadPatterns(file, w, limit)
	if err != nil {
		return patterns, fmt.Errorf("failed to read %s: %w", path, err)
	}
	log.Debug().Str("path", path).Int64("offset", offset).Int("count", len(patterns)).Str("width", w.String()).Msg("Loaded tensor patterns")
	return patterns, nil
}
