// Package arrowio moves bit patterns in and out of Arrow record batches.
package arrowio

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-bitview/internal/bitfield"
	"github.com/23skdu/longbow-bitview/internal/numeric"
)

// ErrUnsupportedType is returned for columns that do not hold 16 or 32 bit
// floats or unsigned patterns.
var ErrUnsupportedType = errors.New("unsupported column type")

// BitsSchema is the schema of records produced by BuildBitsRecord.
var BitsSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "bits_raw", Type: arrow.PrimitiveTypes.Uint32},
		{Name: "bits", Type: arrow.BinaryTypes.String},
		{Name: "value", Type: arrow.PrimitiveTypes.Float64},
		{Name: "class", Type: arrow.BinaryTypes.String},
	},
	nil,
)

// Patterns extracts raw bit patterns from col. Float16 and Uint16 columns
// give 16-bit patterns, Float32 and Uint32 give 32-bit ones. Nulls are
// skipped.
func Patterns(col arrow.Array) (bitfield.Width, []uint32, error) {
	out := make([]uint32, 0, col.Len()-col.NullN())
	switch a := col.(type) {
	case *array.Float16:
		for i := 0; i < a.Len(); i++ {
			if a.IsValid(i) {
				out = append(out, uint32(a.Value(i).Uint16()))
			}
		}
		return bitfield.Width16, out, nil
	case *array.Uint16:
		for i := 0; i < a.Len(); i++ {
			if a.IsValid(i) {
				out = append(out, uint32(a.Value(i)))
			}
		}
		return bitfield.Width16, out, nil
	case *array.Float32:
		for i := 0; i < a.Len(); i++ {
			if a.IsValid(i) {
				out = append(out, numeric.SingleBits(a.Value(i)))
			}
		}
		return bitfield.Width32, out, nil
	case *array.Uint32:
		for i := 0; i < a.Len(); i++ {
			if a.IsValid(i) {
				out = append(out, a.Value(i))
			}
		}
		return bitfield.Width32, out, nil
	}
	return 0, nil, fmt.Errorf("%s: %w", col.DataType(), ErrUnsupportedType)
}

// Column returns the column called name, or the first column when name is
// empty or absent.
func Column(rec arrow.RecordBatch, name string) (arrow.Array, error) {
	if rec.NumCols() == 0 {
		return nil, errors.New("record has no columns")
	}
	if name != "" {
		if indices := rec.Schema().FieldIndices(name); len(indices) > 0 {
			return rec.Column(indices[0]), nil
		}
	}
	return rec.Column(0), nil
}

// BuildBitsRecord renders every pattern and returns a record with
// BitsSchema. The caller must Release it.
func BuildBitsRecord(mem memory.Allocator, w bitfield.Width, patterns []uint32, trailing rune) arrow.RecordBatch {
	rawB := array.NewUint32Builder(mem)
	defer rawB.Release()
	bitsB := array.NewStringBuilder(mem)
	defer bitsB.Release()
	valB := array.NewFloat64Builder(mem)
	defer valB.Release()
	classB := array.NewStringBuilder(mem)
	defer classB.Release()

	rawB.Reserve(len(patterns))
	bitsB.Reserve(len(patterns))
	valB.Reserve(len(patterns))
	classB.Reserve(len(patterns))
	for _, p := range patterns {
		p &= w.Mask()
		rawB.Append(p)
		bitsB.Append(w.Format(p, trailing))
		valB.Append(numeric.Value(w, p))
		classB.Append(numeric.Classify(w, p).String())
	}

	cols := []arrow.Array{rawB.NewArray(), bitsB.NewArray(), valB.NewArray(), classB.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecordBatch(BitsSchema, cols, int64(len(patterns)))
}

// ReadStream collects the patterns of the named column across every batch
// of an IPC stream. All batches must yield the same width.
func ReadStream(r io.Reader, mem memory.Allocator, column string) (bitfield.Width, []uint32, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create IPC reader: %w", err)
	}
	defer reader.Release()

	var (
		width bitfield.Width
		all   []uint32
	)
	for reader.Next() {
		rec := reader.Record()
		if rec.NumCols() == 0 {
			continue
		}
		col, err := Column(rec, column)
		if err != nil {
			return 0, nil, err
		}
		w, patterns, err := Patterns(col)
		if err != nil {
			return 0, nil, err
		}
		if width != 0 && w != width {
			return 0, nil, fmt.Errorf("batch width %s differs from %s: %w", w, width, ErrUnsupportedType)
		}
		width = w
		all = append(all, patterns...)
	}
	if err := reader.Err(); err != nil {
		return 0, nil, err
	}
	return width, all, nil
}

// WriteStream writes rec as a single-batch IPC stream.
func WriteStream(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}
