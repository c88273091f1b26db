package client

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-bitview/internal/bitfield"
)

// PatternColumn is the column name used for outgoing patterns.
const PatternColumn = "pattern"

// RecordBatchBuilder creates Arrow RecordBatches from raw bit patterns.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildRecordBatch packs patterns into a single column: Uint16 for 16-bit
// widths, Uint32 otherwise. It returns nil for empty input.
func (b *RecordBatchBuilder) BuildRecordBatch(w bitfield.Width, patterns []uint32) arrow.RecordBatch {
	if len(patterns) == 0 {
		return nil
	}

	var col arrow.Array
	if w == bitfield.Width16 {
		bld := array.NewUint16Builder(b.mem)
		defer bld.Release()
		bld.Reserve(len(patterns))
		for _, p := range patterns {
			bld.Append(uint16(p))
		}
		col = bld.NewArray()
	} else {
		bld := array.NewUint32Builder(b.mem)
		defer bld.Release()
		bld.AppendValues(patterns, nil)
		col = bld.NewArray()
	}
	defer col.Release()

	schema := arrow.NewSchema(
		[]arrow.Field{{Name: PatternColumn, Type: col.DataType()}},
		nil,
	)
	return array.NewRecordBatch(schema, []arrow.Array{col}, int64(len(patterns)))
}
