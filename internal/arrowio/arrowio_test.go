package arrowio

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/float16"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-bitview/internal/bitfield"
)

func float32Record(t *testing.T, mem memory.Allocator, name string, values []float32, valid []bool) arrow.RecordBatch {
	t.Helper()
	b := array.NewFloat32Builder(mem)
	defer b.Release()
	b.AppendValues(values, valid)
	a := b.NewArray()
	defer a.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: name, Type: arrow.PrimitiveTypes.Float32, Nullable: true}}, nil)
	return array.NewRecordBatch(schema, []arrow.Array{a}, int64(len(values)))
}

func TestPatterns(t *testing.T) {
	pool := memory.NewGoAllocator()

	t.Run("float16", func(t *testing.T) {
		b := array.NewFloat16Builder(pool)
		defer b.Release()
		b.Append(float16.New(1.0))
		b.AppendNull()
		b.Append(float16.New(-2.0))
		a := b.NewArray()
		defer a.Release()

		w, got, err := Patterns(a)
		require.NoError(t, err)
		assert.Equal(t, bitfield.Width16, w)
		assert.Equal(t, []uint32{0x3C00, 0xC000}, got)
	})

	t.Run("uint16", func(t *testing.T) {
		b := array.NewUint16Builder(pool)
		defer b.Release()
		b.AppendValues([]uint16{0x7C00, 0xFFFF}, nil)
		a := b.NewArray()
		defer a.Release()

		w, got, err := Patterns(a)
		require.NoError(t, err)
		assert.Equal(t, bitfield.Width16, w)
		assert.Equal(t, []uint32{0x7C00, 0xFFFF}, got)
	})

	t.Run("float32", func(t *testing.T) {
		rec := float32Record(t, pool, "x", []float32{1.0, 5.0}, []bool{true, false})
		defer rec.Release()

		w, got, err := Patterns(rec.Column(0))
		require.NoError(t, err)
		assert.Equal(t, bitfield.Width32, w)
		assert.Equal(t, []uint32{0x3F800000}, got)
	})

	t.Run("uint32", func(t *testing.T) {
		b := array.NewUint32Builder(pool)
		defer b.Release()
		b.AppendValues([]uint32{0xDEADBEEF}, nil)
		a := b.NewArray()
		defer a.Release()

		w, got, err := Patterns(a)
		require.NoError(t, err)
		assert.Equal(t, bitfield.Width32, w)
		assert.Equal(t, []uint32{0xDEADBEEF}, got)
	})

	t.Run("unsupported", func(t *testing.T) {
		b := array.NewFloat64Builder(pool)
		defer b.Release()
		b.Append(1.0)
		a := b.NewArray()
		defer a.Release()

		_, _, err := Patterns(a)
		assert.ErrorIs(t, err, ErrUnsupportedType)
	})
}

func TestColumn(t *testing.T) {
	pool := memory.NewGoAllocator()
	rec := float32Record(t, pool, "embedding", []float32{1.0}, nil)
	defer rec.Release()

	col, err := Column(rec, "embedding")
	require.NoError(t, err)
	assert.Equal(t, 1, col.Len())

	// unknown names fall back to the first column
	col, err = Column(rec, "missing")
	require.NoError(t, err)
	assert.Equal(t, arrow.FLOAT32, col.DataType().ID())
}

func TestBuildBitsRecord(t *testing.T) {
	pool := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer pool.AssertSize(t, 0)

	rec := BuildBitsRecord(pool, bitfield.Width16, []uint32{0x3C00, 0x7C00}, bitfield.NoTrailing)
	defer rec.Release()

	require.Equal(t, int64(2), rec.NumRows())
	assert.True(t, rec.Schema().Equal(BitsSchema))

	raw := rec.Column(0).(*array.Uint32)
	bits := rec.Column(1).(*array.String)
	vals := rec.Column(2).(*array.Float64)
	class := rec.Column(3).(*array.String)

	assert.Equal(t, uint32(0x3C00), raw.Value(0))
	assert.Equal(t, "0 01111 0000000000", bits.Value(0))
	assert.Equal(t, "0 11111 0000000000", bits.Value(1))
	assert.Equal(t, 1.0, vals.Value(0))
	assert.Equal(t, "normal", class.Value(0))
	assert.Equal(t, "inf", class.Value(1))

	rec32 := BuildBitsRecord(pool, bitfield.Width32, []uint32{0x3F800000}, ',')
	defer rec32.Release()
	assert.Equal(t, "00111111100000000000000000000000,", rec32.Column(1).(*array.String).Value(0))
}

func TestStreamRoundTrip(t *testing.T) {
	pool := memory.NewGoAllocator()
	rec := float32Record(t, pool, "embedding", []float32{1.0, -2.0}, nil)
	defer rec.Release()

	var buf bytes.Buffer
	require.NoError(t, WriteStream(&buf, rec))

	w, got, err := ReadStream(&buf, pool, "embedding")
	require.NoError(t, err)
	assert.Equal(t, bitfield.Width32, w)
	assert.Equal(t, []uint32{0x3F800000, 0xC0000000}, got)

	_, _, err = ReadStream(bytes.NewReader([]byte("not arrow")), pool, "")
	assert.Error(t, err)
}
