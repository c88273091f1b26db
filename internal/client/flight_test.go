package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-bitview/internal/arrowio"
	"github.com/23skdu/longbow-bitview/internal/bitfield"
)

type mockFlightServer struct {
	flight.BaseFlightServer
	columns []string
}

func (s *mockFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer reader.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(arrowio.BitsSchema))
	defer writer.Close()

	for reader.Next() {
		if desc := reader.LatestFlightDescriptor(); desc != nil && len(desc.Path) > 0 {
			s.columns = append(s.columns, desc.Path[0])
		}
		col, err := arrowio.Column(reader.Record(), "")
		if err != nil {
			return err
		}
		w, patterns, err := arrowio.Patterns(col)
		if err != nil {
			return err
		}
		out := arrowio.BuildBitsRecord(memory.DefaultAllocator, w, patterns, bitfield.NoTrailing)
		err = writer.Write(out)
		out.Release()
		if err != nil {
			return err
		}
	}
	return reader.Err()
}

type failingFlightServer struct {
	flight.BaseFlightServer
}

func (s *failingFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	return errors.New("boom")
}

func startServer(t *testing.T, svc flight.FlightServer) string {
	t.Helper()
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(svc)

	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return server.Addr().String()
}

func TestFlightClient_Format(t *testing.T) {
	mockServer := &mockFlightServer{}
	addr := startServer(t, mockServer)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	rb := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(bitfield.Width32, []uint32{0x3F800000, 0})
	defer rb.Release()

	recs, err := client.Format(context.Background(), PatternColumn, rb)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	defer recs[0].Release()

	bits := recs[0].Column(1).(*array.String)
	assert.Equal(t, "00111111100000000000000000000000", bits.Value(0))
	assert.Equal(t, "00000000000000000000000000000000", bits.Value(1))
	assert.Equal(t, []string{PatternColumn}, mockServer.columns)
}

func TestFlightClient_ServerError(t *testing.T) {
	addr := startServer(t, &failingFlightServer{})

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	rb := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(bitfield.Width16, []uint32{0x3C00})
	defer rb.Release()

	_, err = client.Format(context.Background(), "", rb)
	assert.Error(t, err)
}

func TestFlightClient_ServerErrorLargeBatch(t *testing.T) {
	addr := startServer(t, &failingFlightServer{})

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	patterns := make([]uint32, 1<<20)
	for i := range patterns {
		patterns[i] = uint32(i)
	}
	rb := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(bitfield.Width32, patterns)
	defer rb.Release()

	done := make(chan error, 1)
	go func() {
		recs, err := client.Format(context.Background(), "", rb)
		for _, r := range recs {
			r.Release()
		}
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Format did not return after the server failed")
	}
}
