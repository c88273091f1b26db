package client

import (
	"context"
	"errors"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// FlightClient asks a bitview Flight server to render bit patterns.
type FlightClient struct {
	client flight.Client
	conn   *grpc.ClientConn
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	client := flight.NewClientFromConn(conn, nil)
	return &FlightClient{
		client: client,
		conn:   conn,
	}, nil
}

// Format streams record to the server over DoExchange and returns the
// rendered records. column selects the input column; empty means the first.
// Returned records must be released by the caller.
func (c *FlightClient) Format(ctx context.Context, column string, record arrow.RecordBatch) ([]arrow.RecordBatch, error) {
	// Send and receive concurrently so neither side stalls on flow control.
	// The stream is bound to the group context so a failure on either side
	// cancels the other.
	g, gctx := errgroup.WithContext(ctx)
	stream, err := c.client.DoExchange(gctx)
	if err != nil {
		_ = g.Wait()
		return nil, err
	}

	g.Go(func() error {
		writer := flight.NewRecordWriter(stream, ipc.WithSchema(record.Schema()))
		writer.SetFlightDescriptor(&flight.FlightDescriptor{
			Type: flight.DescriptorPATH,
			Path: []string{column},
		})
		if err := writer.Write(record); err != nil {
			_ = writer.Close()
			return err
		}
		if err := writer.Close(); err != nil {
			return err
		}
		return stream.CloseSend()
	})

	var out []arrow.RecordBatch
	g.Go(func() error {
		reader, err := flight.NewRecordReader(stream)
		if err != nil {
			return err
		}
		defer reader.Release()
		for reader.Next() {
			rec := reader.Record()
			rec.Retain()
			out = append(out, rec)
		}
		if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		for _, rec := range out {
			rec.Release()
		}
		return nil, err
	}
	return out, nil
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
