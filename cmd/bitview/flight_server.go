package main

import (
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/23skdu/longbow-bitview/internal/arrowio"
	"github.com/23skdu/longbow-bitview/internal/bitfield"
)

// BitviewFlightServer renders patterns streamed over DoExchange. The first
// path element of the flight descriptor names the input column.
type BitviewFlightServer struct {
	flight.BaseFlightServer
	alloc memory.Allocator
}

func NewBitviewFlightServer() *BitviewFlightServer {
	return &BitviewFlightServer{
		alloc: memory.NewGoAllocator(),
	}
}

func (s *BitviewFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	ctx, span := tracer.Start(stream.Context(), "DoExchange")
	defer span.End()

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer reader.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(arrowio.BitsSchema), ipc.WithAllocator(s.alloc))
	defer writer.Close()

	var column string
	total := 0
	for reader.Next() {
		if desc := reader.LatestFlightDescriptor(); desc != nil && len(desc.Path) > 0 {
			column = desc.Path[0]
		}
		col, err := arrowio.Column(reader.Record(), column)
		if err != nil {
			span.RecordError(err)
			return err
		}
		width, patterns, err := arrowio.Patterns(col)
		if err != nil {
			span.RecordError(err)
			return err
		}

		out := arrowio.BuildBitsRecord(s.alloc, width, patterns, bitfield.NoTrailing)
		err = writer.Write(out)
		out.Release()
		if err != nil {
			span.RecordError(err)
			return err
		}
		valuesFormatted.WithLabelValues(width.String()).Add(float64(len(patterns)))
		total += len(patterns)
		log.Debug().Int("rows", len(patterns)).Str("width", width.String()).Msg("DoExchange rendered batch")
	}
	span.SetAttributes(attribute.Int("value_count", total))
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return reader.Err()
}

func StartFlightServer(addr string) {
	// Create the generic Flight Server which manages the GRPC lifecycle
	server := flight.NewFlightServer()

	server.RegisterFlightService(NewBitviewFlightServer())

	// Init handles the listener creation internally
	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting Bitview Flight Server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
