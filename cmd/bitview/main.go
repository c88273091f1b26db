package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"strings"
	"strconv"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-bitview/internal/arrowio"
	"github.com/23skdu/longbow-bitview/internal/bitfield"
	"github.com/23skdu/longbow-bitview/internal/client"
	"github.com/23skdu/longbow-bitview/internal/numeric"
	"github.com/23skdu/longbow-bitview/internal/weights"
)

var (
	widthFlag     = flag.String("width", "16", "Encoding width: 16 (fp16) or 32 (fp32)")
	trailingFlag  = flag.String("trailing", `\n`, "Character appended after each value's bits (\\n, \\t, \\r accepted; empty for none)")
	noHeader      = flag.Bool("no-header", false, "Print only the bit lines, without the field header")
	saturate      = flag.Bool("saturate", false, "Encode fp16 literals with the device's saturating cast instead of IEEE rounding")
	showSpecials  = flag.Bool("specials", false, "Print the catalogue of notable encodings for -width")
	weightsPath   = flag.String("weights", "", "Path to a raw little-endian tensor blob to dump")
	weightsOffset = flag.Int64("offset", 0, "Byte offset into the -weights file")
	limit         = flag.Int("limit", 16, "Maximum number of values to dump from -weights or -arrow (0 for all)")
	showStats     = flag.Bool("stats", false, "Log a value summary of the dumped tensor")
	arrowPath     = flag.String("arrow", "", "Path to an Arrow IPC stream to dump ('-' for stdin)")
	columnName    = flag.String("column", "", "Column to read from Arrow input (default: first column)")
	serverAddr    = flag.String("server", "", "Bitview Flight server address; when set, tokens, -weights, -arrow and -specials are rendered remotely (e.g., localhost:9090)")
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr    = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	maxConcurrent = flag.Int("max-concurrent", 1<<16, "Maximum number of values formatted concurrently by the HTTP server")
	maxRequest    = flag.String("max-request", "4MB", "Maximum HTTP request body size (e.g. 4MB, 512KB)")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func parseBytes(s string) (int64, error) {
	// 4GB, 100MB, 1024
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	num := strings.TrimRightFunc(s, unicode.IsLetter)
	unit := s[len(num):]
	val, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}

	switch strings.ToUpper(unit) {
	case "GB", "G":
		return val * 1024 * 1024 * 1024, nil
	case "MB", "M":
		return val * 1024 * 1024, nil
	case "KB", "K":
		return val * 1024, nil
	case "", "B":
		return val, nil
	default:
		return 0, fmt.Errorf("invalid byte size %q: unknown unit %q", s, unit)
	}
}

// parseTrailing turns a flag or query value into the trailing rune. Empty
// means none; \n, \t, \r and \0 are unescaped.
func parseTrailing(s string) (rune, error) {
	switch s {
	case "":
		return bitfield.NoTrailing, nil
	case `\n`:
		return '\n', nil
	case `\t`:
		return '\t', nil
	case `\r`:
		return '\r', nil
	case `\0`:
		return bitfield.NoTrailing, nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("trailing must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	// Server Mode
	if *listenAddr != "" || *flightAddr != "" {
		if *listenAddr != "" {
			maxBody, err := parseBytes(*maxRequest)
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid -max-request")
			}
			log.Info().Str("max_request", *maxRequest).Int64("bytes", maxBody).Msg("Request size limit")
			srv := NewServer(*maxConcurrent, maxBody)
			if *flightAddr == "" {
				startServer(*listenAddr, srv)
				return
			}
			go startServer(*listenAddr, srv)
		}
		StartFlightServer(*flightAddr)
		return
	}

	width, err := bitfield.ParseWidth(*widthFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -width")
	}
	trailing, err := parseTrailing(*trailingFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -trailing")
	}

	out := &output{
		printer:  bitfield.NewPrinter(os.Stdout),
		w:        os.Stdout,
		trailing: trailing,
		header:   !*noHeader,
		remote:   *serverAddr,
	}

	switch {
	case *weightsPath != "":
		err = dumpWeights(out, width)
	case *arrowPath != "":
		err = dumpArrow(out)
	case *showSpecials:
		err = printSpecials(out, width)
	default:
		err = printTokens(out, width, flag.Args())
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed")
	}
}

// output routes rendered values to stdout. With remote set, values are
// rendered by that Flight server instead of locally.
type output struct {
	printer  *bitfield.Printer
	w        io.Writer
	trailing rune
	header   bool
	remote   string
}

func (o *output) print(width bitfield.Width, bits uint32) error {
	if o.header {
		return o.printer.Print(width, bits, o.trailing)
	}
	return o.printer.PrintLine(width, bits, o.trailing)
}

// writeLine writes one already rendered line with the local header and
// trailing rules.
func (o *output) writeLine(width bitfield.Width, line string) error {
	var sb strings.Builder
	if o.header {
		sb.WriteString(width.Header())
		sb.WriteByte('\n')
	}
	sb.WriteString(line)
	if o.trailing != bitfield.NoTrailing {
		sb.WriteRune(o.trailing)
	}
	_, err := io.WriteString(o.w, sb.String())
	return err
}

func (o *output) printAll(width bitfield.Width, patterns []uint32) error {
	if o.remote != "" {
		lines, err := formatRemote(o.remote, width, patterns)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if err := o.writeLine(width, line); err != nil {
				return err
			}
		}
		return nil
	}
	for _, p := range patterns {
		if err := o.print(width, p); err != nil {
			return err
		}
	}
	return nil
}

func printTokens(out *output, width bitfield.Width, tokens []string) error {
	if len(tokens) == 0 {
		return fmt.Errorf("no values given (pass tokens such as 1.5 or 0x3c00, or use -weights, -arrow, -specials)")
	}
	patterns, err := numeric.ParseTokens(tokens, width, *saturate)
	if err != nil {
		return err
	}
	return out.printAll(width, patterns)
}

func printSpecials(out *output, width bitfield.Width) error {
	specials := numeric.Specials(width)
	var lines []string
	if out.remote != "" {
		patterns := make([]uint32, len(specials))
		for i, sp := range specials {
			patterns[i] = sp.Bits
		}
		var err error
		if lines, err = formatRemote(out.remote, width, patterns); err != nil {
			return err
		}
		if len(lines) != len(specials) {
			return fmt.Errorf("remote returned %d lines for %d values", len(lines), len(specials))
		}
	}
	for i, sp := range specials {
		if _, err := fmt.Fprintf(out.w, "%s (%#x):\n", sp.Name, sp.Bits); err != nil {
			return err
		}
		var err error
		if lines != nil {
			err = out.writeLine(width, lines[i])
		} else {
			err = out.print(width, sp.Bits)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func dumpWeights(out *output, width bitfield.Width) error {
	patterns, err := weights.LoadFile(*weightsPath, width, *weightsOffset, *limit)
	if err != nil {
		return err
	}
	if *showStats {
		logStats(weights.Summarize(width, patterns))
	}
	return out.printAll(width, patterns)
}

func dumpArrow(out *output) error {
	var r io.Reader = os.Stdin
	if *arrowPath != "-" {
		f, err := os.Open(*arrowPath)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	width, patterns, err := arrowio.ReadStream(r, memory.NewGoAllocator(), *columnName)
	if err != nil {
		return err
	}
	if *limit > 0 && len(patterns) > *limit {
		patterns = patterns[:*limit]
	}
	log.Info().Int("count", len(patterns)).Str("width", width.String()).Msg("Read Arrow column")
	if *showStats {
		logStats(weights.Summarize(width, patterns))
	}
	return out.printAll(width, patterns)
}

// formatRemote sends patterns to the Flight server at addr and returns the
// lines it rendered, in input order.
func formatRemote(addr string, width bitfield.Width, patterns []uint32) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	fc, err := client.NewFlightClient(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer func() {
		if err := fc.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close flight client")
		}
	}()

	rec := client.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(width, patterns)
	defer rec.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	recs, err := fc.Format(ctx, client.PatternColumn, rec)
	if err != nil {
		return nil, fmt.Errorf("remote format failed: %w", err)
	}
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()

	lines := make([]string, 0, len(patterns))
	for _, r := range recs {
		col := r.Column(1).(*array.String)
		for i := 0; i < col.Len(); i++ {
			lines = append(lines, col.Value(i))
		}
	}
	return lines, nil
}

func logStats(s weights.Stats) {
	ev := log.Info()
	if s.Problematic() {
		ev = log.Warn()
	}
	ev.Str("width", s.Width).
		Int("total", s.TotalElements).
		Float64("min", s.Min).
		Float64("max", s.Max).
		Float64("mean", s.Mean).
		Float64("std_dev", s.StdDev).
		Float64("abs_max", s.AbsMax).
		Int("zeros", s.ZeroCount).
		Int("subnormals", s.SubnormalCount).
		Int("nan", s.NaNCount).
		Int("inf", s.InfCount).
		Float64("fp16_out_of_range_ratio", s.OutOfRangeRatio).
		Msg("Tensor summary")
}

func initTracer() (func(context.Context) error, error) {
	// stdout carries rendered values, so spans go to stderr.
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("bitview"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
