// Command gen-events writes synthetic beam events split across input files
// for exercising tsselect.
package main

import (
	"bufio"
	"compress/gzip"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/eventsweep/internal/events"
)

type options struct {
	n           int
	files       int
	outDir      string
	format      string
	seed        uint64
	nueFraction float64
	ncFraction  float64
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	logger := log.New(stderr, "gen-events: ", 0)
	var o options
	fs := flag.NewFlagSet("gen-events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&o.n, "n", 1000, "number of events")
	fs.IntVar(&o.files, "files", 4, "number of output files")
	fs.StringVar(&o.outDir, "out-dir", ".", "output directory")
	fs.StringVar(&o.format, "format", "jsonl", "file format: jsonl, jsonl.gz or pcap")
	fs.Uint64Var(&o.seed, "seed", 1, "random seed")
	fs.Float64Var(&o.nueFraction, "nue-fraction", 0.1, "fraction of electron-neutrino events")
	fs.Float64Var(&o.ncFraction, "nc-fraction", 0.3, "fraction of neutral-current events")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := o.validate(); err != nil {
		logger.Printf("%v", err)
		return 2
	}

	paths, err := generate(o)
	if err != nil {
		logger.Printf("%v", err)
		return 1
	}
	logger.Printf("wrote %d events to %d files in %s", o.n, len(paths), o.outDir)
	return 0
}

func (o options) validate() error {
	switch {
	case o.n < 0:
		return fmt.Errorf("-n must not be negative")
	case o.files < 1:
		return fmt.Errorf("-files must be at least 1")
	case o.nueFraction < 0 || o.nueFraction > 1:
		return fmt.Errorf("-nue-fraction must be in [0, 1]")
	case o.ncFraction < 0 || o.ncFraction > 1:
		return fmt.Errorf("-nc-fraction must be in [0, 1]")
	}
	switch o.format {
	case "jsonl", "jsonl.gz", "pcap":
		return nil
	}
	return fmt.Errorf("unknown format %q", o.format)
}

// eventWriter is the common surface of the JSONL and pcap writers.
type eventWriter interface {
	Write(*events.Event) error
}

// generate writes events round-robin in contiguous blocks: file k receives
// events [k*n/files, (k+1)*n/files).
func generate(o options) ([]string, error) {
	if err := os.MkdirAll(o.outDir, 0o755); err != nil {
		return nil, err
	}
	g := newGenerator(o.seed, o.nueFraction, o.ncFraction)

	paths := make([]string, 0, o.files)
	for k := 0; k < o.files; k++ {
		path := filepath.Join(o.outDir, fmt.Sprintf("events-%03d.%s", k, o.format))
		lo, hi := k*o.n/o.files, (k+1)*o.n/o.files
		if err := writeFile(path, o.format, g, lo, hi); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path, format string, g *generator, lo, hi int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var sink io.Writer = f
	var zw *gzip.Writer
	if format == "jsonl.gz" {
		zw = gzip.NewWriter(f)
		sink = zw
	}

	var w eventWriter
	var flush func() error
	switch format {
	case "pcap":
		bw := bufio.NewWriter(sink)
		pw, err := events.NewPCAPWriter(bw)
		if err != nil {
			return err
		}
		w, flush = pw, bw.Flush
	default:
		jw := events.NewJSONLWriter(sink)
		w, flush = jw, jw.Flush
	}

	for i := lo; i < hi; i++ {
		if err := w.Write(g.next(i)); err != nil {
			return err
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if zw != nil {
		return zw.Close()
	}
	return nil
}
