// Command significance computes the signal significance of every point of a
// track x shower energy-distortion grid and draws the result as a heatmap.
//
// Signal and background result stores are named by patterns holding one %d
// verb for the grid slot, e.g. -signal sig/sel-%d.db.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/eventsweep/internal/config"
	"github.com/banshee-data/eventsweep/internal/report"
	"github.com/banshee-data/eventsweep/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := log.New(stderr, "significance: ", 0)
	fs := flag.NewFlagSet("significance", flag.ContinueOnError)
	fs.SetOutput(stderr)

	signal := fs.String("signal", "", "Signal result store pattern with one %d for the slot")
	background := fs.String("background", "", "Background result store pattern with one %d for the slot")
	gridTrack := fs.String("grid-track", "0:0.05:0.01", "Track distortions (comma list or min:max:step)")
	gridShower := fs.String("grid-shower", "0:0.5:0.1", "Shower distortions (comma list or min:max:step)")
	scale := fs.Float64("scale", 1, "Exposure scale applied to signal and background")
	pngPath := fs.String("png", "significance.png", "PNG heatmap path (empty to skip)")
	htmlPath := fs.String("html", "", "HTML heatmap path (empty to skip)")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintln(stdout, "significance", version.String())
		return 0
	}
	if *signal == "" || *background == "" {
		logger.Printf("-signal and -background are required")
		return 2
	}

	track, err := config.ParseFloatList(*gridTrack)
	if err != nil {
		logger.Printf("-grid-track: %v", err)
		return 2
	}
	shower, err := config.ParseFloatList(*gridShower)
	if err != nil {
		logger.Printf("-grid-shower: %v", err)
		return 2
	}
	if len(track) == 0 || len(shower) == 0 {
		logger.Printf("grid needs at least one track and one shower distortion")
		return 2
	}

	values := make([]float64, len(track)*len(shower))
	for i := range values {
		in, err := report.LoadInputs(fmt.Sprintf(*signal, i), fmt.Sprintf(*background, i))
		if err != nil {
			logger.Printf("slot %d: %v", i, err)
			return 1
		}
		if values[i], err = report.Significance(in, *scale); err != nil {
			logger.Printf("slot %d: %v", i, err)
			return 1
		}
	}

	grid, err := report.BuildGrid(track, shower, values)
	if err != nil {
		logger.Printf("%v", err)
		return 1
	}
	printGrid(stdout, grid)

	if *pngPath != "" {
		if err := report.RenderPNG(grid, *pngPath); err != nil {
			logger.Printf("%v", err)
			return 1
		}
	}
	if *htmlPath != "" {
		f, err := os.Create(*htmlPath)
		if err != nil {
			logger.Printf("%v", err)
			return 1
		}
		if err := report.RenderHTML(grid, f); err != nil {
			f.Close()
			logger.Printf("%v", err)
			return 1
		}
		if err := f.Close(); err != nil {
			logger.Printf("%v", err)
			return 1
		}
	}
	return 0
}

// printGrid prints one row per shower distortion, one column per track
// distortion.
func printGrid(w io.Writer, g *report.Grid) {
	fmt.Fprintf(w, "%10s", "shower\\trk")
	for _, t := range g.Track {
		fmt.Fprintf(w, " %9.4g", t)
	}
	fmt.Fprintln(w)
	for r, s := range g.Shower {
		fmt.Fprintf(w, "%10.4g", s)
		for c := range g.Track {
			fmt.Fprintf(w, " %9.4f", g.At(c, r))
		}
		fmt.Fprintln(w)
	}
}
