// Command confusion converts particle-identification confusion matrices
// between their JSON and sqlite forms.
//
// Usage:
//
//	confusion import <matrix.json> <matrix.db>
//	confusion dump <matrix.db|matrix.json>
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/eventsweep/internal/confusion"
	"github.com/banshee-data/eventsweep/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: confusion import <matrix.json> <matrix.db>")
	fmt.Fprintln(w, "       confusion dump <matrix.db|matrix.json>")
	fmt.Fprintln(w, "       confusion version")
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := log.New(stderr, "confusion: ", 0)
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	switch args[0] {
	case "import":
		if len(args) != 3 {
			usage(stderr)
			return 2
		}
		c, err := confusion.LoadJSON(args[1])
		if err != nil {
			logger.Printf("%v", err)
			return 1
		}
		if err := c.Save(args[2]); err != nil {
			logger.Printf("%v", err)
			return 1
		}
		fmt.Fprintf(stdout, "imported %d energy bins into %s\n", len(c.EnergyRange), args[2])
	case "dump":
		if len(args) != 2 {
			usage(stderr)
			return 2
		}
		c, err := confusion.LoadAny(args[1])
		if err != nil {
			logger.Printf("%v", err)
			return 1
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(c); err != nil {
			logger.Printf("%v", err)
			return 1
		}
	case "version":
		fmt.Fprintln(stdout, "confusion", version.String())
	default:
		logger.Printf("unknown command %q", args[0])
		usage(stderr)
		return 2
	}
	return 0
}
