// Package main implements the tzchat CLI: try a conversion against the
// starter city list without talking to Telegram.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/codeGROOVE-dev/tzChat/pkg/cities"
	"github.com/codeGROOVE-dev/tzChat/pkg/scanner"
	"github.com/codeGROOVE-dev/tzChat/pkg/timemath"
)

var (
	verbose = flag.Bool("verbose", false, "Enable verbose logging")
	version = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("tzChat CLI v1.0.0")
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <message>\nExample: %s \"18:30 p\"\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	list := cities.DefaultList()
	message := strings.Join(args, " ")

	m, ok := scanner.New(logger).Scan(message, list)
	if !ok {
		fmt.Fprintln(os.Stderr, "no time+city pattern in the message; codes are:")
		for _, c := range list.Cities {
			fmt.Fprintf(os.Stderr, "  %s — %s\n", strings.Join(c.Aliases, ", "), c.Name)
		}
		os.Exit(1)
	}

	now := time.Now()
	instant, err := timemath.ResolveAbsolute(m.City.TimezoneID, m.Hours, m.Minutes, now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolving time: %v\n", err)
		os.Exit(1)
	}
	anchorDate, err := timemath.LocalCalendarDate(instant, m.City.TimezoneID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolving date: %v\n", err)
		os.Exit(1)
	}

	type line struct {
		clock  string
		name   string
		marker string
	}
	var lines []line
	for _, c := range list.Cities {
		clock, err := timemath.FormatLocal(instant, c.TimezoneID)
		if err != nil {
			logger.Warn("skipping city", "city", c.Name, "error", err)
			continue
		}
		date, err := timemath.LocalCalendarDate(instant, c.TimezoneID)
		if err != nil {
			continue
		}
		marker := ""
		switch {
		case date > anchorDate:
			marker = "+1d"
		case date < anchorDate:
			marker = "-1d"
		}
		lines = append(lines, line{clock: clock, name: c.Name, marker: marker})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].clock < lines[j].clock })

	clockColor := color.New(color.FgCyan, color.Bold)
	markerColor := color.New(color.FgYellow)
	anchorColor := color.New(color.FgGreen)

	for _, ln := range lines {
		clockColor.Printf("%s", ln.clock)
		if ln.name == m.City.Name {
			fmt.Print("  ")
			anchorColor.Printf("%s", ln.name)
		} else {
			fmt.Printf("  %s", ln.name)
		}
		if ln.marker != "" {
			fmt.Print(" ")
			markerColor.Printf("%s", ln.marker)
		}
		fmt.Println()
	}
}
