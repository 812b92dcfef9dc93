package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"

	"compintel/pkg/types"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorDim     = color.New(color.Faint).SprintFunc()
	colorBold    = color.New(color.Bold).SprintFunc()
)

const (
	prefixSaved   = "✓"
	prefixSkipped = "⚠"
	prefixError   = "✗"
	prefixInfo    = "ℹ"
	prefixItem    = "→"
)

func logSuccess(format string, args ...any) {
	fmt.Printf("%s %s\n", colorSuccess(prefixSaved), fmt.Sprintf(format, args...))
}

func logWarn(format string, args ...any) {
	fmt.Printf("%s %s\n", colorWarn(prefixSkipped), fmt.Sprintf(format, args...))
}

func logInfo(format string, args ...any) {
	fmt.Printf("%s %s\n", colorInfo(prefixInfo), fmt.Sprintf(format, args...))
}

// printSummary reports the run outcome grouped by visit status.
func printSummary(runID, outPath string, doc *types.RunDocument, visited, skipped []types.VisitedRecord, elapsed time.Duration) {
	counts := make(map[types.VisitStatus]int)
	for _, rec := range visited {
		counts[rec.Status]++
	}
	for _, rec := range skipped {
		counts[rec.Status]++
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)

	rendered := 0
	for _, r := range doc.Results {
		if r.Rendered {
			rendered++
		}
	}

	fmt.Println()
	fmt.Println(colorBold("Crawl summary"), colorDim(runID))
	logSuccess("%d pages saved to %s (%d rendered)", len(doc.Results), outPath, rendered)
	logInfo("visited %d of %d discovered in %s", doc.VisitedCount, doc.DiscoveredCount, elapsed.Round(time.Millisecond))
	for _, s := range statuses {
		line := fmt.Sprintf("  %-18s %d", s, counts[types.VisitStatus(s)])
		switch types.VisitStatus(s) {
		case types.StatusOK:
			fmt.Println(colorSuccess(line))
		case types.StatusFetchFailed:
			fmt.Println(colorError(line))
		default:
			fmt.Println(colorWarn(line))
		}
	}
}
