package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kalambet/emobot/internal/enrichment"
	"github.com/kalambet/emobot/internal/matching"
	"github.com/kalambet/emobot/internal/profile"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// Status lines go to stderr so stdout stays parseable.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printProfile(w io.Writer, p profile.Profile) {
	fmt.Fprintln(w, colorize(colorBold, p.Name()+"'s Profile"))
	for _, c := range profile.AllCategories {
		items := p.Categories.List(c)
		list := "(none)"
		if len(items) > 0 {
			list = strings.Join(items, ", ")
		}
		fmt.Fprintf(w, "  %s: %s\n", c.Title(), list)
	}
	scanning := "Disabled"
	if p.ScanningEnabled {
		scanning = "Enabled"
	}
	fmt.Fprintf(w, "  Message Scanning: %s\n", scanning)
}

func printMatches(w io.Writer, subject profile.Profile, matches []matching.Match) {
	if len(matches) == 0 {
		fmt.Fprintln(w, "No matches above the threshold.")
		return
	}
	for i, m := range matches {
		fmt.Fprintf(w, "%d. %s %s\n", i+1, colorize(colorBold, m.Profile.Name()), colorize(colorCyan, fmt.Sprintf("%.0f%%", m.Score*100)))
		common := matching.Overlap(subject, m.Profile)
		for _, c := range profile.AllCategories {
			if items := common.List(c); len(items) > 0 {
				fmt.Fprintf(w, "   %s: %s\n", c.Title(), strings.Join(items, ", "))
			}
		}
	}
}

func printReport(w io.Writer, rep enrichment.Report) {
	fmt.Fprintf(w, "cycle %s (%s) started %s, took %s\n",
		rep.ID, rep.Trigger, rep.StartedAt.Local().Format("2006-01-02 15:04:05"), rep.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  identities: %d  updated: %d  unchanged: %d  insufficient: %d  opted out: %d  failed: %d\n",
		rep.Identities, rep.Updated, rep.Unchanged, rep.Insufficient, rep.ScanningDisabled, rep.Failed)
	fmt.Fprintf(w, "  notifications: %d\n", rep.Notifications)
}
