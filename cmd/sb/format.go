package main

import (
	"strings"

	"github.com/fatih/color"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// colorStatus renders a pipeline, merge request or chain status in the color
// of its outcome.
func colorStatus(status string) string {
	switch status {
	case "success", "merged":
		return color.New(color.FgGreen).Sprint(status)
	case "failed", "closed":
		return color.New(color.FgRed).Sprint(status)
	case "canceled", "skipped", "locked":
		return color.New(color.FgHiBlack).Sprint(status)
	case "":
		return color.New(color.FgYellow).Sprint("unknown")
	default:
		return color.New(color.FgYellow).Sprint(status)
	}
}

// sectionTitle renders a bold, title-cased section heading.
func sectionTitle(s string) string {
	return color.New(color.Bold).Sprint(cases.Title(language.English).String(s))
}

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
