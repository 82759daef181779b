package main

import (
	"fmt"
	"os"
)

// Terminal feedback helpers. Human-oriented output goes to stderr so stdout
// stays clean for machine-readable results (generate emits JSON there).

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBold   = "\033[1m"
)

func paint(code, text string) string {
	if noColor {
		return text
	}
	return code + text + ansiReset
}

// okf, failf and warnf report command outcomes with a colored gutter word.
func okf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", paint(ansiGreen, "ok"), fmt.Sprintf(format, args...))
}

func failf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", paint(ansiRed, "fail"), fmt.Sprintf(format, args...))
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", paint(ansiYellow, "warn"), fmt.Sprintf(format, args...))
}

// statusLine renders one aligned "label  value" row for status-style output.
// The label is padded before painting so ANSI escapes don't skew the column.
func statusLine(label string, format string, args ...any) {
	padded := fmt.Sprintf("%-14s", label)
	fmt.Fprintf(os.Stderr, "  %s %s\n", paint(ansiBold, padded), fmt.Sprintf(format, args...))
}
