package main

import (
	"fmt"
	"os"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// colorize wraps text in an ANSI color unless --no-color is set.
func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// stderrLine prints one prefixed, colorized line to stderr. All CLI status
// output goes to stderr so stdout stays clean for answers and JSON.
func stderrLine(color, prefix, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, prefix+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { stderrLine(colorGreen, "ok:", format, args...) }

func printError(format string, args ...any) { stderrLine(colorRed, "error:", format, args...) }

func printWarning(format string, args ...any) { stderrLine(colorYellow, "warning:", format, args...) }

func printStep(format string, args ...any) { stderrLine(colorCyan, "...", format, args...) }

// printStatus renders one "Label: value" row of the status report.
func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), val)
}
