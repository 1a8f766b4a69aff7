package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kalambet/cory/internal/creature"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

// swatch renders a creature color as a truecolor block.
func swatch(hex string) string {
	if noColor || len(hex) != 7 {
		return hex
	}
	var r, g, b int
	if _, err := fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return hex
	}
	return fmt.Sprintf("\033[38;2;%d;%d;%dm●%s %s", r, g, b, colorReset, hex)
}

func formatRemaining(seconds int) string {
	d := time.Duration(seconds) * time.Second
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func printCreature(w io.Writer, c creature.Record) {
	star := " "
	if c.IsRepresentative {
		star = colorize(colorYellow, "★")
	}
	fmt.Fprintf(w, "%s %s  %s  %s\n", star, colorize(colorCyan, c.ID), colorize(colorBold, c.Name), swatch(c.Color.Hex))
	if len(c.Personality.Traits) > 0 {
		fmt.Fprintf(w, "    %s\n", strings.Join(c.Personality.Traits, ", "))
	}
}
