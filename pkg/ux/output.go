// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the planfit CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Palette - deep ocean teals
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
	IconTrophy  Icon = "★"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	case IconTrophy:
		return Styles.Highlight.Render(string(i))
	default:
		return string(i)
	}
}

var (
	stdout   io.Writer = os.Stdout
	stderr   io.Writer = os.Stderr
	outputMu sync.RWMutex
)

// SetOutput redirects normal and diagnostic output. Nil leaves a stream
// unchanged.
func SetOutput(out, errOut io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if out != nil {
		stdout = out
	}
	if errOut != nil {
		stderr = errOut
	}
}

// Stdout returns the current normal output stream.
func Stdout() io.Writer {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return stdout
}

// Stderr returns the current diagnostic output stream.
func Stderr() io.Writer {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return stderr
}

// Print helpers that respect personality level

// Title prints a styled title
func Title(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Fprintln(Stdout(), Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(Stdout(), "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(Stdout(), "%s %s\n", IconSuccess.Render(), text)
	default:
		fmt.Fprintf(Stdout(), "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func Warning(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(Stderr(), "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(Stdout(), "%s %s\n", IconWarning.Render(), text)
	default:
		fmt.Fprintf(Stdout(), "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func Error(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(Stderr(), "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(Stderr(), "%s %s\n", IconError.Render(), text)
	default:
		fmt.Fprintf(Stderr(), "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func Info(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintln(Stdout(), text)
	default:
		fmt.Fprintf(Stdout(), "%s %s\n", Styles.Muted.Render("│"), text)
	}
}

// Muted prints muted/secondary text
func Muted(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Fprintln(Stdout(), Styles.Muted.Render(text))
}

// KeyValue prints an aligned "key: value" line.
func KeyValue(key string, value any) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(Stdout(), "%s=%v\n", key, value)
	default:
		fmt.Fprintf(Stdout(), "  %s %v\n", Styles.Muted.Render(fmt.Sprintf("%-18s", key+":")), value)
	}
}

// Block prints preformatted text (reports, matrices) unchanged.
func Block(text string) {
	fmt.Fprint(Stdout(), text)
	if len(text) > 0 && text[len(text)-1] != '\n' {
		fmt.Fprintln(Stdout())
	}
}

// Box prints text in a rounded box
func Box(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(Stdout(), "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(Stdout(), Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
}

// WarningBox prints text in a warning-styled box
func WarningBox(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(Stderr(), "WARN %s: %s\n", title, content)
		return
	}
	titleLine := Styles.Warning.Bold(true).Render(title)
	fmt.Fprintln(Stdout(), Styles.WarningBox.Width(60).Render(titleLine+"\n"+content))
}

// ProgressBar renders a simple progress bar
func ProgressBar(current, total int, width int) string {
	if GetPersonality().Level == PersonalityMachine {
		return fmt.Sprintf("%d/%d", current, total)
	}
	if total <= 0 {
		total = 1
	}
	pct := float64(current) / float64(total)
	filled := int(pct * float64(width))

	bar := Styles.Success.Render(repeatChar('█', filled)) +
		Styles.Muted.Render(repeatChar('░', width-filled))
	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}

func repeatChar(c rune, n int) string {
	if n <= 0 {
		return ""
	}
	result := make([]rune, n)
	for i := range result {
		result[i] = c
	}
	return string(result)
}
