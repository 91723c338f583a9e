// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Table renders rows under headers. Machine personality gets tab-separated
// values; every other level gets a bordered lipgloss table. highlight, when
// >= 0, marks one data row (for example the winning model).
func Table(headers []string, rows [][]string, highlight int) string {
	if GetPersonality().Level == PersonalityMachine {
		var b strings.Builder
		b.WriteString(strings.Join(headers, "\t"))
		b.WriteString("\n")
		for _, r := range rows {
			b.WriteString(strings.Join(r, "\t"))
			b.WriteString("\n")
		}
		return b.String()
	}

	border := lipgloss.RoundedBorder()
	if GetPersonality().Level == PersonalityMinimal {
		border = lipgloss.NormalBorder()
	}
	header := Styles.Bold.Foreground(ColorTealPrimary).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	marked := cell.Foreground(ColorTealBright).Bold(true)

	t := table.New().
		Border(border).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorTealDeep)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case row == highlight:
				return marked
			default:
				return cell
			}
		})
	return t.Render() + "\n"
}
