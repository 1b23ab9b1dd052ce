// Package cliui provides shared terminal styles for relay CLI output.
package cliui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// SuccessMark prefixes one-line command results.
	SuccessMark = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")

	// KeyStyle renders config key names, ValueStyle their values, and
	// DimStyle secondary detail such as file paths and placeholders.
	KeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	ValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	DimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)
