// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// STYLES
// =============================================================================

var (
	// Prompt style
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")).
			Bold(true)

	// Section headers
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13")).
			Bold(true)

	// Secondary info
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	// Success markers
	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	// Warnings
	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	// Errors
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)
)
