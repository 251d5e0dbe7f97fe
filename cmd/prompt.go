package cmd

import (
	"github.com/charmbracelet/huh"
)

// runWithHelp wraps huh fields in a form with help hints at the bottom.
func runWithHelp(fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
}

// promptPassword reads a secret with hidden echo.
func promptPassword(title, description string) (string, error) {
	var value string
	inp := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(&value)
	if description != "" {
		inp = inp.Description(description)
	}
	if err := runWithHelp(inp); err != nil {
		return "", err
	}
	return value, nil
}

// promptConfirm asks a yes/no question using huh TUI. Returns true for yes.
// It reads the terminal itself, so call it before the keyboard bus starts
// listening.
func promptConfirm(title, description string, defaultYes bool) (bool, error) {
	value := defaultYes

	c := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&value)
	if description != "" {
		c = c.Description(description)
	}

	if err := runWithHelp(c); err != nil {
		return false, err
	}
	return value, nil
}
