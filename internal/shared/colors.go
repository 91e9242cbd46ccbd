package shared

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Package-level color variables for interactive CLI output
var (
	ColorInfo    = color.New(color.FgCyan)
	ColorSuccess = color.New(color.FgGreen)
	ColorWarning = color.New(color.FgYellow)
	ColorError   = color.New(color.FgRed)
)

// InitializeColors initializes color output based on TTY detection
func InitializeColors() {
	color.NoColor = !isatty.IsTerminal(os.Stdout.Fd())
}
