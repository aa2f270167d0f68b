package session

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/bilakit/bilayer/actuate"
	"github.com/bilakit/bilayer/protein"
)

var (
	ruptureColor = color.New(color.FgRed, color.Bold)
	reformColor  = color.New(color.FgYellow)
	calColor     = color.New(color.FgCyan)
)

// Console prints one status line per cycle plus the cycle's messages
type Console struct {
	Out    io.Writer
	Preset protein.Preset
}

// Emit implements Sink
func (c Console) Emit(cy Cycle) error {
	var b strings.Builder
	fmt.Fprintf(&b, "t=%ds ", cy.Time)
	switch {
	case cy.Rupture:
		b.WriteString(ruptureColor.Sprint("channels=X"))
	default:
		fmt.Fprintf(&b, "channels=%d", cy.Channels)
	}
	if c.Preset.Quantity != protein.NoStimulus {
		fmt.Fprintf(&b, " Po=%s", cy.Display.Po)
		if cy.Display.Stimulus != "" {
			fmt.Fprintf(&b, " stimulus=%s", cy.Display.Stimulus)
		}
	}
	if cy.Command != actuate.None {
		b.WriteString(" ")
		b.WriteString(reformColor.Sprint(cy.Command.String()))
	}
	b.WriteString("\n")
	for _, m := range cy.Messages {
		switch {
		case strings.HasPrefix(m, "Rupture"):
			m = ruptureColor.Sprint(m)
		case strings.HasPrefix(m, "Reforming"):
			m = reformColor.Sprint(m)
		case strings.HasPrefix(m, "Current per Channel"):
			m = calColor.Sprint(m)
		}
		fmt.Fprintf(&b, "  %s\n", m)
	}
	_, err := io.WriteString(c.Out, b.String())
	return err
}
