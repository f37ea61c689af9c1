package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"fibermap/core-go/internal/optical"
	"fibermap/core-go/internal/topology"
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#CA8A04"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#16A34A"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true)
	boldStyle    = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
)

// FormatError returns a styled multi-line error message.
func FormatError(title, detail, suggestion string) string {
	out := errorStyle.Render("Error: "+title) + "\n"
	if detail != "" {
		out += "  " + detail + "\n"
	}
	if suggestion != "" {
		out += "  " + hintStyle.Render("Hint: "+suggestion) + "\n"
	}
	return out
}

func qualityStyle(q optical.Quality) lipgloss.Style {
	switch q {
	case optical.QualityExcellent, optical.QualityGood:
		return successStyle
	case optical.QualityFair:
		return warnStyle
	case optical.QualityPoor:
		return errorStyle
	default:
		return dimStyle
	}
}

func formatDBm(v float64) string {
	return fmt.Sprintf("%.2f dBm", v)
}

func printReading(w io.Writer, name string, r topology.Reading) {
	fmt.Fprintf(w, "%s %s\n", boldStyle.Render(r.ItemID), dimStyle.Render("("+string(r.Kind)+") "+name))
	if !r.Optical {
		fmt.Fprintf(w, "  %s\n", dimStyle.Render("not on an optical path"))
		return
	}
	if r.InputPowerDBm != nil {
		fmt.Fprintf(w, "  input     %s\n", formatDBm(*r.InputPowerDBm))
	}
	fmt.Fprintf(w, "  output    %s\n", formatDBm(r.OutputPowerDBm))
	fmt.Fprintf(w, "  per port  %s\n", formatDBm(r.PortPowerDBm))
	if r.CascadePowerDBm != nil {
		fmt.Fprintf(w, "  cascade   %s\n", formatDBm(*r.CascadePowerDBm))
	}
	if r.Quality != "" {
		fmt.Fprintf(w, "  quality   %s\n", qualityStyle(r.Quality).Render(string(r.Quality)))
	}
}

func printChain(w io.Writer, hops []topology.Hop) {
	for i, h := range hops {
		marker := "└─"
		if i == 0 {
			marker = "●"
		}
		power := dimStyle.Render("-")
		if h.Reading.Optical {
			power = qualityStyle(optical.Classify(h.Reading.OutputPowerDBm)).Render(formatDBm(h.Reading.OutputPowerDBm))
		}
		fmt.Fprintf(w, "%*s%s %s %s  %s\n", i*2, "", marker, boldStyle.Render(h.ItemID), dimStyle.Render(string(h.Kind)), power)
	}
}

func printPorts(w io.Writer, id string, slots []topology.PortSlot) {
	fmt.Fprintln(w, boldStyle.Render("Ports of "+id))
	for _, s := range slots {
		state := successStyle.Render("free")
		detail := ""
		if !s.Available {
			state = warnStyle.Render("used")
			detail = s.OccupantID
			if s.OccupantKind != "" {
				detail += " " + dimStyle.Render("("+string(s.OccupantKind)+")")
			}
		}
		line := fmt.Sprintf("  %3d  %s  %s", s.Port, state, detail)
		if s.PowerDBm != nil {
			line += "  " + formatDBm(*s.PowerDBm)
		}
		if len(s.Conflicts) > 0 {
			line += "  " + errorStyle.Render(fmt.Sprintf("conflicts: %v", s.Conflicts))
		}
		fmt.Fprintln(w, line)
	}
}
