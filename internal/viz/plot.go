// Package viz renders terminal plots and run summaries.
package viz

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/radau/internal/dae"
)

// PlotComponents renders one braille graph per state component, capped
// at maxPlots to keep terminal output readable.
func PlotComponents(result *dae.Result, maxPlots int) string {
	if result.Len() == 0 {
		return Subtle.Render("no samples")
	}

	numVars := len(result.Y[0])
	if numVars > maxPlots {
		numVars = maxPlots
	}

	var b strings.Builder
	for varIdx := 0; varIdx < numVars; varIdx++ {
		data := make([]float64, result.Len())
		for i := range data {
			data[i] = result.Y[i][varIdx]
		}

		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("y%d vs step", varIdx)),
		)
		b.WriteString(graph)
		b.WriteString("\n\n")
	}
	return b.String()
}

// PlotStepSizes renders the accepted step-size history, a quick read on
// how hard the controller worked.
func PlotStepSizes(result *dae.Result) string {
	if result.Len() < 2 {
		return Subtle.Render("no steps")
	}
	data := make([]float64, result.Len()-1)
	for i := range data {
		data[i] = result.T[i+1] - result.T[i]
	}
	return asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("step size per accepted step"),
	)
}

// Summary formats the work counters of a finished run.
func Summary(model string, stats dae.Stats) string {
	var b strings.Builder
	b.WriteString(Title.Render(model))
	b.WriteString("\n")

	line := func(label string, value int) {
		b.WriteString(StatLabel.Render(fmt.Sprintf("%-16s", label)))
		b.WriteString(StatValue.Render(fmt.Sprintf("%d", value)))
		b.WriteString("\n")
	}
	line("steps", stats.Steps)
	line("rejected", stats.Rejected)
	line("residual evals", stats.ResidualEvals)
	line("jacobian evals", stats.JacobianEvals)
	line("factorizations", stats.Factorizations)
	return b.String()
}
