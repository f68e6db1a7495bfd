// Package viz renders terminal output for projection runs: styled
// summaries, ASCII profile plots of the reconstructed volume, and a live
// progress view.
package viz

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/hmalva/petproj/internal/geom"
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).Padding(0, 2)
)

// RunInfo summarizes one back-projection call for the report.
type RunInfo struct {
	Counts  int
	Devices int
	Workers int
	Grid    geom.Grid
	Elapsed time.Duration
	RunID   string
}

// Summary renders a styled run report.
func Summary(info RunInfo) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("back projection") + "\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	row("events", fmt.Sprintf("%d", info.Counts))
	row("devices", fmt.Sprintf("%d x %d workers", info.Devices, info.Workers))
	row("volume", fmt.Sprintf("%dx%dx%d @ %gx%gx%g mm",
		info.Grid.Dim[0], info.Grid.Dim[1], info.Grid.Dim[2],
		info.Grid.VoxelSize[0], info.Grid.VoxelSize[1], info.Grid.VoxelSize[2]))
	row("elapsed", info.Elapsed.Round(time.Millisecond).String())
	if info.RunID != "" {
		row("saved as", info.RunID)
	}
	if info.Elapsed > 0 {
		rate := float64(info.Counts) / info.Elapsed.Seconds()
		b.WriteString(subtleStyle.Render(fmt.Sprintf("%.0f LORs/s", rate)))
	}
	return panelStyle.Render(b.String())
}

// Profile plots the volume summed over the two transverse axes of the
// chosen axis, one sample per plane.
func Profile(g geom.Grid, img []float32, axis int) string {
	if axis < 0 || axis > 2 {
		axis = 0
	}
	prof := AxisProfile(g, img, axis)

	plot := asciigraph.Plot(prof,
		asciigraph.Height(10),
		asciigraph.Width(60),
		asciigraph.Caption(fmt.Sprintf("summed activity along axis %d", axis)))
	return plot
}

// AxisProfile sums the volume over the two axes other than axis.
func AxisProfile(g geom.Grid, img []float32, axis int) []float64 {
	prof := make([]float64, g.Dim[axis])
	var idx [3]int
	for i0 := 0; i0 < g.Dim[0]; i0++ {
		for i1 := 0; i1 < g.Dim[1]; i1++ {
			for i2 := 0; i2 < g.Dim[2]; i2++ {
				idx = [3]int{i0, i1, i2}
				prof[idx[axis]] += float64(img[g.Index(i0, i1, i2)])
			}
		}
	}
	return prof
}
