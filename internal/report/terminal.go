package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"github.com/janekbaraniewski/usagerecon/internal/core"
	"github.com/janekbaraniewski/usagerecon/internal/recon"
)

var (
	colorSurface1 = lipgloss.Color("#45475A")
	colorSubtext  = lipgloss.Color("#A6ADC8")
	colorDim      = lipgloss.Color("#585B70")
	colorBlue     = lipgloss.Color("#89B4FA")
	colorGreen    = lipgloss.Color("#A6E3A1")
	colorYellow   = lipgloss.Color("#F9E2AF")
	colorRed      = lipgloss.Color("#F38BA8")
	colorPeach    = lipgloss.Color("#FAB387")
	colorLavender = lipgloss.Color("#B4BEFE")
	colorTeal     = lipgloss.Color("#94E2D5")
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(colorLavender).Bold(true)
	sectionStyle = lipgloss.NewStyle().Foreground(colorBlue).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(colorSubtext)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
	warnStyle    = lipgloss.NewStyle().Foreground(colorYellow)
)

var kindColors = map[core.DiscrepancyKind]lipgloss.Color{
	core.KindAbsent:          colorRed,
	core.KindStale:           colorYellow,
	core.KindSurfaceMismatch: colorPeach,
}

const (
	minTerminalWidth = 40
	labelWidth       = 18
)

// RenderTerminal renders a compact coloured summary no wider than width
// columns.
func RenderTerminal(res *recon.Result, width int) string {
	if width < minTerminalWidth {
		width = minTerminalWidth
	}
	barW := max(width-labelWidth-24, 4)
	h := res.Patterns.Headline
	c := res.Counts

	var lines []string
	add := func(s ...string) { lines = append(lines, s...) }

	add(titleStyle.Render("usagerecon") + "  " + dimStyle.Render(res.RunID))
	add(labelStyle.Render("window    ") + res.Window.String())
	add(labelStyle.Render("rows      ") + fmt.Sprintf("%s summary, %s with activity, %s eligible",
		humanize.Comma(int64(c.SummaryRows)), humanize.Comma(int64(c.SummaryRows-c.NoActivity)), humanize.Comma(int64(c.Eligible))))
	add(labelStyle.Render("excluded  ") + fmt.Sprintf("%s outside window, %s unsupported",
		humanize.Comma(int64(c.ExcludedByWindow)), humanize.Comma(int64(c.ExcludedBySupport))))
	add("")

	rateColor := colorGreen
	if h.RowRate >= 20 {
		rateColor = colorRed
	} else if h.RowRate >= 5 {
		rateColor = colorYellow
	}
	add(sectionStyle.Render("Discrepancies") + "  " +
		lipgloss.NewStyle().Foreground(rateColor).Bold(true).Render(fmt.Sprintf("%.1f%%", h.RowRate)) +
		dimStyle.Render(fmt.Sprintf("  %d of %d rows, %d of %d users", h.DiscrepantRows, h.EligibleRows, h.AffectedUsers, h.EligibleUsers)))
	add(renderHBarChart(lo.Map(core.DiscrepancyKinds, func(k core.DiscrepancyKind, _ int) hbarItem {
		return hbarItem{
			Label:    k.Label(),
			Value:    float64(h.KindCounts[k]),
			Color:    kindColors[k],
			SubLabel: fmt.Sprintf("%.1f%%", h.KindRates[k]),
		}
	}), barW, labelWidth))

	if len(res.Patterns.ByDate) > 1 {
		values := lo.Map(res.Patterns.ByDate, func(b recon.Bucket, _ int) float64 { return float64(b.Discrepancies) })
		first, last := res.Patterns.ByDate[0].Key, res.Patterns.ByDate[len(res.Patterns.ByDate)-1].Key
		add("")
		add(sectionStyle.Render("By date") + "  " + dimStyle.Render(first+" to "+last))
		add("  " + renderSparkline(values, width-4, colorTeal))
	}

	if families := lo.Filter(res.Patterns.ByFamily, func(b recon.Bucket, _ int) bool { return b.Discrepancies > 0 }); len(families) > 0 {
		add("")
		add(sectionStyle.Render("By IDE"))
		add(renderHBarChart(lo.Map(families, func(b recon.Bucket, _ int) hbarItem {
			return hbarItem{Label: b.Key, Value: float64(b.Discrepancies), Color: colorPeach, SubLabel: fmt.Sprintf("%.1f%% of %d", b.Rate, b.Eligible)}
		}), barW, labelWidth))
	}

	if h.EligibleRows > 0 {
		add("")
		add(sectionStyle.Render("Rate by active days"))
		add(renderHBarChart(lo.Map(res.Patterns.ByActivityLevel, func(b recon.Bucket, _ int) hbarItem {
			return hbarItem{Label: b.Key, Value: b.Rate, Color: colorBlue, SubLabel: fmt.Sprintf("%d/%d", b.Discrepancies, b.Eligible)}
		}), barW, labelWidth))
	}

	if len(res.Diagnostics.Warnings) > 0 {
		add("")
		for _, w := range res.Diagnostics.Warnings {
			add(warnStyle.Render("! " + w))
		}
	}

	out := strings.Split(strings.Join(lines, "\n"), "\n")
	for i, l := range out {
		out[i] = ansi.Truncate(l, width, "…")
	}
	return strings.Join(out, "\n") + "\n"
}

type hbarItem struct {
	Label    string
	Value    float64
	Color    lipgloss.Color
	SubLabel string
}

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

func renderSparkline(values []float64, w int, color lipgloss.Color) string {
	if len(values) == 0 || w < 1 {
		return ""
	}

	if len(values) > w {
		step := float64(len(values)) / float64(w)
		sampled := make([]float64, w)
		for i := range w {
			idx := min(int(float64(i)*step), len(values)-1)
			sampled[i] = values[idx]
		}
		values = sampled
	}

	minV, maxV := lo.Min(values), lo.Max(values)
	rng := maxV - minV
	if rng == 0 {
		rng = 1
	}

	var sb strings.Builder
	for _, v := range values {
		idx := int((v - minV) / rng * float64(len(sparkBlocks)-1))
		idx = max(0, min(idx, len(sparkBlocks)-1))
		sb.WriteRune(sparkBlocks[idx])
	}
	return lipgloss.NewStyle().Foreground(color).Render(sb.String())
}

func renderHBarChart(items []hbarItem, maxBarW, labelW int) string {
	if len(items) == 0 {
		return dimStyle.Render("  No data")
	}
	maxBarW = max(maxBarW, 4)

	maxVal := lo.MaxBy(items, func(a, b hbarItem) bool { return a.Value > b.Value }).Value
	if maxVal == 0 {
		maxVal = 1
	}

	lines := make([]string, 0, len(items))
	for _, item := range items {
		label := ansi.Truncate(item.Label, labelW, "…")
		labelRendered := labelStyle.Width(labelW).Render(label)

		barLen := int(item.Value / maxVal * float64(maxBarW))
		if barLen < 1 && item.Value > 0 {
			barLen = 1
		}
		bar := lipgloss.NewStyle().Foreground(item.Color).Render(strings.Repeat("█", barLen))
		track := lipgloss.NewStyle().Foreground(colorSurface1).Render(strings.Repeat("░", maxBarW-barLen))
		value := lipgloss.NewStyle().Foreground(item.Color).Bold(true).Render(humanize.Ftoa(roundTenth(item.Value)))

		line := fmt.Sprintf("  %s %s%s  %s", labelRendered, bar, track, value)
		if item.SubLabel != "" {
			line += "  " + dimStyle.Render(item.SubLabel)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func roundTenth(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
