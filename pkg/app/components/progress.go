package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/kerbaras/novels/pkg/app/styles"
	"github.com/kerbaras/novels/pkg/services"
)

// ProgressPanel renders the live counters of a running download: one bar
// per unit kind, plus byte throughput.
type ProgressPanel struct {
	chapters progress.Model
	images   progress.Model
	snap     services.Snapshot
}

func NewProgressPanel(width int) *ProgressPanel {
	barWidth := width - 24
	if barWidth < 10 {
		barWidth = 10
	}
	newBar := func() progress.Model {
		return progress.New(
			progress.WithScaledGradient(string(styles.Secondary), string(styles.Primary)),
			progress.WithWidth(barWidth),
		)
	}
	return &ProgressPanel{chapters: newBar(), images: newBar()}
}

// Update replaces the counters the next View renders.
func (p *ProgressPanel) Update(snap services.Snapshot) {
	p.snap = snap
}

func (p *ProgressPanel) View() string {
	var b strings.Builder

	b.WriteString(p.line("chapters", p.chapters, p.snap.Chapters))
	if p.snap.Images.Total > 0 {
		b.WriteString(p.line("images", p.images, p.snap.Images))
	}

	stats := fmt.Sprintf("%s  %s", p.snap.Rate(), p.snap.Elapsed.Round(time.Second/10))
	b.WriteString(styles.MutedStyle.Render(stats))
	b.WriteString("\n")

	return b.String()
}

func (p *ProgressPanel) line(label string, bar progress.Model, counts services.KindCounts) string {
	ratio := 0.0
	if counts.Total > 0 {
		ratio = float64(counts.Completed+counts.Failed) / float64(counts.Total)
	}

	count := fmt.Sprintf("%d/%d", counts.Completed+counts.Failed, counts.Total)
	if counts.Failed > 0 {
		count += styles.StatusError.Render(fmt.Sprintf(" (%d failed)", counts.Failed))
	}

	return fmt.Sprintf("%s %s %s\n",
		styles.LabelStyle.Render(label),
		bar.ViewAs(ratio),
		count,
	)
}
