package progress

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true)
	styleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	styleActive  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleBlocked = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	stylePending = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// DefaultBarWidth is the number of cells in the progress bar.
const DefaultBarWidth = 30

// Bar renders a proportional bar such as "[#####-----] 50%".
func Bar(c Counters, width int) string {
	if width <= 0 {
		width = DefaultBarWidth
	}
	filled := 0
	if c.Total > 0 {
		filled = c.Done * width / c.Total
	}
	return fmt.Sprintf("[%s%s] %d%%",
		strings.Repeat("#", filled),
		strings.Repeat("-", width-filled),
		c.Percent())
}

// Render returns the counters and bar as a styled block.
func Render(c Counters, width int) string {
	var b strings.Builder
	b.WriteString(styleTitle.Render("Progress"))
	b.WriteString("\n")
	b.WriteString(Bar(c, width))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s  %s  %s  %s  %s\n",
		fmt.Sprintf("total %d", c.Total),
		styleDone.Render(fmt.Sprintf("done %d", c.Done)),
		styleActive.Render(fmt.Sprintf("active %d", c.Active)),
		styleBlocked.Render(fmt.Sprintf("blocked %d", c.Blocked)),
		stylePending.Render(fmt.Sprintf("not started %d", c.NotStarted)))
	return b.String()
}
