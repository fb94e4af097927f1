// Package render draws assistant answers in a terminal: markdown prose through
// glamour, tax tables and income charts through lipgloss.
package render

import (
	"math"
	"strings"

	"github.com/Desarso/taxassist/extract"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	TableTitle = "Tax Breakdown Summary"
	ChartTitle = "Income Breakdown"

	defaultWidth = 80
	barWidth     = 24
)

var (
	accent = lipgloss.Color("#0F766E")
	muted  = lipgloss.Color("#6B7280")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	amountStyle = cellStyle.Align(lipgloss.Right)
	barStyle    = lipgloss.NewStyle().Foreground(accent)
	noteStyle   = lipgloss.NewStyle().Foreground(muted).Italic(true)

	printer = message.NewPrinter(language.English)
)

// Renderer turns parsed answers into terminal text. The zero value is not
// usable; call New.
type Renderer struct {
	Width  int
	Styled bool

	md *glamour.TermRenderer
}

// New builds a renderer wrapping prose at width columns. With styled false the
// output carries no ANSI sequences, which suits pipes and tests.
func New(width int, styled bool) (*Renderer, error) {
	if width <= 0 {
		width = defaultWidth
	}
	style := glamour.WithStandardStyle("notty")
	if styled {
		style = glamour.WithAutoStyle()
	}
	md, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return nil, err
	}
	return &Renderer{Width: width, Styled: styled, md: md}, nil
}

// Answer renders prose followed by any table and chart.
func (r *Renderer) Answer(b extract.Blocks) string {
	var parts []string
	if strings.TrimSpace(b.Prose) != "" {
		parts = append(parts, r.Prose(b.Prose))
	}
	if b.Table != nil && len(b.Table.Rows) > 0 {
		parts = append(parts, r.Table(*b.Table))
	}
	if b.Chart != nil && len(b.Chart.Points) > 0 {
		parts = append(parts, r.Chart(*b.Chart))
	}
	return strings.Join(parts, "\n")
}

// Prose renders markdown, returning the input unchanged if glamour fails.
func (r *Renderer) Prose(text string) string {
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return out
}

// Table draws a two column Category/Amount table.
func (r *Renderer) Table(t extract.Table) string {
	rows := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rows = append(rows, []string{row.Label, Currency(row.Amount)})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Category", "Amount").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.style(headerStyle)
			}
			if col == 1 {
				return r.style(amountStyle)
			}
			return r.style(cellStyle)
		})

	return r.style(titleStyle).Render(TableTitle) + "\n" + tbl.Render() + "\n"
}

// Chart draws one bar per point, scaled to its share of the total.
func (r *Renderer) Chart(c extract.Chart) string {
	total := c.Total()
	rows := make([][]string, 0, len(c.Points))
	for _, p := range c.Points {
		share := 0.0
		if total > 0 {
			share = p.Value / total * 100
		}
		rows = append(rows, []string{p.Name, Currency(p.Value), Percent(share), r.style(barStyle).Render(Bar(share, barWidth))})
	}

	tbl := table.New().
		Border(lipgloss.HiddenBorder()).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 1 || col == 2 {
				return r.style(amountStyle)
			}
			return r.style(cellStyle)
		})

	var b strings.Builder
	b.WriteString(r.style(titleStyle).Render(ChartTitle))
	b.WriteString("\n")
	b.WriteString(tbl.Render())
	b.WriteString("\n")
	b.WriteString(r.style(noteStyle).Render("Total " + Currency(total)))
	b.WriteString("\n")
	return b.String()
}

func (r *Renderer) style(s lipgloss.Style) lipgloss.Style {
	if r.Styled {
		return s
	}
	return lipgloss.NewStyle().
		Padding(s.GetPaddingTop(), s.GetPaddingRight(), s.GetPaddingBottom(), s.GetPaddingLeft()).
		Align(s.GetAlignHorizontal())
}

// Currency formats v as US dollars, e.g. -$13,850.00.
func Currency(v float64) string {
	if v < 0 {
		return printer.Sprintf("-$%.2f", -v)
	}
	return printer.Sprintf("$%.2f", v)
}

// Percent formats a share with one decimal, e.g. 12.1%.
func Percent(v float64) string {
	return printer.Sprintf("%.1f%%", v)
}

// Bar returns a bar of full blocks proportional to pct out of width.
func Bar(pct float64, width int) string {
	if pct <= 0 || width <= 0 {
		return ""
	}
	n := int(math.Round(pct / 100 * float64(width)))
	if n < 1 {
		n = 1
	}
	if n > width {
		n = width
	}
	return strings.Repeat("█", n)
}
