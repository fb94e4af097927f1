package extract

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

type TableRow struct {
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
}

// Table is a breakdown of amounts, in the order the model listed them.
type Table struct {
	Rows []TableRow `json:"rows"`
}

type ChartPoint struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Chart is a set of categorical proportions.
type Chart struct {
	Points []ChartPoint `json:"points"`
}

// Total sums the chart values.
func (c Chart) Total() float64 {
	var sum float64
	for _, p := range c.Points {
		sum += p.Value
	}
	return sum
}

// TableFrom reads the tableData array of a payload. Missing or malformed
// fields yield an empty table; entries that are not objects are skipped.
func TableFrom(p Payload) Table {
	var t Table
	p.Get("tableData").ForEach(func(_, row gjson.Result) bool {
		if !row.IsObject() {
			return true
		}
		t.Rows = append(t.Rows, TableRow{
			Label:  row.Get("label").String(),
			Amount: number(row.Get("amount")),
		})
		return true
	})
	return t
}

// ChartFrom reads the chartData array of a payload, with the same tolerance
// as TableFrom.
func ChartFrom(p Payload) Chart {
	var c Chart
	p.Get("chartData").ForEach(func(_, point gjson.Result) bool {
		if !point.IsObject() {
			return true
		}
		c.Points = append(c.Points, ChartPoint{
			Name:  point.Get("name").String(),
			Value: number(point.Get("value")),
		})
		return true
	})
	return c
}

// number accepts JSON numbers and numeric strings such as "$1,250.50".
// Anything else is 0.
func number(r gjson.Result) float64 {
	switch r.Type {
	case gjson.Number:
		return r.Float()
	case gjson.String:
		s := strings.NewReplacer("$", "", ",", "", " ", "").Replace(r.Str)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// Blocks is everything a renderer needs from one assistant message.
type Blocks struct {
	Table *Table `json:"table,omitempty"`
	Chart *Chart `json:"chart,omitempty"`
	// Prose is the message text with recognized blocks removed.
	Prose string `json:"prose"`
}

// Parse scans content for the first table and the first chart block. Blocks
// that parse are cut out of the prose; malformed ones stay in it as plain
// text. A block that has started but not finished (mid-stream) is hidden
// from the prose until its end marker arrives.
func Parse(content string) Blocks {
	var b Blocks
	var cuts [][2]int

	if p, span, ok := find(content, TableStart, TableEnd); ok {
		t := TableFrom(p)
		b.Table = &t
		cuts = append(cuts, span)
	}
	if p, span, ok := find(content, ChartStart, ChartEnd); ok {
		c := ChartFrom(p)
		b.Chart = &c
		cuts = append(cuts, span)
	}

	prose := cutSpans(content, cuts)
	prose = trimOpenBlock(prose, TableStart, TableEnd)
	prose = trimOpenBlock(prose, ChartStart, ChartEnd)
	prose = trimPartialMarker(prose)
	b.Prose = strings.TrimSpace(collapseBlankLines(prose))
	return b
}

func cutSpans(s string, spans [][2]int) string {
	if len(spans) == 0 {
		return s
	}
	if len(spans) == 2 && spans[1][0] < spans[0][0] {
		spans[0], spans[1] = spans[1], spans[0]
	}
	var out strings.Builder
	pos := 0
	for _, sp := range spans {
		if sp[0] < pos {
			// overlapping blocks, keep the first cut only
			continue
		}
		out.WriteString(s[pos:sp[0]])
		pos = sp[1]
	}
	out.WriteString(s[pos:])
	return out.String()
}

// trimOpenBlock drops everything from a start marker that has no end marker
// after it.
func trimOpenBlock(s, startMarker, endMarker string) string {
	idx := strings.LastIndex(s, startMarker)
	if idx < 0 {
		return s
	}
	if strings.Contains(s[idx+len(startMarker):], endMarker) {
		return s
	}
	return s[:idx]
}

// trimPartialMarker removes a marker cut in half at the end of the text, so
// "...text\n|||TAB" renders as "...text" while streaming.
func trimPartialMarker(s string) string {
	for _, m := range []string{TableStart, ChartStart} {
		for n := len(m) - 1; n >= 3; n-- {
			if strings.HasSuffix(s, m[:n]) {
				return s[:len(s)-n]
			}
		}
	}
	return s
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
