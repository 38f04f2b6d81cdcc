package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/tinytelemetry/sightline/internal/model"
	"gopkg.in/yaml.v3"
)

// maxCellWidth truncates long log lines in table output.
const maxCellWidth = 80

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type printer struct {
	format string
	out    io.Writer
}

func newPrinter(format string, out io.Writer) (*printer, error) {
	switch format {
	case "table", "json", "yaml":
		return &printer{format: format, out: out}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

// structured writes v as json or yaml and reports whether it did.
func (p *printer) structured(v any) (bool, error) {
	switch p.format {
	case "json":
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		// Round-trip through JSON so field names match the json tags.
		data, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(generic)
	}
	return false, nil
}

func (p *printer) query(q string) error {
	if done, err := p.structured(map[string]string{"result": q}); done {
		return err
	}
	_, err := fmt.Fprintln(p.out, q)
	return err
}

func (p *printer) outcome(o *model.SearchOutcome) error {
	if done, err := p.structured(o); done {
		return err
	}

	p.field("tab", o.TabID)
	p.field("status", string(o.Status))
	p.field("query", o.FinalQuery)
	if o.TimestampField != "" {
		p.field("timestamp", o.TimestampField)
	}
	if o.Live {
		p.field("live", "iteration "+strconv.Itoa(o.Iteration))
	}
	for _, w := range o.Warnings {
		fmt.Fprintln(p.out, warnStyle.Render("warning: "+w))
	}
	if o.Error != "" {
		fmt.Fprintln(p.out, errStyle.Render("error: "+o.Error))
	}

	if o.Events != nil && len(o.Events.Schema) > 0 {
		headers := make([]string, len(o.Events.Schema))
		for i, f := range o.Events.Schema {
			headers[i] = f.Name
		}
		rows := make([][]string, 0, len(o.Events.DataRows))
		for _, r := range o.Events.DataRows {
			row := make([]string, len(r))
			for i, v := range r {
				row[i] = cell(v)
			}
			rows = append(rows, row)
		}
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, renderTable(headers, rows))
		p.field("rows", strconv.Itoa(len(rows)))
	}

	if o.Patterns != nil && len(o.Patterns.Rows) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, patternTable(o.Patterns))
	}
	return nil
}

func (p *printer) patterns(t *model.PatternTable) error {
	if done, err := p.structured(t); done {
		return err
	}
	if len(t.Rows) == 0 {
		_, err := fmt.Fprintln(p.out, labelStyle.Render("no patterns"))
		return err
	}
	_, err := fmt.Fprintln(p.out, patternTable(t))
	return err
}

func (p *printer) tab(s *model.TabSnapshot) error {
	if done, err := p.structured(s); done {
		return err
	}
	p.field("id", s.ID)
	p.field("phase", s.Phase)
	p.field("query", s.State.RawQuery)
	if s.State.FinalQuery != "" {
		p.field("final", s.State.FinalQuery)
	}
	p.field("range", s.State.SelectedDateRange[0]+" .. "+s.State.SelectedDateRange[1])
	if s.State.SelectedTimestamp != "" {
		p.field("timestamp", s.State.SelectedTimestamp)
	}
	if s.Live {
		p.field("live", s.LiveName)
	}
	if s.LastStatus != "" {
		p.field("last status", string(s.LastStatus))
	}
	if s.LastError != "" {
		fmt.Fprintln(p.out, errStyle.Render("error: "+s.LastError))
	}
	return nil
}

func (p *printer) history(recs []model.SearchRecord) error {
	if done, err := p.structured(recs); done {
		return err
	}
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.CreatedAt.Local().Format(time.DateTime),
			r.TabID,
			r.Status,
			strconv.Itoa(r.RowCount),
			strconv.Itoa(r.PatternCount),
			(time.Duration(r.Duration) * time.Millisecond).String(),
			truncate(r.RawQuery),
		})
	}
	_, err := fmt.Fprintln(p.out, renderTable(
		[]string{"TIME", "TAB", "STATUS", "ROWS", "PATTERNS", "TOOK", "QUERY"}, rows))
	return err
}

func (p *printer) field(label, value string) {
	fmt.Fprintf(p.out, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", label+":")), value)
}

func patternTable(t *model.PatternTable) string {
	headers := []string{"COUNT", "PATTERN", "SAMPLE"}
	if t.AnomalyAvailable {
		headers = []string{"COUNT", "ANOMALIES", "PATTERN", "SAMPLE"}
	}
	rows := make([][]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		row := []string{strconv.FormatInt(r.Count, 10)}
		if t.AnomalyAvailable {
			a := "-"
			if r.AnomalyCount != nil {
				a = strconv.Itoa(*r.AnomalyCount)
			}
			row = append(row, a)
		}
		row = append(row, truncate(r.Pattern), truncate(r.SampleLog))
		rows = append(rows, row)
	}
	return renderTable(headers, rows)
}

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return truncate(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return truncate(string(data))
	}
}

func truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= maxCellWidth {
		return s
	}
	return string([]rune(s)[:maxCellWidth-1]) + "…"
}
