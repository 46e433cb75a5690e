package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func renderTable(w io.Writer, header table.Row, rows []table.Row) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatUpper
	t.AppendHeader(header)
	t.AppendRows(rows)
	t.Render()
}

func printJSON(w io.Writer, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = w.Write(raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

var modelHeader = table.Row{"model", "status", "window", "every", "timezone", "last fire", "last ok", "fails", "endpoint"}

func modelRow(m model) table.Row {
	d := m.Definition
	window := d.From.String() + "-" + d.To.String()
	if d.WrapsMidnight {
		window += " (+1d)"
	}
	status := colorStatus(m.State.Status)
	if m.InFlight {
		status += " *"
	}
	return table.Row{
		d.ModelID,
		status,
		window,
		fmt.Sprintf("%dm", d.IntervalMinutes),
		d.Timezone,
		formatTime(m.State.LastFireAt),
		formatTime(m.State.LastSuccessAt),
		m.State.ConsecutiveFailures,
		m.EndpointID,
	}
}

func colorStatus(s domain.Status) string {
	switch s {
	case domain.StatusRunning:
		return text.FgGreen.Sprint(s)
	case domain.StatusError:
		return text.FgRed.Sprint(s)
	case domain.StatusStopped:
		return text.FgHiBlack.Sprint(s)
	default:
		return string(s)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func describeOutcome(out *domain.ProbeOutcome) string {
	if out == nil {
		return "probe already in flight; the next tick fires it"
	}
	if out.OK {
		return fmt.Sprintf("ok in %s (%d attempt(s))", out.Latency.Round(time.Millisecond), out.Attempts)
	}
	msg := fmt.Sprintf("failed: %s", out.Kind)
	if out.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", out.StatusCode)
	}
	if out.Message != "" {
		msg += ": " + out.Message
	}
	return msg
}
