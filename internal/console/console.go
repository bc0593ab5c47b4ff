// Package console renders run progress, plans and reports for a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/util"
)

// maxListed caps how many tickers a summary line spells out.
const maxListed = 10

// Printer writes human-readable progress to a terminal. Colour is used only
// when the writer is a terminal that supports it.
type Printer struct {
	mu sync.Mutex
	w  io.Writer

	// Verbose also prints ticker start events.
	Verbose bool

	header  lipgloss.Style
	ticker  lipgloss.Style
	ok      lipgloss.Style
	fail    lipgloss.Style
	warn    lipgloss.Style
	dim     lipgloss.Style
	counter lipgloss.Style
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:       w,
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1),
		ticker:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		ok:      r.NewStyle().Foreground(lipgloss.Color("10")),
		fail:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		warn:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("245")),
		counter: r.NewStyle().Foreground(lipgloss.Color("14")),
	}
}

// Observe prints one progress event. It matches mirror.Observer.
func (p *Printer) Observe(ev domain.Event) {
	var line string
	switch ev.Kind {
	case domain.EventStatus:
		if ev.Warning {
			line = p.warn.Render("! " + ev.Message)
		} else {
			line = p.dim.Render("· " + ev.Message)
		}
	case domain.EventTickerStarted:
		if !p.Verbose {
			return
		}
		line = fmt.Sprintf("%s %s", p.progress(ev), p.ticker.Render(ev.Ticker))
	case domain.EventTickerFinished:
		line = fmt.Sprintf("%s %s %s", p.progress(ev), p.ticker.Render(ev.Ticker), p.ok.Render(FormatInt(ev.Rows)+" rows"))
		if ev.Message != "" {
			line += " " + p.warn.Render("("+ev.Message+")")
		}
	case domain.EventTickerFailed:
		line = fmt.Sprintf("%s %s %s", p.progress(ev), p.ticker.Render(ev.Ticker), p.fail.Render("failed: "+ev.Message))
	case domain.EventTickerSkipped:
		line = fmt.Sprintf("%s %s %s", p.progress(ev), p.ticker.Render(ev.Ticker), p.warn.Render("skipped: "+ev.Message))
	case domain.EventSummary:
		if ev.Report == nil {
			return
		}
		line = strings.TrimRight(p.Summary(*ev.Report), "\n")
	default:
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func (p *Printer) progress(ev domain.Event) string {
	width := len(fmt.Sprint(ev.Total))
	return p.counter.Render(fmt.Sprintf("[%*d/%d]", width, ev.Index, ev.Total))
}

// Summary renders the final report of a run.
func (p *Printer) Summary(r domain.RunReport) string {
	var b strings.Builder

	b.WriteString(p.header.Render("ohlcvsync run " + shortID(r.RunID)))
	b.WriteByte('\n')

	refetched := 0
	for _, u := range r.Updated {
		if u.Refetched {
			refetched++
		}
	}

	row := func(label, value string) {
		fmt.Fprintf(&b, "  %-12s %s\n", label, value)
	}
	row("planned", FormatInt(int64(len(r.Planned))))
	row("updated", p.ok.Render(FormatInt(int64(len(r.Updated)))))
	if refetched > 0 {
		row("refetched", p.warn.Render(FormatInt(int64(refetched))))
	}
	row("rows", FormatInt(r.TotalRows()))
	if len(r.Failed) > 0 {
		tickers := make([]string, len(r.Failed))
		for i, f := range r.Failed {
			tickers[i] = f.Ticker
		}
		row("failed", p.fail.Render(FormatInt(int64(len(r.Failed))))+" "+p.dim.Render(list(tickers)))
	} else {
		row("failed", "0")
	}
	row("deactivated", FormatInt(int64(len(r.Deactivated)))+" "+p.dim.Render(list(r.Deactivated)))
	if r.Cancelled() {
		row("skipped", p.warn.Render(FormatInt(int64(len(r.Skipped))))+" "+p.dim.Render(list(r.Skipped)))
	}
	if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
		row("elapsed", FormatElapsed(r.FinishedAt.Sub(r.StartedAt)))
	}
	return b.String()
}

// Plan renders planned tasks as a table.
func (p *Printer) Plan(tasks []domain.UpdateTask) string {
	var b strings.Builder
	b.WriteString(p.header.Render(fmt.Sprintf("plan: %s tickers", FormatInt(int64(len(tasks))))))
	b.WriteByte('\n')
	fmt.Fprintf(&b, "%s\n", p.dim.Render(fmt.Sprintf("  %-10s %-10s %s", "TICKER", "START", "CHECK")))
	for _, t := range tasks {
		check := ""
		if t.CheckCorporateActions {
			check = "yes"
		}
		fmt.Fprintf(&b, "  %s %-10s %s\n", p.ticker.Render(fmt.Sprintf("%-10s", t.Ticker)), util.FormatDay(t.FetchStart), check)
	}
	return b.String()
}

// Bars renders stored bars of a ticker as a table.
func (p *Printer) Bars(ticker string, bars []domain.Bar) string {
	var b strings.Builder
	b.WriteString(p.header.Render(fmt.Sprintf("%s: %s bars", ticker, FormatInt(int64(len(bars))))))
	b.WriteByte('\n')
	fmt.Fprintf(&b, "%s\n", p.dim.Render(fmt.Sprintf("  %-10s %10s %10s %10s %10s %10s %14s  %s",
		"DATE", "OPEN", "HIGH", "LOW", "CLOSE", "ADJ", "VOLUME", "ACTION")))
	for _, bar := range bars {
		fmt.Fprintf(&b, "  %-10s %10s %10s %10s %10s %10s %14s  %s\n",
			util.FormatDay(bar.Date),
			FormatPrice(bar.Open), FormatPrice(bar.High), FormatPrice(bar.Low),
			FormatPrice(bar.Close), FormatPrice(bar.AdjClose),
			FormatVolume(bar.Volume),
			p.warn.Render(FormatAction(bar.Dividends, bar.StockSplits)))
	}
	return b.String()
}

// Instrument renders one instrument's identity and activity state.
func (p *Printer) Instrument(in domain.Instrument) string {
	state := p.ok.Render("active")
	if !in.State.IsActive() {
		state = p.warn.Render("inactive since " + util.FormatDay(in.State.Since))
	}
	line := fmt.Sprintf("%s %s", p.ticker.Render(in.Ticker), state)
	if !in.LastSeen.IsZero() {
		line += " " + p.dim.Render("last seen "+util.FormatDay(in.LastSeen))
	}
	return line
}

// Tickers renders a labelled ticker list on one line.
func (p *Printer) Tickers(label string, tickers []string) string {
	if len(tickers) == 0 {
		return p.dim.Render(label+": none") + "\n"
	}
	return fmt.Sprintf("%s %s\n", p.dim.Render(fmt.Sprintf("%s (%d):", label, len(tickers))), strings.Join(tickers, " "))
}

func list(tickers []string) string {
	if len(tickers) == 0 {
		return ""
	}
	if len(tickers) <= maxListed {
		return strings.Join(tickers, " ")
	}
	return fmt.Sprintf("%s … +%d", strings.Join(tickers[:maxListed], " "), len(tickers)-maxListed)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
