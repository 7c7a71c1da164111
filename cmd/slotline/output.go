package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/postalsys/slotline/internal/control"
	"github.com/postalsys/slotline/internal/loadtest"
	"github.com/postalsys/slotline/internal/registry"
)

// colorEnabled is false when stdout is not a terminal, so piped output stays plain.
var colorEnabled = term.IsTerminal(int(os.Stdout.Fd()))

func style(color string) lipgloss.Style {
	s := lipgloss.NewStyle()
	if colorEnabled {
		s = s.Bold(true).Foreground(lipgloss.Color(color))
	}
	return s
}

func okStyle() lipgloss.Style    { return style("42") }
func warnStyle() lipgloss.Style  { return style("214") }
func errorStyle() lipgloss.Style { return style("196") }

func dimStyle() lipgloss.Style {
	s := lipgloss.NewStyle()
	if colorEnabled {
		s = s.Foreground(lipgloss.Color("241"))
	}
	return s
}

func printStatus(w io.Writer, st *control.StatusResponse, now time.Time) {
	state := okStyle().Render("running")
	if !st.Running {
		state = warnStyle().Render("stopped")
	}

	fmt.Fprintf(w, "State:      %s\n", state)
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(w, "Started:    %s\n", humanize.RelTime(st.StartedAt, now, "ago", "from now"))
	}
	for _, l := range st.Listeners {
		fmt.Fprintf(w, "Listener:   udp://%s\n", l)
	}
	fmt.Fprintf(w, "Slots:      %d / %d %s\n", st.Connected, st.Capacity, usageBar(st.Connected, st.Capacity, 20))
	fmt.Fprintf(w, "Queue:      %d / %d\n", st.QueueDepth, st.QueueCapacity)
	if st.QueueOverwritten > 0 {
		fmt.Fprintf(w, "Overwrites: %s\n", warnStyle().Render(humanize.Comma(int64(st.QueueOverwritten))))
	}
}

func printSlots(w io.Writer, slots []registry.Slot, now time.Time) {
	if len(slots) == 0 {
		fmt.Fprintln(w, dimStyle().Render("No connected clients."))
		return
	}

	rows := make([][]string, 0, len(slots))
	for _, s := range slots {
		rows = append(rows, []string{
			fmt.Sprintf("%d", s.Index),
			s.Address.String(),
			s.Address.Family().String(),
			humanize.RelTime(s.AdmittedAt, now, "ago", "from now"),
			humanize.RelTime(s.LastSeen, now, "ago", "from now"),
		})
	}

	printTable(w, []string{"SLOT", "ADDRESS", "FAMILY", "ADMITTED", "LAST SEEN"}, rows)
}

func printAdmission(w io.Writer, m *loadtest.AdmissionMetrics) {
	fmt.Fprintln(w, dimStyle().Render("Admission"))
	fmt.Fprintf(w, "  Clients:   %d in %s\n", m.TotalClients, m.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Accepted:  %s\n", okStyle().Render(humanize.Comma(m.Accepted)))
	if m.Denied > 0 {
		fmt.Fprintf(w, "  Denied:    %s\n", warnStyle().Render(humanize.Comma(m.Denied)))
	}
	if m.NoReply > 0 || m.Errors > 0 {
		fmt.Fprintf(w, "  No reply:  %d\n", m.NoReply)
		fmt.Fprintf(w, "  Errors:    %s\n", errorStyle().Render(humanize.Comma(m.Errors)))
	}
	if m.Accepted > 0 {
		fmt.Fprintf(w, "  Connect:   avg %.1fms, max %.1fms\n", m.AvgConnectTimeMs, m.MaxConnectTimeMs)
	}
}

func printEcho(w io.Writer, m *loadtest.EchoMetrics) {
	fmt.Fprintln(w, dimStyle().Render("Echo"))
	fmt.Fprintf(w, "  Workers:   %d (%d failed to connect)\n", m.Workers, m.ConnectFailures)
	fmt.Fprintf(w, "  Packets:   %s sent, %s echoed, %s lost\n",
		humanize.Comma(m.Sent), humanize.Comma(m.Received), humanize.Comma(m.Lost))
	if m.Mismatched > 0 {
		fmt.Fprintf(w, "  Corrupt:   %s\n", errorStyle().Render(humanize.Comma(m.Mismatched)))
	}
	fmt.Fprintf(w, "  Data:      %s in %s\n", humanize.IBytes(uint64(m.TotalBytes)), m.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Rate:      %.0f pkt/s\n", m.PacketsPerSecond)
	if m.Received > 0 {
		fmt.Fprintf(w, "  Latency:   min %.2fms, avg %.2fms, max %.2fms\n", m.MinLatencyMs, m.AvgLatencyMs, m.MaxLatencyMs)
	}
}

// printTable writes left-aligned columns padded to the widest cell.
func printTable(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if cw := lipgloss.Width(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	cell := func(i int, s string) string {
		return lipgloss.NewStyle().Width(widths[i] + 2).Render(s)
	}

	var b strings.Builder
	for i, h := range header {
		b.WriteString(cell(i, h))
	}
	fmt.Fprintln(w, dimStyle().Render(strings.TrimRight(b.String(), " ")))

	for _, row := range rows {
		b.Reset()
		for i, c := range row {
			b.WriteString(cell(i, c))
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}
}

// usageBar renders used/total as a fixed-width bar.
func usageBar(used, total, width int) string {
	if total <= 0 || width <= 0 {
		return ""
	}
	filled := used * width / total
	if used > 0 && filled == 0 {
		filled = 1
	}
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	if used >= total {
		return warnStyle().Render(bar)
	}
	return dimStyle().Render(bar)
}
