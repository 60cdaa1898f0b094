// Package ui renders dashboard states in the terminal.
package ui

import (
	"context"
	"fmt"
	"math"
	"strings"

	"codeberg.org/mutker/powerdash/internal/classify"
	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/history"
	"codeberg.org/mutker/powerdash/internal/power"
	"codeberg.org/mutker/powerdash/internal/snapshot"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const notAvailable = "n/a"

// Feed hands states from the scheduler to the program. Only the newest
// undelivered state is kept.
type Feed struct {
	ch chan dashboard.State
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan dashboard.State, 1)}
}

// Sink never blocks the caller.
func (f *Feed) Sink(st dashboard.State) {
	for {
		select {
		case f.ch <- st:
			return
		default:
		}

		select {
		case <-f.ch:
		default:
		}
	}
}

// Model renders the latest state received from a Feed.
type Model struct {
	feed     *Feed
	cancel   context.CancelFunc
	latest   dashboard.State
	received bool
	width    int
	// shift is the most recent power shift; states carry one only on the
	// tick that detected it.
	shift *history.Shift
}

func New(feed *Feed, cancel context.CancelFunc) *Model {
	return &Model{feed: feed, cancel: cancel, width: 120}
}

type stateMsg dashboard.State

func (m *Model) waitForState() tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-m.feed.ch)
	}
}

func (m *Model) Init() tea.Cmd { return m.waitForState() }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case stateMsg:
		m.latest = dashboard.State(msg)
		m.received = true
		if m.latest.PowerShift != nil {
			m.shift = m.latest.PowerShift
		}
		return m, m.waitForState()
	}
	return m, nil
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	staleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	gaugeFill   = "█"
	gaugeEmpty  = "░"
	cardStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("60")).
			Padding(0, 1).
			MarginRight(1)

	tierStyles = map[classify.Tier]lipgloss.Style{
		classify.Unknown:  lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		classify.Normal:   lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
		classify.Good:     lipgloss.NewStyle().Foreground(lipgloss.Color("82")),
		classify.Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		classify.Critical: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

func (m *Model) View() string {
	if !m.received {
		return titleStyle.Render("powerdash") + "  " + subtleStyle.Render("waiting for first sample...")
	}

	s := m.latest
	header := titleStyle.Render("powerdash") + "  " +
		subtleStyle.Render(s.At.Format("Mon Jan 2 15:04:05 MST 2006"))

	line1 := lipgloss.JoinHorizontal(lipgloss.Top,
		powerCard(s.Power),
		thermalCard(s),
		batteryCard(s),
	)
	line2 := lipgloss.JoinHorizontal(lipgloss.Top,
		systemCard(s, m.shift),
		processCard(s.TopProcesses),
		anomalyCard(s),
	)

	rows := []string{header, line1, line2}
	if footer := healthLine(s); footer != "" {
		rows = append(rows, footer)
	}
	rows = append(rows, subtleStyle.Render("q to quit"))

	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func powerCard(p power.Breakdown) string {
	total := math.Max(p.TotalMW, 1)
	line := func(name string, mw float64) string {
		return fmt.Sprintf("%-9s %s %6.2f W", name, gaugeBar(mw*100/total, 16), mw/1000)
	}

	lines := []string{
		fmt.Sprintf("%-9s %6.2f W", "Total", p.TotalMW/1000),
		line("CPU", p.CPUMW),
		line("GPU", p.GPUMW),
		line("ANE", p.ANEMW),
	}
	if p.MemoryMW.Valid {
		lines = append(lines, line("DRAM", p.MemoryMW.Value))
	}
	lines = append(lines, line("Radios/IO", p.AccessoryMW))
	if p.DisplayMW.Valid {
		lines = append(lines, line("Display", p.DisplayMW.Value))
	}
	lines = append(lines, line("Other", p.ResidualMW))

	return card("Power", strings.Join(lines, "\n"))
}

func thermalCard(s dashboard.State) string {
	t := s.Temperatures
	lines := []string{
		fmt.Sprintf("CPU     %s", celsius(t.CPU)),
		fmt.Sprintf("GPU     %s", celsius(t.GPU)),
		fmt.Sprintf("Memory  %s", celsius(t.Memory)),
		fmt.Sprintf("SSD     %s", celsius(t.SSD)),
		fmt.Sprintf("Battery %s", celsius(t.Battery)),
		"",
		"Hottest " + celsius(s.HottestC) + "  " + tier(s.Tiers.Thermal),
	}
	return card("Thermal", strings.Join(lines, "\n"))
}

func batteryCard(s dashboard.State) string {
	state := "discharging"
	if s.Charging {
		state = "charging"
	}

	lines := []string{
		fmt.Sprintf("%s (%s)", percent(s.BatteryPct), state),
	}

	if s.Runway.Available {
		lines = append(lines,
			"Runway  "+hours(s.Runway.Instant.Hours)+" now  "+tier(s.Tiers.Efficiency),
			fmt.Sprintf("        %s over %d min", hours(s.Runway.Windowed.Hours), s.Runway.WindowMinutes),
		)
		if s.Runway.Instant.RemainingHours.Valid {
			lines = append(lines, "Left    "+hours(s.Runway.Instant.RemainingHours.Value))
		}
	} else {
		lines = append(lines, "Runway  "+notAvailable)
	}

	b := s.Battery
	capacity := fmt.Sprintf("%.1f Wh", b.CapacityWh)
	if b.Estimated {
		capacity += " (est.)"
	}
	lines = append(lines,
		"Capacity "+capacity,
		"Health   "+percent(b.HealthPct),
		fmt.Sprintf("Cycles   %d", b.CycleCount),
	)

	return card("Battery", strings.Join(lines, "\n"))
}

func systemCard(s dashboard.State, shift *history.Shift) string {
	mem := notAvailable
	if s.MemoryAvailablePct.Valid {
		mem = gaugeBar(s.MemoryAvailablePct.Value, 16)
	}

	wakeups := notAvailable
	if s.WakeupsPerSec.Valid {
		wakeups = fmt.Sprintf("%.0f/s", s.WakeupsPerSec.Value)
	}

	lines := []string{
		"Memory free " + mem + "  " + tier(s.Tiers.Memory),
		"Wakeups     " + wakeups + "  " + tier(s.Tiers.Wakeups),
	}
	if shift != nil {
		lines = append(lines, fmt.Sprintf("Last shift  %+.0f%% to %.2f W at %s",
			shift.DeltaPct, shift.CurrentMW/1000, shift.At.Format("15:04:05")))
	}

	return card("System", strings.Join(lines, "\n"))
}

func processCard(rows []dashboard.Process) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-22s %9s %9s\n", "process", "cpu ms/s", "wakeups")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-22s %9.1f %9.0f\n", truncate(r.Label, 22), r.CPUMsPerSec, r.WakeupsPerSec)
	}
	return card("Top CPU", strings.TrimRight(b.String(), "\n"))
}

func anomalyCard(s dashboard.State) string {
	if len(s.Anomalies) == 0 {
		return card("Wakeup anomalies", subtleStyle.Render("none"))
	}

	lines := make([]string, 0, len(s.Anomalies)+1)
	for _, a := range s.Anomalies {
		lines = append(lines, fmt.Sprintf("%-22s %6.0f/s", truncate(a.Label, 22), a.WakeupsPerSec))
	}
	if more := len(s.AllAnomalies) - len(s.Anomalies); more > 0 {
		lines = append(lines, subtleStyle.Render(fmt.Sprintf("+%d more", more)))
	}

	return card("Wakeup anomalies", strings.Join(lines, "\n"))
}

func healthLine(s dashboard.State) string {
	h := s.Health

	var parts []string
	if h.RailsStale {
		parts = append(parts, fmt.Sprintf("power/thermal stale (%d failures)", h.FastFailures))
	}
	if h.HostStale {
		parts = append(parts, fmt.Sprintf("processes/battery stale (%d failures)", h.SlowFailures))
	}
	if len(h.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(h.Missing, ", "))
	}
	if len(parts) == 0 {
		return ""
	}

	return staleStyle.Render(strings.Join(parts, " | "))
}

func tier(t classify.Tier) string {
	style, ok := tierStyles[t]
	if !ok {
		style = tierStyles[classify.Unknown]
	}
	return style.Render(strings.ToUpper(string(t)))
}

func gaugeBar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int((pct / 100) * float64(width))
	return fmt.Sprintf("[%s%s] %5.1f%%",
		strings.Repeat(gaugeFill, filled),
		strings.Repeat(gaugeEmpty, width-filled),
		pct)
}

func card(title, body string) string {
	return cardStyle.Render(labelStyle.Render(title) + "\n" + body)
}

func celsius(r snapshot.Reading) string {
	if !r.Valid {
		return notAvailable
	}
	return fmt.Sprintf("%.1f°C", r.Value)
}

func percent(r snapshot.Reading) string {
	if !r.Valid {
		return notAvailable
	}
	return fmt.Sprintf("%.0f%%", r.Value)
}

func hours(h float64) string {
	if h >= power.MaxRunwayHours {
		return fmt.Sprintf(">%.0fh", power.MaxRunwayHours)
	}
	whole := int(h)
	minutes := int(math.Round((h - float64(whole)) * 60))
	if minutes == 60 {
		whole, minutes = whole+1, 0
	}
	return fmt.Sprintf("%dh %02dm", whole, minutes)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Run starts the Bubble Tea program and returns when the user quits or ctx
// is cancelled.
func Run(ctx context.Context, feed *Feed, cancel context.CancelFunc) error {
	prog := tea.NewProgram(New(feed, cancel), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := prog.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
