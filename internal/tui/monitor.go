// Package tui renders a live terminal monitor over the warden API: recent
// ledger entries, queue depth, chain head, and the kill switch.
package tui

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wardenhq/warden/internal/events"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusPending = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusBlocked = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8800"))
	statusMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

// --- Types ---

type entryRow struct {
	EntryID     string `json:"id"`
	CommandID   string `json:"command_id"`
	CommandText string `json:"command_text"`
	Status      string `json:"status"`
	Rationale   string `json:"rationale"`
	LatencyMs   int64  `json:"latency_ms"`
}

type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	entries   []entryRow
	byCommand map[string]int
	eventLog  []events.Event
	hubEvents chan events.Event

	health struct {
		Status        string
		UptimeSeconds int64
		QueueDepth    int
		ChainHeadSeq  int64
		KillSwitchOn  bool
	}

	entryTable table.Model
	mu         sync.Mutex
}

type eventMsg events.Event
type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	ChainHeadSeq  int64  `json:"chain_head_seq"`
	KillSwitch    struct {
		Engaged bool `json:"engaged"`
	} `json:"kill_switch"`
}
type errMsg error

// --- Init ---

func NewMonitor(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Command", Width: 40},
			{Title: "Rationale", Width: 30},
			{Title: "Entry", Width: 10},
			{Title: "Latency", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		apiURL:     apiURL,
		apiKey:     apiKey,
		byCommand:  make(map[string]int),
		eventLog:   make([]events.Event, 0),
		hubEvents:  make(chan events.Event, 100),
		entryTable: t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribeToEvents(),
		m.pollHealth(),
		tea.EnterAltScreen,
	)
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.entryTable.SetWidth(m.width - 6)

	case eventMsg:
		m.handleEvent(events.Event(msg))
		m.updateTable()
		return m, m.receiveNextEvent()

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.QueueDepth = msg.QueueDepth
		m.health.ChainHeadSeq = msg.ChainHeadSeq
		m.health.KillSwitchOn = msg.KillSwitch.Engaged
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return m.fetchHealth()
		})

	case errMsg:
		// Surfaced through the header; keep the stream alive.
	}

	m.entryTable, cmd = m.entryTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > 50 {
		m.eventLog = m.eventLog[:50]
	}

	switch e.Type {
	case events.TypeLedgerAppend:
		var row entryRow
		if err := json.Unmarshal(e.Data, &row); err != nil || row.EntryID == "" {
			return
		}
		// A terminal entry for a command supersedes its pending row.
		if idx, ok := m.byCommand[row.CommandID]; ok {
			m.entries[idx] = row
			return
		}
		m.entries = append([]entryRow{row}, m.entries...)
		for id := range m.byCommand {
			m.byCommand[id]++
		}
		m.byCommand[row.CommandID] = 0
		if len(m.entries) > 100 {
			m.entries = m.entries[:100]
			for id, idx := range m.byCommand {
				if idx >= len(m.entries) {
					delete(m.byCommand, id)
				}
			}
		}

	case events.TypeKillSwitch:
		var st struct {
			Engaged bool `json:"engaged"`
		}
		if json.Unmarshal(e.Data, &st) == nil {
			m.health.KillSwitchOn = st.Engaged
		}
	}
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.entries))
	for _, entry := range m.entries {
		rows = append(rows, entryToRow(entry))
	}
	m.entryTable.SetRows(rows)
}

func entryToRow(entry entryRow) table.Row {
	statusSym := statusMuted.Render("○")
	switch entry.Status {
	case "PENDING":
		statusSym = statusPending.Render("◉")
	case "SUCCESS":
		statusSym = statusSuccess.Render("●")
	case "FAILED":
		statusSym = statusFailed.Render("∅")
	case "BLOCKED":
		statusSym = statusBlocked.Render("◼")
	case "REVERTED":
		statusSym = statusMuted.Render("↺")
	}

	latency := "-"
	if entry.LatencyMs > 0 {
		latency = strconv.FormatInt(entry.LatencyMs, 10) + "ms"
	}

	entryID := entry.EntryID
	if len(entryID) > 8 {
		entryID = entryID[:8]
	}

	return table.Row{
		statusSym,
		entry.CommandText,
		entry.Rationale,
		entryID,
		latency,
	}
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := m.renderHeader()
	ledgerView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Ledger"),
			m.entryTable.View(),
		),
	)
	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)
	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [↑/↓] Scroll Entries")

	return docStyle.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			header,
			ledgerView,
			eventsView,
			help,
		),
	)
}

func (m Model) renderHeader() string {
	status := statusSuccess.Render("RUNNING")
	if m.health.Status != "ok" && m.health.Status != "" {
		status = statusFailed.Render("DEGRADED")
	}
	ks := statusSuccess.Render("off")
	if m.health.KillSwitchOn {
		ks = statusFailed.Render("ENGAGED")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second
	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", uptime.String()),
		fmt.Sprintf("Queue: %d  Head: %d", m.health.QueueDepth, m.health.ChainHeadSeq),
		fmt.Sprintf("Kill switch: %s", ks),
	}

	cols := make([]string, len(items))
	for i, item := range items {
		cols[i] = lipgloss.NewStyle().Width((m.width - 4) / 4).Render(item)
	}
	return borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinHorizontal(lipgloss.Top, cols...),
	)
}

func (m Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 8 {
			break
		}
		ts := e.At.Format("15:04:05")
		lines = append(lines, fmt.Sprintf("%s | %-20s | %s", ts, e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// --- Commands ---

// subscribeToEvents consumes the API's SSE stream and feeds parsed events
// into the model's channel.
func (m Model) subscribeToEvents() tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{}
		req, err := http.NewRequest("GET", m.apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+m.apiKey)

		resp, err := client.Do(req)
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()

		var ev events.Event
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "id: "):
				ev.ID, _ = strconv.ParseInt(line[4:], 10, 64)
			case strings.HasPrefix(line, "event: "):
				ev.Type = line[7:]
			case strings.HasPrefix(line, "data: "):
				ev.Data = []byte(line[6:])
			case line == "":
				if ev.Type != "" {
					ev.At = time.Now()
					m.hubEvents <- ev
				}
				ev = events.Event{}
			}
		}
		return nil
	}
}

func (m Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.hubEvents)
	}
}

func (m Model) pollHealth() tea.Cmd {
	return func() tea.Msg {
		return m.fetchHealth()
	}
}

func (m Model) fetchHealth() tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest("GET", m.apiURL+"/healthz", nil)
	if err != nil {
		return errMsg(err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
