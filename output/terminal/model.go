package terminal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Amanmahe/chords-demo/pipeline"
	"github.com/Amanmahe/chords-demo/render"
	"github.com/Amanmahe/chords-demo/sample"
)

var sparks = []rune("▁▂▃▄▅▆▇█")

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#888", Dark: "#666"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "1", Dark: "9"})
	boxStyle    = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#555", Dark: "#555"})
	channelColors = []lipgloss.Color{"39", "208", "82", "199", "226", "141"}
)

type tickMsg time.Time

// latestFunc returns the most recent frame and whether one exists.
type latestFunc func() (render.Frame, bool)

// model is the bubbletea model for the terminal surface. Keys drive the
// pipeline controls; frames are pulled from the surface on every tick.
type model struct {
	controls pipeline.Controls
	latest   latestFunc
	refresh  time.Duration

	frame    render.Frame
	hasFrame bool
	width    int
	height   int
	notice   string
}

func newModel(controls pipeline.Controls, latest latestFunc, refresh time.Duration) *model {
	return &model{controls: controls, latest: latest, refresh: refresh, width: 80, height: 24}
}

func (m *model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) Init() tea.Cmd {
	return m.tick()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if f, ok := m.latest(); ok {
			m.frame, m.hasFrame = f, true
		}
		return m, m.tick()
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) tea.Cmd {
	state := m.controls.Modes()
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return tea.Quit
	case "g":
		m.controls.SetGridView(!state.GridView)
		m.notice = "grid view " + onOff(!state.GridView)
	case "d", " ":
		m.controls.SetDisplayEnabled(!state.DisplayEnabled)
		m.notice = "display " + onOff(!state.DisplayEnabled)
	case "b":
		next := state.BitMode.Next()
		if err := m.controls.SetBitMode(next); err != nil {
			m.notice = "bit mode: " + err.Error()
		} else {
			m.notice = "bit mode " + next.String()
		}
	case "r":
		m.controls.Reset()
		m.notice = "buffer cleared"
	}
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func (m *model) View() string {
	state := m.controls.Modes()
	header := headerStyle.Render("chords") + dimStyle.Render(fmt.Sprintf(
		"  bits %-8s grid %-3s display %-3s", state.BitMode, onOff(state.GridView), onOff(state.DisplayEnabled)))

	var status string
	if sig := m.frame.Signal; sig != nil {
		status = fmt.Sprintf("%s  payloads %d  errors %d (%.0f%%)",
			sig.Connection, sig.Payloads, sig.Errors, sig.ErrorRate*100)
		if sig.Degraded {
			status = warnStyle.Render(status + "  degraded")
		} else {
			status = dimStyle.Render(status)
		}
	}

	body := m.body(state.DisplayEnabled)
	help := dimStyle.Render("g grid · d display · b bit mode · r reset · q quit")
	lines := []string{header, status, boxStyle.Render(body), help}
	if m.notice != "" {
		lines = append(lines, m.notice)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m *model) body(displayEnabled bool) string {
	if !m.hasFrame || m.frame.Window.Len() == 0 {
		return dimStyle.Render("waiting for samples")
	}
	cols := m.width - 20
	if cols < 10 {
		cols = 10
	}

	width := m.frame.Window.Width()
	if m.frame.BitMode.IsFixed() {
		width = m.frame.BitMode
	}
	maxValue := sample.BitModeFourteen.Max()
	if width.IsFixed() {
		maxValue = width.Max()
	}

	series := m.frame.Window.Series()
	var rows []string
	for _, ch := range m.frame.Window.Channels() {
		values := series[ch]
		if len(values) > cols {
			values = values[len(values)-cols:]
		}
		label := lipgloss.NewStyle().Foreground(channelColors[ch%len(channelColors)]).
			Render(fmt.Sprintf("ch%-2d", ch))
		last := strconv.Itoa(int(values[len(values)-1]))
		rows = append(rows, fmt.Sprintf("%s %s %6s", label, sparkline(values, maxValue), last))
	}
	if !displayEnabled {
		rows = append(rows, warnStyle.Render("display paused"))
	}
	return strings.Join(rows, "\n")
}

// sparkline maps values in [0, max] onto eight block heights.
func sparkline(values []int32, max int64) string {
	var sb strings.Builder
	top := len(sparks) - 1
	for _, v := range values {
		idx := 0
		if max > 0 && v > 0 {
			idx = int(int64(v) * int64(top) / max)
		}
		if idx > top {
			idx = top
		}
		sb.WriteRune(sparks[idx])
	}
	return sb.String()
}
