// Package tui is a terminal layer panel over the viewer: layer visibility,
// counts for a fixed viewport and a paged attribute table.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/paulmach/orb"

	"github.com/giscaleing/visor-sig/internal/service"
)

type countsMsg struct {
	err error
}

type tableMsg struct {
	page service.TablePage
	err  error
}

type toggledMsg struct {
	layer service.LayerDescriptor
	err   error
}

// Model is the Bubble Tea model of the layer panel.
type Model struct {
	ctx    context.Context
	viewer *service.Viewer
	bounds orb.Bound

	width  int
	height int

	layers   []service.LayerDescriptor
	counts   map[string]service.Counts
	cursor   int
	fetching bool
	spin     spinner.Model

	showTable bool
	loading   bool
	page      service.TablePage
	tbl       table.Model

	status string
	err    error
}

// New creates the panel for viewport b.
func New(ctx context.Context, v *service.Viewer, b orb.Bound) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle

	t := table.New(table.WithFocused(true), table.WithHeight(12))
	st := table.DefaultStyles()
	st.Header = st.Header.BorderStyle(lipgloss.NormalBorder()).BorderForeground(borderCol).BorderBottom(true).Bold(true)
	st.Selected = st.Selected.Foreground(accentFg).Bold(false)
	t.SetStyles(st)

	m := Model{
		ctx:    ctx,
		viewer: v,
		bounds: b,
		spin:   s,
		tbl:    t,
		counts: map[string]service.Counts{},
		status: "visor ready",
	}
	m.reloadLayers()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.refreshCounts())
}

func (m *Model) reloadLayers() {
	layers, err := m.viewer.Layers()
	if err != nil {
		m.err = err
		return
	}
	m.layers = layers
	if m.cursor >= len(layers) {
		m.cursor = max(len(layers)-1, 0)
	}
}

func (m *Model) refreshCounts() tea.Cmd {
	m.fetching = true
	ctx, v, b := m.ctx, m.viewer, m.bounds
	return func() tea.Msg {
		_, err := v.RefreshCounts(ctx, b)
		return countsMsg{err: err}
	}
}

func (m *Model) loadTable() tea.Cmd {
	m.loading = true
	ctx, v, b := m.ctx, m.viewer, m.bounds
	return func() tea.Msg {
		page, err := v.LoadTable(ctx, b)
		return tableMsg{page: page, err: err}
	}
}

func (m Model) selected() (service.LayerDescriptor, bool) {
	if m.cursor < 0 || m.cursor >= len(m.layers) {
		return service.LayerDescriptor{}, false
	}
	return m.layers[m.cursor], true
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.tbl.SetWidth(max(msg.Width-4, 20))
		m.tbl.SetHeight(max(msg.Height-8, 5))
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case countsMsg:
		if errors.Is(msg.err, service.ErrSuperseded) {
			return m, nil
		}
		m.fetching = false
		m.err = msg.err
		m.counts, _ = m.viewer.Counts()
		m.reloadLayers()
		return m, nil

	case toggledMsg:
		m.err = msg.err
		if msg.err != nil {
			return m, nil
		}
		state := "hidden"
		if msg.layer.Active {
			state = "shown"
		}
		m.status = fmt.Sprintf("%s %s", msg.layer.Label, state)
		m.reloadLayers()
		cmd := m.refreshCounts()
		return m, cmd

	case tableMsg:
		if errors.Is(msg.err, service.ErrSuperseded) {
			return m, nil
		}
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.page = msg.page
			m.fillTable()
		}
		return m, nil

	case tea.KeyMsg:
		if m.showTable {
			return m.updateTable(msg)
		}
		return m.updatePanel(msg)
	}
	return m, nil
}

func (m Model) updatePanel(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.layers)-1 {
			m.cursor++
		}
	case " ", "enter":
		l, ok := m.selected()
		if !ok {
			return m, nil
		}
		ctx, v := m.ctx, m.viewer
		return m, func() tea.Msg {
			updated, err := v.SetActive(ctx, l.ID, !l.Active)
			return toggledMsg{layer: updated, err: err}
		}
	case "r":
		cmd := m.refreshCounts()
		return m, cmd
	case "t":
		l, ok := m.selected()
		if !ok {
			return m, nil
		}
		if err := m.viewer.OpenTable(l.ID); err != nil {
			m.err = err
			return m, nil
		}
		m.showTable = true
		m.page = service.TablePage{}
		cmd := m.loadTable()
		return m, cmd
	case "x":
		l, ok := m.selected()
		if !ok {
			return m, nil
		}
		if err := m.viewer.RemoveLayer(l.ID); err != nil {
			m.err = err
			return m, nil
		}
		m.status = fmt.Sprintf("%s removed", l.Label)
		m.reloadLayers()
	}
	return m, nil
}

func (m Model) updateTable(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "esc":
		m.viewer.CloseTable()
		m.showTable = false
		return m, nil
	case "right", "n":
		m.viewer.NextTablePage()
		cmd := m.loadTable()
		return m, cmd
	case "left", "p":
		m.viewer.PrevTablePage()
		cmd := m.loadTable()
		return m, cmd
	}
	var cmd tea.Cmd
	m.tbl, cmd = m.tbl.Update(msg)
	return m, cmd
}

// fillTable maps the loaded page onto the bubbles table. Rows are cleared
// before the columns change so they never disagree in width.
func (m *Model) fillTable() {
	names := m.page.VisibleColumns()
	cols := make([]table.Column, len(names))
	for i, n := range names {
		cols[i] = table.Column{Title: n, Width: min(max(len(n)+2, 8), 24)}
	}
	rows := make([]table.Row, len(m.page.Rows))
	for i, r := range m.page.Rows {
		rows[i] = table.Row(r)
	}
	m.tbl.SetRows(nil)
	m.tbl.SetColumns(cols)
	m.tbl.SetRows(rows)
}

func (m Model) View() string {
	var b strings.Builder
	if m.showTable {
		b.WriteString(m.tableView())
	} else {
		b.WriteString(m.panelView())
	}
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()))
	} else {
		b.WriteString(dimStyle.Render(m.status))
	}
	return appStyle.Render(b.String())
}

func (m Model) panelView() string {
	var b strings.Builder
	title := titleStyle.Render("Capas")
	if m.fetching {
		title += " " + m.spin.View()
	}
	b.WriteString(title + "\n")
	for i, l := range m.layers {
		mark := "[ ]"
		if l.Active {
			mark = "[x]"
		}
		count := "-"
		if c, ok := m.counts[l.ID]; ok {
			count = fmt.Sprintf("%d / %d", c.Visible, c.Total)
		}
		line := fmt.Sprintf("%s %-32s %12s", mark, l.Label, count)
		if i == m.cursor {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}
	b.WriteString(dimStyle.Render("space toggle  t table  x remove filter  r recount  q quit"))
	return boxStyle.Render(b.String())
}

func (m Model) tableView() string {
	var b strings.Builder
	p := m.page.Pagination
	header := titleStyle.Render(m.page.LayerName)
	if m.loading {
		header += " " + m.spin.View()
	}
	b.WriteString(header + "\n")
	if len(m.page.Rows) == 0 && !m.loading {
		b.WriteString(dimStyle.Render("No features inside the viewport") + "\n")
	} else {
		b.WriteString(m.tbl.View() + "\n")
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("page %d of %d  (%d features)  ←/→ page  esc close", p.Page, m.page.TotalPages, p.Total)))
	return boxStyle.Render(b.String())
}
