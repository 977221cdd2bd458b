package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tiktok-extractor/internal/downloader"
	"tiktok-extractor/internal/utils"
	"tiktok-extractor/pkg/models"
)

// collectionLimit caps how many entries of a collection the TUI lists
const collectionLimit = 50

// Backend runs extractions and downloads for the TUI
type Backend interface {
	Process(ctx context.Context, rawURL string, opts downloader.Options) (*downloader.Result, error)
	DownloadRecord(ctx context.Context, record *models.MediaRecord, opts downloader.Options) (string, error)
}

// Model represents the main application state
type Model struct {
	state   State
	backend Backend
	storage models.Storage

	urlInput textinput.Model
	formats  table.Model
	entries  table.Model
	history  table.Model

	result *downloader.Result
	record *models.MediaRecord
	status string
	err    error
	busy   bool

	width  int
	height int
	styles Styles
}

// State represents different screens/states of the TUI
type State int

const (
	MainMenu State = iota
	ExtractScreen
	FormatsScreen
	EntriesScreen
	HistoryScreen
	Help
)

// Styles holds all the styling for the TUI
type Styles struct {
	title     lipgloss.Style
	subtitle  lipgloss.Style
	menuItem  lipgloss.Style
	input     lipgloss.Style
	statusBar lipgloss.Style
	errorText lipgloss.Style
	table     lipgloss.Style
}

type extractDoneMsg struct {
	result *downloader.Result
	err    error
}

type downloadDoneMsg struct {
	path string
	err  error
}

type historyMsg struct {
	records []*models.MediaRecord
	err     error
}

// NewModel creates the initial model. storage may be nil, which hides the
// history screen.
func NewModel(backend Backend, storage models.Storage) Model {
	ti := textinput.New()
	ti.Placeholder = "https://www.tiktok.com/@user/video/123..."
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 60

	return Model{
		state:    MainMenu,
		backend:  backend,
		storage:  storage,
		urlInput: ti,
		formats: newTable([]table.Column{
			{Title: "#", Width: 3},
			{Title: "Format", Width: 28},
			{Title: "Resolution", Width: 11},
			{Title: "Codec", Width: 6},
			{Title: "Size", Width: 10},
			{Title: "Note", Width: 24},
		}),
		entries: newTable([]table.Column{
			{Title: "ID", Width: 20},
			{Title: "Uploader", Width: 16},
			{Title: "Title", Width: 36},
			{Title: "Duration", Width: 9},
		}),
		history: newTable([]table.Column{
			{Title: "Platform", Width: 8},
			{Title: "ID", Width: 20},
			{Title: "Title", Width: 32},
			{Title: "Status", Width: 11},
		}),
		styles: defaultStyles(),
	}
}

func newTable(columns []table.Column) table.Model {
	return table.New(
		table.WithColumns(columns),
		table.WithRows([]table.Row{}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
}

func defaultStyles() Styles {
	return Styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			PaddingTop(1).
			PaddingBottom(1),
		subtitle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			PaddingBottom(1),
		menuItem: lipgloss.NewStyle().
			PaddingLeft(2).
			PaddingRight(2).
			Margin(0, 1),
		input: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(1),
		statusBar: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Padding(0, 1),
		errorText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")),
		table: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")),
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case extractDoneMsg:
		return m.onExtracted(msg), nil

	case downloadDoneMsg:
		m.busy = false
		m.err = msg.err
		if msg.err == nil {
			m.status = "Saved to " + msg.path
		} else {
			m.status = ""
		}
		return m, nil

	case historyMsg:
		m.err = msg.err
		m.history.SetRows(historyRows(msg.records))
		return m, nil

	case tea.KeyMsg:
		if next, cmd, handled := m.handleKey(msg); handled {
			return next, cmd
		}
	}

	var cmd tea.Cmd
	switch m.state {
	case ExtractScreen:
		m.urlInput, cmd = m.urlInput.Update(msg)
	case FormatsScreen:
		m.formats, cmd = m.formats.Update(msg)
	case EntriesScreen:
		m.entries, cmd = m.entries.Update(msg)
	case HistoryScreen:
		m.history, cmd = m.history.Update(msg)
	}
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	key := msg.String()
	if key == "ctrl+c" || (key == "q" && m.state != ExtractScreen) {
		return m, tea.Quit, true
	}

	switch m.state {
	case MainMenu:
		switch key {
		case "1":
			m.state = ExtractScreen
			return m, textinput.Blink, true
		case "2":
			if m.storage == nil {
				return m, nil, true
			}
			m.state = HistoryScreen
			return m, m.loadHistory(), true
		case "3":
			m.state = Help
			return m, nil, true
		}

	case ExtractScreen:
		switch key {
		case "esc":
			m.state = MainMenu
			return m, nil, true
		case "enter":
			rawURL := strings.TrimSpace(m.urlInput.Value())
			if rawURL == "" || m.busy {
				return m, nil, true
			}
			m.busy = true
			m.err = nil
			m.status = "Extracting " + rawURL
			return m, m.extract(rawURL), true
		}

	case FormatsScreen:
		switch key {
		case "esc":
			if m.result != nil && m.result.Playlist != nil {
				m.state = EntriesScreen
			} else {
				m.state = ExtractScreen
			}
			return m, nil, true
		case "d", "enter":
			format := m.selectedFormat()
			if format == nil || m.busy {
				return m, nil, true
			}
			m.busy = true
			m.err = nil
			m.status = "Downloading " + format.FormatID
			return m, m.download(m.record, format.FormatID), true
		}

	case EntriesScreen:
		switch key {
		case "esc":
			m.state = ExtractScreen
			return m, nil, true
		case "enter":
			if record := m.selectedEntry(); record != nil {
				m.showRecord(record)
			}
			return m, nil, true
		}

	case HistoryScreen, Help:
		if key == "esc" {
			m.state = MainMenu
			return m, nil, true
		}
	}

	return m, nil, false
}

func (m Model) onExtracted(msg extractDoneMsg) Model {
	m.busy = false
	m.status = ""
	m.err = msg.err
	m.result = msg.result

	if msg.result == nil {
		return m
	}
	switch {
	case msg.result.Playlist != nil:
		m.entries.SetRows(entryRows(msg.result.Entries))
		m.entries.SetCursor(0)
		m.state = EntriesScreen
	case msg.result.Record != nil:
		m.showRecord(msg.result.Record)
	}
	return m
}

func (m *Model) showRecord(record *models.MediaRecord) {
	m.record = record
	m.formats.SetRows(formatRows(record.Formats))
	m.formats.SetCursor(0)
	m.state = FormatsScreen
}

// selectedFormat maps the table cursor back to the record's formats. Rows
// are listed best first while formats are stored best last.
func (m Model) selectedFormat() *models.Format {
	if m.record == nil || len(m.record.Formats) == 0 {
		return nil
	}
	cursor := m.formats.Cursor()
	if cursor < 0 || cursor >= len(m.record.Formats) {
		return nil
	}
	return &m.record.Formats[len(m.record.Formats)-1-cursor]
}

func (m Model) selectedEntry() *models.MediaRecord {
	if m.result == nil {
		return nil
	}
	cursor := m.entries.Cursor()
	if cursor < 0 || cursor >= len(m.result.Entries) {
		return nil
	}
	return m.result.Entries[cursor]
}

func (m Model) extract(rawURL string) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		result, err := backend.Process(context.Background(), rawURL, downloader.Options{Limit: collectionLimit})
		return extractDoneMsg{result: result, err: err}
	}
}

func (m Model) download(record *models.MediaRecord, formatID string) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		path, err := backend.DownloadRecord(context.Background(), record, downloader.Options{FormatID: formatID})
		return downloadDoneMsg{path: path, err: err}
	}
}

func (m Model) loadHistory() tea.Cmd {
	storage := m.storage
	return func() tea.Msg {
		records, err := storage.ListRecords(models.RecordFilter{
			Limit:     100,
			OrderBy:   "collected_at",
			OrderDesc: true,
		})
		return historyMsg{records: records, err: err}
	}
}

func formatRows(formats []models.Format) []table.Row {
	rows := make([]table.Row, 0, len(formats))
	for i := len(formats) - 1; i >= 0; i-- {
		f := formats[i]
		resolution := ""
		if f.Width > 0 && f.Height > 0 {
			resolution = fmt.Sprintf("%dx%d", f.Width, f.Height)
		}
		size := ""
		if f.Filesize > 0 {
			size = utils.FormatBytes(f.Filesize)
		}
		rows = append(rows, table.Row{
			strconv.Itoa(len(rows) + 1),
			f.FormatID,
			resolution,
			f.VCodec,
			size,
			f.FormatNote,
		})
	}
	return rows
}

func entryRows(records []*models.MediaRecord) []table.Row {
	rows := make([]table.Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, table.Row{
			r.ID,
			r.Uploader,
			r.Title,
			utils.FormatDuration(time.Duration(r.Duration) * time.Second),
		})
	}
	return rows
}

func historyRows(records []*models.MediaRecord) []table.Row {
	rows := make([]table.Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, table.Row{string(r.Platform), r.ID, r.Title, r.Status})
	}
	return rows
}

// View renders the UI
func (m Model) View() string {
	var content string
	switch m.state {
	case ExtractScreen:
		content = m.renderExtractScreen()
	case FormatsScreen:
		content = m.renderFormats()
	case EntriesScreen:
		content = m.renderEntries()
	case HistoryScreen:
		content = m.renderHistory()
	case Help:
		content = m.renderHelp()
	default:
		content = m.renderMainMenu()
	}

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
}

func (m Model) statusLine() string {
	if m.err != nil {
		return m.styles.errorText.Render("Error: " + m.err.Error())
	}
	return m.styles.statusBar.Render(m.status)
}

func (m Model) renderMainMenu() string {
	menu := []string{"1. Extract URL"}
	if m.storage != nil {
		menu = append(menu, "2. History")
	}
	menu = append(menu, "3. Help", "", "q. Quit")

	items := make([]string, len(menu))
	for i, item := range menu {
		if item != "" {
			item = m.styles.menuItem.Render(item)
		}
		items[i] = item
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.title.Render("TikTok Extractor"),
		m.styles.subtitle.Render("Videos and collections from TikTok and Douyin"),
		"",
		strings.Join(items, "\n"),
	)
}

func (m Model) renderExtractScreen() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.title.Render("Extract"),
		"Video, user, sound, effect or tag URL:",
		m.styles.input.Render(m.urlInput.View()),
		"",
		m.statusLine(),
		"",
		"Enter to extract • ESC to go back",
	)
}

func (m Model) renderFormats() string {
	title := "Formats"
	if m.record != nil {
		title = fmt.Sprintf("%s by %s", m.record.Title, m.record.Uploader)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.title.Render(title),
		m.styles.table.Render(m.formats.View()),
		"",
		m.statusLine(),
		"↑/↓ to choose • d to download • ESC to go back",
	)
}

func (m Model) renderEntries() string {
	title := "Collection"
	if m.result != nil && m.result.Playlist != nil {
		p := m.result.Playlist
		title = fmt.Sprintf("%s %s (%d entries)", p.Kind, p.Title, len(m.result.Entries))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.title.Render(title),
		m.styles.table.Render(m.entries.View()),
		"",
		m.statusLine(),
		"↑/↓ to navigate • Enter for formats • ESC to go back",
	)
}

func (m Model) renderHistory() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.title.Render("History"),
		m.styles.table.Render(m.history.View()),
		"",
		m.statusLine(),
		"↑/↓ to navigate • ESC to go back",
	)
}

func (m Model) renderHelp() string {
	helpText := []string{
		"Navigation:",
		"• Number keys select menu items",
		"• ESC goes back",
		"• q or Ctrl+C quits",
		"",
		"Supported URLs:",
		"• https://www.tiktok.com/@user/video/123",
		"• https://www.tiktok.com/@user",
		"• https://www.tiktok.com/music/name-123",
		"• https://www.tiktok.com/sticker/name-123",
		"• https://www.tiktok.com/tag/name",
		"• https://vm.tiktok.com/abc/",
		"• https://www.douyin.com/video/123",
		"",
		"Formats are listed best first.",
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.title.Render("Help"),
		strings.Join(helpText, "\n"),
		"",
		"ESC to go back",
	)
}
