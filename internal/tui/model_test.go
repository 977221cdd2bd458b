package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"tiktok-extractor/internal/downloader"
	"tiktok-extractor/pkg/models"
)

type fakeBackend struct {
	result     *downloader.Result
	err        error
	downloaded string
}

func (b *fakeBackend) Process(ctx context.Context, rawURL string, opts downloader.Options) (*downloader.Result, error) {
	return b.result, b.err
}

func (b *fakeBackend) DownloadRecord(ctx context.Context, record *models.MediaRecord, opts downloader.Options) (string, error) {
	b.downloaded = opts.FormatID
	return "/tmp/" + record.ID + ".mp4", nil
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// send feeds msg through Update and runs the returned command once,
// feeding its message back in when it is one of ours.
func send(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd == nil {
		return m
	}
	switch out := cmd().(type) {
	case extractDoneMsg, downloadDoneMsg, historyMsg:
		next, _ = m.Update(out)
		m = next.(Model)
	}
	return m
}

func sampleRecord() *models.MediaRecord {
	return &models.MediaRecord{
		ID:       "7106594312292453675",
		Title:    "dance",
		Uploader: "alice",
		Formats: []models.Format{
			{FormatID: "download_addr-0", Width: 576, Height: 1024, VCodec: "h264"},
			{FormatID: "play_addr-1", Width: 720, Height: 1280, VCodec: "h264"},
			{FormatID: "bytevc1_1080p-2", Width: 1080, Height: 1920, VCodec: "h265", Filesize: 2 << 20},
		},
	}
}

func TestExtractShowsFormatsBestFirst(t *testing.T) {
	backend := &fakeBackend{result: &downloader.Result{Record: sampleRecord()}}
	m := NewModel(backend, nil)

	m = send(t, m, runes("1"))
	if m.state != ExtractScreen {
		t.Fatalf("state = %v, want ExtractScreen", m.state)
	}

	m.urlInput.SetValue("https://www.tiktok.com/@alice/video/7106594312292453675")
	m = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.state != FormatsScreen {
		t.Fatalf("state = %v, want FormatsScreen", m.state)
	}
	rows := m.formats.Rows()
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0][1] != "bytevc1_1080p-2" || rows[0][2] != "1080x1920" || rows[0][4] != "2.0 MiB" {
		t.Errorf("first row = %v", rows[0])
	}
	if rows[2][1] != "download_addr-0" {
		t.Errorf("last row = %v", rows[2])
	}
}

func TestDownloadSelectedFormat(t *testing.T) {
	backend := &fakeBackend{result: &downloader.Result{Record: sampleRecord()}}
	m := NewModel(backend, nil)
	m = send(t, m, runes("1"))
	m.urlInput.SetValue("https://www.tiktok.com/@alice/video/7106594312292453675")
	m = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	m = send(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = send(t, m, runes("d"))

	if backend.downloaded != "play_addr-1" {
		t.Errorf("downloaded format = %q, want play_addr-1", backend.downloaded)
	}
	if m.busy || !strings.Contains(m.status, "7106594312292453675.mp4") {
		t.Errorf("busy = %v, status = %q", m.busy, m.status)
	}
}

func TestCollectionEntries(t *testing.T) {
	backend := &fakeBackend{result: &downloader.Result{
		Playlist: &models.PlaylistInfo{ID: "9", Kind: "sound", Title: "song"},
		Entries: []*models.MediaRecord{
			{ID: "1", Uploader: "a", Title: "one", Duration: 65},
			sampleRecord(),
		},
	}}
	m := NewModel(backend, nil)
	m = send(t, m, runes("1"))
	m.urlInput.SetValue("https://www.tiktok.com/music/song-9")
	m = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.state != EntriesScreen {
		t.Fatalf("state = %v, want EntriesScreen", m.state)
	}
	if got := len(m.entries.Rows()); got != 2 {
		t.Fatalf("entry rows = %d, want 2", got)
	}

	m = send(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.state != FormatsScreen || m.record == nil || m.record.ID != "7106594312292453675" {
		t.Fatalf("state = %v, record = %v", m.state, m.record)
	}

	m = send(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.state != EntriesScreen {
		t.Errorf("esc from formats went to %v, want EntriesScreen", m.state)
	}
}

func TestExtractError(t *testing.T) {
	backend := &fakeBackend{err: errors.New("unsupported URL")}
	m := NewModel(backend, nil)
	m = send(t, m, runes("1"))
	m.urlInput.SetValue("https://example.com")
	m = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.state != ExtractScreen || m.err == nil {
		t.Errorf("state = %v, err = %v", m.state, m.err)
	}
	if !strings.Contains(m.View(), "unsupported URL") {
		t.Error("error not rendered")
	}
}

func TestTypingQDoesNotQuit(t *testing.T) {
	m := NewModel(&fakeBackend{}, nil)
	m = send(t, m, runes("1"))

	next, _ := m.Update(runes("q"))
	m = next.(Model)
	if m.urlInput.Value() != "q" {
		t.Errorf("input = %q, want q", m.urlInput.Value())
	}

	_, cmd := NewModel(&fakeBackend{}, nil).Update(runes("q"))
	if cmd == nil {
		t.Fatal("q on the menu returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q on the menu did not quit")
	}
}
