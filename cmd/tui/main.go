package main

import (
	"flag"
	"log"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"tiktok-extractor/internal/app"
	"tiktok-extractor/internal/tui"
)

func main() {
	configPath := flag.String("config", "", "Configuration directory")
	flag.Parse()

	// the alternate screen owns stdout
	a, err := app.New(*configPath, app.WithLogger(zerolog.Nop()))
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	p := tea.NewProgram(tui.NewModel(a.Downloader, a.Storage), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
}
