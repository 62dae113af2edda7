package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jask/shelfwatch/internal/agent"
	"github.com/jask/shelfwatch/internal/camera"
	"github.com/jask/shelfwatch/internal/catalog"
	"github.com/jask/shelfwatch/internal/config"
	"github.com/jask/shelfwatch/internal/refstore"
	"github.com/jask/shelfwatch/internal/secrets"
	"github.com/jask/shelfwatch/internal/tui"
	"github.com/jask/shelfwatch/internal/vision"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if f, err := tea.LogToFile(filepath.Join(filepath.Dir(cfg.Storage.Path), "shelfwatch.log"), "shelfwatch"); err == nil {
		defer f.Close()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		log.Fatalf("mkdir db dir: %v", err)
	}
	if err := os.MkdirAll(cfg.Camera.SpoolDir, 0o755); err != nil {
		log.Fatalf("mkdir spool dir: %v", err)
	}

	refs, err := refstore.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("open reference store: %v", err)
	}
	defer refs.Close()

	if err := refs.SeedDefaults(ctx); err != nil {
		log.Fatalf("seed defaults: %v", err)
	}

	cat := catalog.Default()
	provider := vision.NewGeminiProvider(resolveAPIKey(cfg), cfg.Vision.Model, cfg.Vision.ImageModel)
	cam := &camera.SpoolDir{Dir: cfg.Camera.SpoolDir}

	events := make(chan struct{}, 8)
	sched := agent.New(cam, provider, cat, refs, agent.Config{
		Interval:     time.Duration(cfg.Agent.ScanIntervalSeconds) * time.Second,
		CaptureRetry: time.Duration(cfg.Agent.CaptureRetrySeconds) * time.Second,
	}, func() {
		select {
		case events <- struct{}{}:
		default:
		}
	})
	defer sched.Stop()

	p := tea.NewProgram(tui.New(ctx, cfg, sched, cam, cat, refs, events), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func resolveAPIKey(cfg config.Config) string {
	env := strings.TrimSpace(cfg.Vision.APIKeyEnv)
	if env == "" {
		env = "GEMINI_API_KEY"
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	if k, err := secrets.FetchAPIKey(); err == nil && k != "" {
		return k
	}
	return strings.TrimSpace(cfg.Vision.APIKey)
}
