package ui

import (
	_ "embed"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/pulsecam/pulsecam-agent/internal/measurement"
	"github.com/pulsecam/pulsecam-agent/internal/ui/labels"
)

//go:embed icon.png
var iconBytes []byte

// StatusSource is the measurement state shown in the tray.
type StatusSource interface {
	Snapshot() measurement.Snapshot
	History() *measurement.History
	OnChange(fn func(measurement.Snapshot))
}

type Pausable interface {
	Pause()
	Resume()
	IsPaused() bool
}

type Tray struct {
	service StatusSource
	runner  Pausable
	logger  *slog.Logger

	statusItem  *systray.MenuItem
	historyItem *systray.MenuItem
	pauseItem   *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	Service StatusSource
	Runner  Pausable
	Logger  *slog.Logger
	OnQuit  func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		service: cfg.Service,
		runner:  cfg.Runner,
		logger:  cfg.Logger,
		onQuit:  cfg.OnQuit,
	}
}

// Run blocks until the tray exits. It must be called from the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("PulseCam")
	systray.SetTooltip("PulseCam Agent")

	t.statusItem = systray.AddMenuItem(labels.StatusTitle(t.service.Snapshot(), false), "Current measurement status")
	t.statusItem.Disable()

	t.historyItem = systray.AddMenuItem(labels.HistoryTitle(0), "Measurements this session")
	t.historyItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Pause queued measurements")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit PulseCam Agent")

	t.service.OnChange(func(measurement.Snapshot) { t.refresh() })
	t.refresh()

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) togglePause() {
	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
	} else {
		t.runner.Pause()
	}
	t.refresh()
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.statusItem == nil {
		return
	}

	paused := t.runner != nil && t.runner.IsPaused()
	snap := t.service.Snapshot()

	t.statusItem.SetTitle(labels.StatusTitle(snap, paused))
	t.historyItem.SetTitle(labels.HistoryTitle(t.service.History().Len()))
	systray.SetTitle(labels.BarTitle(snap))
	if paused {
		t.pauseItem.SetTitle("Resume")
	} else {
		t.pauseItem.SetTitle("Pause")
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}
