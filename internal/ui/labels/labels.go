// Package labels renders measurement state as short display strings for the
// tray menu.
package labels

import (
	"fmt"
	"strings"

	"github.com/pulsecam/pulsecam-agent/internal/measurement"
)

// StatusTitle is the status menu line for snap. Paused only shows while idle.
func StatusTitle(snap measurement.Snapshot, paused bool) string {
	switch snap.State {
	case measurement.StateRecording:
		return "Status: Recording"
	case measurement.StateProcessing:
		return "Status: Processing"
	case measurement.StateResult:
		return fmt.Sprintf("Heart rate: %d BPM", snap.BPM)
	case measurement.StateError:
		return "Error: " + truncate(snap.Error, 48)
	default:
		if paused {
			return "Status: Paused"
		}
		return "Status: Idle"
	}
}

// BarTitle is the text next to the tray icon.
func BarTitle(snap measurement.Snapshot) string {
	switch snap.State {
	case measurement.StateResult:
		return fmt.Sprintf("%d BPM", snap.BPM)
	case measurement.StateProcessing:
		return "..."
	default:
		return "PulseCam"
	}
}

func HistoryTitle(n int) string {
	if n == 1 {
		return "1 measurement"
	}
	return fmt.Sprintf("%d measurements", n)
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
