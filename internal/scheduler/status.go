package scheduler

import (
	"fmt"
	"time"
)

// Status messages reported by the workers and the controller.
const (
	StatusStarting = "Starting..."
	StatusStopped  = "Stopped"
	StatusPosted   = "Posted"
	StatusFailed   = "Failed"
	StatusChecking = "Checking..."
)

const (
	summaryLen   = 50
	emptySummary = "No message"
)

// Reporter observes status changes. Implementations must return quickly;
// they are called from the worker goroutines.
type Reporter interface {
	Report(channel string, running bool, message, summary string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(channel string, running bool, message, summary string)

// Report calls f.
func (f ReporterFunc) Report(channel string, running bool, message, summary string) {
	f(channel, running, message, summary)
}

// ChannelStatus is a point-in-time view of one channel.
type ChannelStatus struct {
	Channel     string
	Kind        string
	Running     bool
	Status      string
	CurrentPost string
	Interval    time.Duration
}

// Summarize shortens a message for status display.
func Summarize(message string) string {
	if message == "" {
		return emptySummary
	}
	r := []rune(message)
	if len(r) > summaryLen {
		return string(r[:summaryLen]) + "..."
	}
	return message
}

func postingStatus(n int) string { return fmt.Sprintf("Posting... (Post #%d)", n) }

func syncedStatus(n int) string { return fmt.Sprintf("Synced (Post #%d)", n) }
