package observability

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorBold     = "\033[1m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

var spinnerFrames = []string{"◜", "◝", "◞", "◟"}
var spinnerIdx = 0

// termMu synchronizes ALL terminal output so that the cursor
// save/restore in PrintLiveStatus can never be interrupted by a log write.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// termWriter is a mutex-guarded io.Writer for log output, serialised with
// PrintLiveStatus via termMu.
type termWriter struct{}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer suitable for log.SetOutput().
func NewTermWriter() *termWriter {
	return &termWriter{}
}

func PrintBanner() {
	fmt.Print("\033[2J\033[H")

	banner := `
   ___  ___  __    __       ___   _____  ____  _  __ ______
  / _ )/  _// /   / /      / _ | / ___/ / __/ / |/ //_  __/
 / _  |/ / / /__ / /__    / __ |/ (_ / / _/  /    /  / /
/____/___//____//____/   /_/ |_|\___/ /___/ /_/|_/  /_/

        >> MAILBOX · BILLS · REMINDERS <<
`

	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

func InitializeTerminal() {
	// Header: 1-9, status: 10, gap: 11, scrolling logs: 12+
	fmt.Print("\033[12;r")
	fmt.Print("\033[12;1H")
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// PrintLiveStatus redraws the status line on row 10.
func PrintLiveStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime).Round(time.Second)
	memMB := float64(m.Alloc) / 1024 / 1024

	role, task, lastHB := GetStatus()
	sent, failed := Deliveries()

	pulseText := "OFFLINE"
	pulseColor := colorNeonMag
	delta := time.Since(lastHB)
	if delta < 40*time.Second {
		pulseText = "HEALTHY"
		pulseColor = colorNeonCyan
	} else if delta < 90*time.Second {
		pulseText = "LAGGING"
		pulseColor = colorPurple
	}

	roleColor := colorReset
	switch role {
	case RoleExecutor:
		roleColor = colorNeonCyan
	case RoleDispatcher:
		roleColor = colorNeonMag
	}

	spinner := " "
	if role != RoleIdle {
		spinner = spinnerFrames[spinnerIdx]
		spinnerIdx = (spinnerIdx + 1) % len(spinnerFrames)
	}

	displayTask := task
	if displayTask == "" {
		displayTask = "Waiting..."
	}
	if r := []rune(displayTask); len(r) > 25 {
		displayTask = string(r[:22]) + "..."
	}

	statusStr := fmt.Sprintf(
		"\033[s\033[10;1H\033[K%s[%s] %s%s%s | %s%s%-10s%s [%s] %s%s%s [sent %d / failed %d] [%v] [%.1fMB]\033[u",
		colorReset,
		lastHB.Format("15:04:05"),
		pulseColor, pulseText, colorReset,
		colorBold, roleColor, role, colorReset,
		displayTask,
		colorPurple, spinner, colorReset,
		sent, failed,
		uptime,
		memMB,
	)

	termMu.Lock()
	fmt.Print(statusStr)
	termMu.Unlock()
}
