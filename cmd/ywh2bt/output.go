package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/yeswehack/ywh2bugtracker/internal/debug"
	"github.com/yeswehack/ywh2bugtracker/internal/sync"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

func init() {
	// Honors NO_COLOR and non-TTY output.
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
}

// progressListener renders synchronization events as they happen.
type progressListener struct{}

func (progressListener) Handle(ev sync.Event) {
	switch e := ev.(type) {
	case sync.StartingPlatform:
		debug.PrintNormal("Platform %s\n", e.Platform)
	case sync.StartingProgram:
		debug.PrintNormal("  Program %s\n", e.Program)
	case sync.EndedProgram:
		if e.Err == nil {
			debug.PrintNormal("  Program %s: %d report(s)\n", e.Program, e.Reports)
		}
	case sync.EndedReportTracker:
		printPairResult(e)
	case sync.TestResult:
		if e.Err != nil {
			fmt.Printf("%s %s %s: %v\n", failStyle.Render("FAIL"), e.Kind, e.Name, e.Err)
		} else {
			fmt.Printf("%s %s %s\n", okStyle.Render("OK"), e.Kind, e.Name)
		}
	}
}

func printPairResult(e sync.EndedReportTracker) {
	label := fmt.Sprintf("    #%d -> %s", e.Report.ID, e.Tracker)
	if e.Err != nil {
		fmt.Printf("%s %s: %v\n", failStyle.Render("FAIL"), label, e.Err)
		return
	}
	res := e.Result
	switch {
	case res.New && res.Stale:
		debug.PrintNormal("%s %s: recreated as issue %s (stale mapping)\n", okStyle.Render("SYNC"), label, res.Issue.ID)
	case res.New:
		debug.PrintNormal("%s %s: created issue %s\n", okStyle.Render("SYNC"), label, res.Issue.ID)
	case res.Changed():
		debug.PrintNormal("%s %s: %d sent, %d mirrored\n", okStyle.Render("SYNC"),
			label, len(res.SentLogIDs), len(res.MirroredCommentIDs))
	default:
		debug.Logf("%s %s: up to date\n", dimStyle.Render("skip"), label)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", warnStyle.Render("WARN"), label, w)
	}
}

// totpPrompt asks the user for a one-time code when the platform account
// has MFA enabled. It refuses to block when stdin is not a terminal.
func totpPrompt() (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return "", errors.New("TOTP code required but stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "TOTP code: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading TOTP code: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return "", errors.New("empty TOTP code")
	}
	return code, nil
}
