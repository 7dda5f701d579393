package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	cl "encore/internal/cli"
	"encore/internal/schedule"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

const timeLayout = "2006-01-02 15:04"

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptSecret hides input on a terminal and falls back to a plain line
// read when stdin is piped.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	for {
		fmt.Printf("%s: ", label)
		var text string
		if term.IsTerminal(fd) {
			raw, err := term.ReadPassword(fd)
			fmt.Println()
			if err != nil {
				return "", err
			}
			text = string(raw)
		} else {
			line, err := stdinReader.ReadString('\n')
			if err != nil && line == "" {
				return "", err
			}
			text = line
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderJobs(jobs []schedule.JobStatus, now time.Time) {
	accent.Println("\n== JOBS ==")
	if len(jobs) == 0 {
		printInfo("No job cursors seeded yet.")
		return
	}
	fmt.Printf("%-18s %-9s %-7s %-17s %-17s %-5s\n", "NAME", "FREQ", "ANCHOR", "LAST APPLIED", "NEXT", "DUE")
	for _, j := range jobs {
		due := neutral.Sprint("no")
		if j.Due {
			due = warn.Sprint("yes")
		}
		name := truncate(j.Name, 18)
		if !j.Registered {
			name = danger.Sprint(fmt.Sprintf("%-18s", name))
		} else {
			name = fmt.Sprintf("%-18s", name)
		}
		fmt.Printf("%s %-9s %-7s %-17s %-17s %s\n",
			name,
			j.Frequency,
			anchor(j),
			formatWhen(j.LastApplied, now),
			formatNext(j.Next),
			due,
		)
	}
	fmt.Println()
}

func renderRun(out cl.RunResult) {
	accent.Printf("\n== RUN %s ==\n", out.Job)
	fmt.Printf("Run ID:   %s\n", out.ID)
	fmt.Printf("Started:  %s\n", out.Started.Local().Format(timeLayout))
	fmt.Printf("Duration: %s\n", (time.Duration(out.DurationMS) * time.Millisecond).String())
	if out.OK {
		printSuccess("Job complete. Cursor advanced.")
	} else {
		printError("Job failed: " + out.Error)
	}
	fmt.Println()
}

func anchor(j schedule.JobStatus) string {
	switch {
	case j.Weekday != nil:
		return time.Weekday(*j.Weekday).String()[:3]
	case j.DayOfMonth > 0:
		return fmt.Sprintf("day %d", j.DayOfMonth)
	default:
		return "-"
	}
}

func formatWhen(t, now time.Time) string {
	if t.IsZero() || t.Unix() <= 0 {
		return "never"
	}
	if age := now.Sub(t); age >= 0 && age < 24*time.Hour {
		return fmt.Sprintf("%dh%02dm ago", int(age.Hours()), int(age.Minutes())%60)
	}
	return t.Local().Format(timeLayout)
}

func formatNext(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
