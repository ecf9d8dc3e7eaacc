package debug

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// capture swaps the given stream for a pipe, runs fn, and returns what fn
// wrote. stream must point at os.Stdout or os.Stderr.
func capture(t *testing.T, stream **os.File, fn func()) string {
	t.Helper()

	old := *stream
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	*stream = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		done <- buf.String()
	}()

	fn()

	w.Close()
	*stream = old
	return <-done
}

func resetState(t *testing.T) {
	t.Helper()
	oldEnabled, oldVerbose, oldQuiet := enabled, verboseMode, quietMode
	t.Cleanup(func() {
		enabled, verboseMode, quietMode = oldEnabled, oldVerbose, oldQuiet
	})
}

func TestEnvEnabled(t *testing.T) {
	tests := []struct {
		name  string
		value string
		set   bool
		want  bool
	}{
		{name: "unset", set: false, want: false},
		{name: "empty", value: "", set: true, want: false},
		{name: "one", value: "1", set: true, want: true},
		{name: "arbitrary value", value: "sync", set: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.set {
				t.Setenv("YWH2BT_DEBUG", tt.value)
			} else {
				t.Setenv("YWH2BT_DEBUG", "")
				os.Unsetenv("YWH2BT_DEBUG")
			}
			if got := envEnabled(); got != tt.want {
				t.Errorf("envEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnabledCombinesEnvAndVerbose(t *testing.T) {
	resetState(t)

	enabled = false
	verboseMode = false
	if Enabled() {
		t.Error("Enabled() = true with both switches off")
	}

	SetVerbose(true)
	if !Enabled() {
		t.Error("Enabled() = false after SetVerbose(true)")
	}

	SetVerbose(false)
	enabled = true
	if !Enabled() {
		t.Error("Enabled() = false with env switch on")
	}
}

func TestLogfGoesToStderr(t *testing.T) {
	resetState(t)
	enabled = true
	quietMode = false

	stdout := capture(t, &os.Stdout, func() {
		stderr := capture(t, &os.Stderr, func() {
			Logf("replaying %d comments for %s\n", 3, "YWH-PGM1-12")
		})
		if want := "replaying 3 comments for YWH-PGM1-12\n"; stderr != want {
			t.Errorf("stderr = %q, want %q", stderr, want)
		}
	})
	if stdout != "" {
		t.Errorf("Logf wrote to stdout: %q", stdout)
	}
}

func TestLogfSuppressedWhenDisabled(t *testing.T) {
	resetState(t)
	enabled = false
	verboseMode = false

	got := capture(t, &os.Stderr, func() {
		Logf("tracker %s: %v\n", "jira-internal", io.EOF)
	})
	if got != "" {
		t.Errorf("Logf wrote %q while disabled", got)
	}
}

func TestPrintf(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		verbose bool
		want    string
	}{
		{name: "disabled", want: ""},
		{name: "env enabled", enabled: true, want: "pushed log #42\n"},
		{name: "verbose flag", verbose: true, want: "pushed log #42\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetState(t)
			enabled = tt.enabled
			verboseMode = tt.verbose

			got := capture(t, &os.Stdout, func() {
				Printf("pushed log #%d\n", 42)
			})
			if got != tt.want {
				t.Errorf("stdout = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintNormalHonorsQuiet(t *testing.T) {
	resetState(t)

	quietMode = false
	got := capture(t, &os.Stdout, func() {
		PrintNormal("%s synchronized\n", "YWH-PGM1-7")
	})
	if !strings.Contains(got, "YWH-PGM1-7 synchronized") {
		t.Errorf("stdout = %q, want report line", got)
	}

	SetQuiet(true)
	got = capture(t, &os.Stdout, func() {
		PrintNormal("%s synchronized\n", "YWH-PGM1-7")
	})
	if got != "" {
		t.Errorf("quiet mode leaked output: %q", got)
	}
}

func TestPrintlnNormal(t *testing.T) {
	resetState(t)

	quietMode = false
	got := capture(t, &os.Stdout, func() {
		PrintlnNormal("2 trackers verified")
	})
	if want := "2 trackers verified\n"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}

	quietMode = true
	got = capture(t, &os.Stdout, func() {
		PrintlnNormal("2 trackers verified")
	})
	if got != "" {
		t.Errorf("quiet mode leaked output: %q", got)
	}
}

func TestSetQuietAndIsQuiet(t *testing.T) {
	resetState(t)

	SetQuiet(true)
	if !IsQuiet() {
		t.Error("IsQuiet() = false after SetQuiet(true)")
	}
	SetQuiet(false)
	if IsQuiet() {
		t.Error("IsQuiet() = true after SetQuiet(false)")
	}
}
