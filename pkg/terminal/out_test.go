package terminal

import (
	"bytes"
	"testing"

	"github.com/go-delve/dbgcheck/pkg/verify"
)

func TestPaint(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutputTo(&buf, true)
	if got := out.Paint(verify.Passed, "ok"); got != terminalGreenEscapeCode+"ok"+terminalResetEscapeCode {
		t.Errorf("passed: %q", got)
	}
	if got := out.Paint(verify.Failed, "ko"); got != terminalRedEscapeCode+"ko"+terminalResetEscapeCode {
		t.Errorf("failed: %q", got)
	}
	if got := out.Paint(verify.Skipped, "skip"); got != terminalYellowEscapeCode+"skip"+terminalResetEscapeCode {
		t.Errorf("skipped: %q", got)
	}

	plain := NewOutputTo(&buf, false)
	if got := plain.Paint(verify.Failed, "ko"); got != "ko" {
		t.Errorf("no color: %q", got)
	}
}

func TestReporterIsBuffered(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutputTo(&buf, false)
	r := out.Reporter()
	r.Start("WASM")
	r.CaseStarted("test_enum_display")
	if buf.Len() != 0 {
		t.Fatalf("output written before flush: %q", buf.String())
	}
	if err := out.Flush(); err != nil {
		t.Fatal(err)
	}
	const want = "==== Commencing WASM debugging testing ====\n== [test_enum_display] started\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
