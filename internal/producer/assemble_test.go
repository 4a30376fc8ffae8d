package producer

import "testing"

func TestExecAssemblerBasic(t *testing.T) {
	a := newExecAssembler()
	a.AddArg(1, "sh", "/bin/sh")
	a.AddArg(1, "sh", "-c")
	a.AddArg(1, "sh", "echo hi")

	name, cmdline, ok := a.Finish(1)
	if !ok {
		t.Fatalf("Finish returned ok=false")
	}
	if name != "sh" {
		t.Errorf("name = %q, want sh", name)
	}
	if cmdline != "/bin/sh -c echo hi" {
		t.Errorf("cmdline = %q", cmdline)
	}
}

func TestExecAssemblerUnknownPidFinish(t *testing.T) {
	a := newExecAssembler()
	if _, _, ok := a.Finish(99); ok {
		t.Errorf("expected ok=false for a pid with no accumulated argv")
	}
}

func TestExecAssemblerTruncatesAt20WithSentinel(t *testing.T) {
	a := newExecAssembler()
	for i := 0; i < 25; i++ {
		a.AddArg(2, "prog", "arg")
	}
	_, cmdline, ok := a.Finish(2)
	if !ok {
		t.Fatalf("Finish returned ok=false")
	}
	// 20 "arg" entries plus one "..." sentinel, extras dropped.
	words := 0
	for _, r := range cmdline {
		if r == ' ' {
			words++
		}
	}
	if words != 20 {
		t.Errorf("expected 21 tokens (20 spaces), got %d spaces in %q", words, cmdline)
	}
	if cmdline[len(cmdline)-3:] != "..." {
		t.Errorf("expected trailing truncation sentinel, got %q", cmdline)
	}
}

func TestExecAssemblerEscapesEmbeddedNewlines(t *testing.T) {
	a := newExecAssembler()
	a.AddArg(3, "prog", "line1\nline2")
	_, cmdline, ok := a.Finish(3)
	if !ok {
		t.Fatalf("Finish returned ok=false")
	}
	if cmdline != `line1\nline2` {
		t.Errorf("cmdline = %q, want escaped newline", cmdline)
	}
}

func TestExecAssemblerAppendsToUnfinishedExec(t *testing.T) {
	a := newExecAssembler()
	a.AddArg(4, "old", "old-arg")
	// old exec never finished; pid re-used by a fresh execve
	a.AddArg(4, "new", "new-arg")
	name, cmdline, ok := a.Finish(4)
	if !ok {
		t.Fatalf("Finish returned ok=false")
	}
	if name != "old" {
		t.Errorf("name reflects the comm recorded at first AddArg, got %q", name)
	}
	if cmdline != "old-arg new-arg" {
		t.Errorf("cmdline = %q", cmdline)
	}
}
