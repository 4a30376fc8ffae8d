package ipc

import (
	"bytes"
	"io"
	"testing"
)

func TestEventWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewEventWriter(&buf)

	events := []Event{
		{Type: KindExec, Exec: &Exec{Pid: 100, Name: "curl", Cmdline: "curl http://1.2.3.4/"}},
		{Type: KindConn, Conn: &Conn{Pid: 100, Family: FamilyV4, IP: "1.2.3.4", Port: 80}},
	}
	for _, e := range events {
		if err := w.Write(e); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	r := NewEventReader(&buf)
	for i, want := range events {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read event %d: %v", i, err)
		}
		if got.Type != want.Type {
			t.Errorf("event %d: type mismatch got=%s want=%s", i, got.Type, want.Type)
		}
	}
	if _, err := r.Read(); err != io.EOF {
		t.Errorf("expected io.EOF after draining frames, got %v", err)
	}
}

func TestErrorWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewErrorWriter(&buf)
	lines := []string{
		"Snitch subprocess permission error, requires root",
		"BPF perf_event_open(attr, -1, -1)",
	}
	for _, l := range lines {
		if err := w.Write(l); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	r := NewErrorReader(&buf)
	for i, want := range lines {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read line %d: %v", i, err)
		}
		if got != want {
			t.Errorf("line %d: got=%q want=%q", i, got, want)
		}
	}
	if _, err := r.Read(); err != io.EOF {
		t.Errorf("expected io.EOF after draining lines, got %v", err)
	}
}
