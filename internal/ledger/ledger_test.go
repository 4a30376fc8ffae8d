package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"
)

func TestLoadMissingFileReturnsTemplate(t *testing.T) {
	dir := t.TempDir()
	l, err := Load(filepath.Join(dir, "snitch.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !l.Template {
		t.Errorf("expected Template marker on a fresh ledger")
	}
	if !l.Config.OnlyLogConnections {
		t.Errorf("expected default OnlyLogConnections=true")
	}
}

func TestSaveClearsTemplateMarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snitch.json")

	l := New()
	if err := Save(path, l); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Template {
		t.Errorf("Template marker should be absent after the first write (spec §8 property 8)")
	}

	// A second save/load cycle must keep it absent.
	if err := Save(path, reloaded); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	twice, err := Load(path)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if twice.Template {
		t.Errorf("Template marker reappeared on a subsequent write")
	}
}

func TestRoundTripPreservesStructureAndNonUTF8(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snitch.json")

	// 0xff is never a valid UTF-8 lead or continuation byte: this is the raw,
	// unescaped path a real degenerate /proc/<pid>/exe read could hand the
	// Correlator, not a pre-escaped fixture.
	rawExe := "/bin/\xffx"

	l := New()
	l.Processes[rawExe] = &ProcessRecord{
		Name:            "weird",
		Cmdlines:        []string{"weird --flag"},
		FirstSeen:       "Mon Jan  1 00:00:00 2024",
		LastSeen:        "Mon Jan  1 00:00:00 2024",
		DaysSeen:        1,
		Ports:           []int{80, 443},
		RemoteAddresses: []string{"com.example.mail"},
		Results:         map[string]string{"0000000000000000000000000000000000000000000000000000000000000000": "File not analyzed (no api key)"},
	}
	l.Names["weird"] = []string{rawExe}
	l.LatestEntries = append(l.LatestEntries, "Mon Jan  1 00:00:00 2024 weird - "+rawExe)

	if err := Save(path, l); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved ledger: %v", err)
	}
	if !utf8.Valid(raw) {
		t.Fatalf("saved ledger file is not valid UTF-8: the raw exe path reached json.Marshal unescaped")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rec, ok := reloaded.Processes[rawExe]
	if !ok {
		t.Fatalf("process record missing after round trip: raw bytes did not survive escape/decode")
	}
	if rec.Name != "weird" || rec.DaysSeen != 1 || len(rec.Ports) != 2 {
		t.Errorf("process record fields mismatched after round trip: %+v", rec)
	}
	if len(reloaded.Names["weird"]) != 1 || reloaded.Names["weird"][0] != rawExe {
		t.Errorf("Names entry mismatched after round trip: %+v", reloaded.Names)
	}
	if len(reloaded.LatestEntries) != 1 || reloaded.LatestEntries[0] != "Mon Jan  1 00:00:00 2024 weird - "+rawExe {
		t.Errorf("LatestEntries entry mismatched after round trip: %+v", reloaded.LatestEntries)
	}
}
