// Package ledger defines the persisted data model described in spec §3/§6
// and the routines to load and atomically save it. The ledger is the single
// piece of state the Correlator owns; it is read once at startup and
// rewritten wholesale on every flush (§4.3 op 4).
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ProcessRecord is the ledger entry keyed by executable path (§3).
// Fields are declared in JSON-key order so Save emits sorted keys.
type ProcessRecord struct {
	Cmdlines        []string          `json:"cmdlines"`
	DaysSeen        int               `json:"days seen"`
	FirstSeen       string            `json:"first seen"`
	LastSeen        string            `json:"last seen"`
	Name            string            `json:"name"`
	Ports           []int             `json:"ports"`
	RemoteAddresses []string          `json:"remote addresses"`
	Results         map[string]string `json:"results"`
}

// Config holds the operator-tunable knobs described in spec §6. It lives
// embedded in the ledger JSON and is loaded/saved as part of it.
type Config struct {
	OnlyLogConnections bool     `json:"Only log connections"`
	RemoteAddressUnlog []string `json:"Remote address unlog"`
	VTAPIKey           string   `json:"VT API key"`
	VTFileUpload       bool     `json:"VT file upload"`
	VTLastRequest      float64  `json:"VT last request"`
	VTLimitRequest     float64  `json:"VT limit request"`
}

// DefaultConfig returns the Config populated with the defaults a first-run
// ledger is seeded with.
func DefaultConfig() Config {
	return Config{
		OnlyLogConnections: true,
		RemoteAddressUnlog: []string{},
		VTLimitRequest:     15,
	}
}

// Ledger is the top-level persisted document (spec §6).
type Ledger struct {
	Config          Config                    `json:"Config"`
	Errors          []string                  `json:"Errors"`
	LatestEntries   []string                  `json:"Latest Entries"`
	Names           map[string][]string       `json:"Names"`
	Processes       map[string]*ProcessRecord `json:"Processes"`
	RemoteAddresses map[string][]string       `json:"Remote Addresses"`

	// Template is true only for a freshly-created ledger; it is stripped
	// before the first real write (spec §6, §8 property 8). It uses
	// omitempty so that once cleared it disappears from the JSON entirely
	// rather than round-tripping as `"Template": false`.
	Template bool `json:"Template,omitempty"`
}

// New returns an empty, freshly-initialized Ledger with the first-run
// Template marker set and the default Config.
func New() *Ledger {
	return &Ledger{
		Config:          DefaultConfig(),
		Errors:          []string{},
		LatestEntries:   []string{},
		Names:           map[string][]string{},
		Processes:       map[string]*ProcessRecord{},
		RemoteAddresses: map[string][]string{},
		Template:        true,
	}
}

// Path returns the default ledger path for the given home directory, per
// spec §6: "<user-home>/.config/picosnitch/snitch.json".
func Path(home string) string {
	return filepath.Join(home, ".config", "picosnitch", "snitch.json")
}

// Load reads and parses the ledger at path. If the file does not exist, a
// fresh Ledger (with the Template marker set) is returned instead of an
// error, matching the "first run" contract of spec §6.
func Load(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %q: %w", path, err)
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("ledger: parse %q: %w", path, err)
	}
	decodeFromJSON(&l)
	if l.Errors == nil {
		l.Errors = []string{}
	}
	if l.LatestEntries == nil {
		l.LatestEntries = []string{}
	}
	if l.Names == nil {
		l.Names = map[string][]string{}
	}
	if l.Processes == nil {
		l.Processes = map[string]*ProcessRecord{}
	}
	if l.RemoteAddresses == nil {
		l.RemoteAddresses = map[string][]string{}
	}
	return &l, nil
}

// Save atomically writes the ledger to path as indented JSON with sorted
// keys (Go's encoding/json already sorts map keys), creating the parent
// directory if it doesn't exist (spec §4.3 op 4). The Template marker, if
// still set, is cleared first — it is only ever present in the very first
// load (spec §8 property 8).
//
// The write is atomic at the directory level: the document is written to a
// temporary file in the same directory and renamed over the destination, so
// a crash mid-write never leaves a truncated ledger behind.
func Save(path string, l *Ledger) error {
	l.Template = false

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledger: create dir %q: %w", dir, err)
	}

	data, err := json.MarshalIndent(escapeForJSON(l), "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snitch-*.json.tmp")
	if err != nil {
		return fmt.Errorf("ledger: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("ledger: rename into place: %w", err)
	}
	return nil
}

// Size returns the serialized size of the ledger in bytes, used by the
// Correlator's persist-on-change logic (spec §4.3 op 4, §5).
func (l *Ledger) Size() int {
	data, err := json.Marshal(l)
	if err != nil {
		return -1
	}
	return len(data)
}
