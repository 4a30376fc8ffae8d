package ledger

import (
	"strings"
	"unicode/utf8"
)

// escapeBase is the start of the Unicode Private Use Area block used to
// reversibly encode a single non-UTF-8 byte (0x80-0xFF) as one valid Unicode
// scalar value. Go's utf8 package refuses to encode or decode the surrogate
// range (U+D800-U+DFFF) that Python's "surrogateescape" error handler uses,
// and encoding/json substitutes U+FFFD for any string byte that isn't valid
// UTF-8 — so neither raw bytes nor true surrogates survive a Marshal/
// Unmarshal round trip. Mapping into the Private Use Area instead gives a
// byte encoding that is valid UTF-8 (so json.Marshal/Unmarshal pass it
// through unchanged) while remaining bijective with the escaped byte.
const escapeBase = rune(0xF780)

// EscapeBytes encodes raw bytes (e.g. a path read from /proc, which is not
// guaranteed to be valid UTF-8) into a Go string that survives
// encoding/json's UTF-8 validation unchanged, and that DecodeBytes can invert
// exactly. Valid UTF-8 runs are copied through untouched; every byte that is
// not part of a valid UTF-8 sequence is mapped to escapeBase+(byte-0x80).
func EscapeBytes(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(escapeBase + rune(b[i]&0x7F))
			i++
			continue
		}
		sb.WriteRune(r)
		i += size
	}
	return sb.String()
}

// DecodeBytes inverts EscapeBytes: private-use code points written by
// EscapeBytes are mapped back to the single raw byte they represent; every
// other rune round-trips as its UTF-8 encoding.
func DecodeBytes(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r >= escapeBase && r < escapeBase+0x80 {
			out = append(out, byte(0x80|(r-escapeBase)))
			continue
		}
		out = append(out, []byte(string(r))...)
	}
	return out
}

// escapeForJSON returns a deep copy of l with every string that can carry
// raw bytes off the host (executable paths, process names, cmdlines,
// remote-address labels) run through EscapeBytes, so Save's
// encoding/json.Marshal never silently replaces an invalid byte with
// U+FFFD (spec §6, §8 property 7). The original Ledger is left untouched:
// callers keep using raw bytes for everything that isn't JSON, notably
// sha256File's os.Open on proc.Exe.
func escapeForJSON(l *Ledger) *Ledger {
	out := &Ledger{
		Config:          l.Config,
		Errors:          l.Errors,
		LatestEntries:   make([]string, len(l.LatestEntries)),
		Names:           make(map[string][]string, len(l.Names)),
		Processes:       make(map[string]*ProcessRecord, len(l.Processes)),
		RemoteAddresses: make(map[string][]string, len(l.RemoteAddresses)),
		Template:        l.Template,
	}
	for i, e := range l.LatestEntries {
		out.LatestEntries[i] = EscapeBytes([]byte(e))
	}
	for name, exes := range l.Names {
		escExes := make([]string, len(exes))
		for i, e := range exes {
			escExes[i] = EscapeBytes([]byte(e))
		}
		out.Names[EscapeBytes([]byte(name))] = escExes
	}
	for exe, rec := range l.Processes {
		cmdlines := make([]string, len(rec.Cmdlines))
		for i, c := range rec.Cmdlines {
			cmdlines[i] = EscapeBytes([]byte(c))
		}
		remotes := make([]string, len(rec.RemoteAddresses))
		for i, r := range rec.RemoteAddresses {
			remotes[i] = EscapeBytes([]byte(r))
		}
		out.Processes[EscapeBytes([]byte(exe))] = &ProcessRecord{
			Name:            EscapeBytes([]byte(rec.Name)),
			Cmdlines:        cmdlines,
			FirstSeen:       rec.FirstSeen,
			LastSeen:        rec.LastSeen,
			DaysSeen:        rec.DaysSeen,
			Ports:           rec.Ports,
			RemoteAddresses: remotes,
			Results:         rec.Results,
		}
	}
	for addr, exes := range l.RemoteAddresses {
		escExes := make([]string, len(exes))
		for i, e := range exes {
			escExes[i] = EscapeBytes([]byte(e))
		}
		out.RemoteAddresses[EscapeBytes([]byte(addr))] = escExes
	}
	return out
}

// decodeFromJSON reverses escapeForJSON in place, right after Unmarshal, so
// the in-memory Ledger Load hands back holds the same raw bytes the
// Correlator originally wrote (spec §8 property 7).
func decodeFromJSON(l *Ledger) {
	entries := make([]string, len(l.LatestEntries))
	for i, e := range l.LatestEntries {
		entries[i] = string(DecodeBytes(e))
	}
	l.LatestEntries = entries

	names := make(map[string][]string, len(l.Names))
	for name, exes := range l.Names {
		decExes := make([]string, len(exes))
		for i, e := range exes {
			decExes[i] = string(DecodeBytes(e))
		}
		names[string(DecodeBytes(name))] = decExes
	}
	l.Names = names

	processes := make(map[string]*ProcessRecord, len(l.Processes))
	for exe, rec := range l.Processes {
		cmdlines := make([]string, len(rec.Cmdlines))
		for i, c := range rec.Cmdlines {
			cmdlines[i] = string(DecodeBytes(c))
		}
		remotes := make([]string, len(rec.RemoteAddresses))
		for i, r := range rec.RemoteAddresses {
			remotes[i] = string(DecodeBytes(r))
		}
		rec.Name = string(DecodeBytes(rec.Name))
		rec.Cmdlines = cmdlines
		rec.RemoteAddresses = remotes
		processes[string(DecodeBytes(exe))] = rec
	}
	l.Processes = processes

	remoteAddresses := make(map[string][]string, len(l.RemoteAddresses))
	for addr, exes := range l.RemoteAddresses {
		decExes := make([]string, len(exes))
		for i, e := range exes {
			decExes[i] = string(DecodeBytes(e))
		}
		remoteAddresses[string(DecodeBytes(addr))] = decExes
	}
	l.RemoteAddresses = remoteAddresses
}
