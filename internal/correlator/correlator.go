// Package correlator implements the event-correlation and ledger-update
// engine described in spec §4.3: it joins exec events with subsequent conn
// events by pid, deduplicates them into the process/remote-address graph
// held in internal/ledger, and drives the initial-snapshot reconciliation.
package correlator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PAWANGTIREXXX/picosnitch/internal/ipc"
	"github.com/PAWANGTIREXXX/picosnitch/internal/ledger"
)

// Proc is the live PID→executable mapping entry (spec §3 "PidEntry").
type Proc struct {
	Pid     int32
	Name    string
	Exe     string
	Cmdline string
}

// Conn is the {ip, port} half of a merge call (spec §4.3 op 3); an
// exec-only merge uses the zero value.
type Conn struct {
	IP   string
	Port int
}

// ConnObservation is one raw connection tuple as read off the host during
// the initial snapshot (spec §4.3 op 1), before process resolution.
type ConnObservation struct {
	Pid  int32
	IP   string
	Port int
}

// Enumerator is the host-inventory external collaborator the initial
// snapshot drives (spec §4.3 op 1): running processes and open connections.
// Production code backs this with gopsutil; tests substitute a fixed fake.
type Enumerator interface {
	Processes() ([]Proc, error)
	Connections() ([]ConnObservation, error)
	Process(pid int32) (Proc, error)
}

// PidLookup is the subset of Enumerator the drain loop needs for its
// best-effort live lookup on an unmatched conn (spec §4.3 op 2).
type PidLookup interface {
	Process(pid int32) (Proc, error)
}

// Notifier is the best-effort notification surface (spec §6); implemented
// by internal/notify.
type Notifier interface {
	Notify(msg string)
}

// Correlator holds the external collaborators the merge algorithm calls
// out to. It carries no ledger state of its own — the ledger and pid table
// are passed explicitly to every operation, matching the spec's framing of
// the Correlator as a pure transformation over that state.
type Correlator struct {
	resolver   Resolver
	reputation ReputationLookup
	notifier   Notifier
}

func New(resolver Resolver, reputation ReputationLookup, notifier Notifier) *Correlator {
	return &Correlator{resolver: resolver, reputation: reputation, notifier: notifier}
}

// InitialSnapshot bootstraps the ledger from already-running processes and
// open sockets before kernel events begin flowing (spec §4.3 op 1).
func (c *Correlator) InitialSnapshot(l *ledger.Ledger, pidTable map[int32]Proc, enum Enumerator, now string) error {
	procs, err := enum.Processes()
	if err != nil {
		return fmt.Errorf("correlator: enumerate processes: %w", err)
	}
	remaining := map[string]Proc{}
	for _, p := range procs {
		if p.Exe == "" {
			continue
		}
		remaining[p.Exe] = p
		pidTable[p.Pid] = p
	}

	conns, err := enum.Connections()
	if err != nil {
		return fmt.Errorf("correlator: enumerate connections: %w", err)
	}
	for _, co := range conns {
		if co.Pid == 0 || co.IP == "" || isPrivateRemote(co.IP) {
			continue
		}
		proc, perr := enum.Process(co.Pid)
		if perr != nil {
			existed := "{process no longer exists}"
			if p, ok := pidTable[co.Pid]; ok {
				existed = fmt.Sprintf("{%+v}", p)
			}
			l.Errors = append(l.Errors, fmt.Sprintf("%s Init %v pid=%d %s", now, perr, co.Pid, existed))
			continue
		}
		delete(remaining, proc.Exe)
		sha := sha256File(proc.Exe)
		c.Merge(l, pidTable, proc, Conn{IP: co.IP, Port: co.Port}, sha, now)
	}

	if !l.Config.OnlyLogConnections {
		for _, proc := range remaining {
			sha := sha256File(proc.Exe)
			c.Merge(l, pidTable, proc, Conn{}, sha, now)
		}
	}
	return nil
}

type queuedMerge struct {
	proc Proc
	conn Conn
}

// DrainAndCorrelate processes one batch of raw events plus last round's
// unmatched conns, updates the ledger, and returns the new pending-conns
// list for the next round (spec §4.3 op 2).
func (c *Correlator) DrainAndCorrelate(l *ledger.Ledger, pidTable map[int32]Proc, lookup PidLookup, pendingConns []ipc.Conn, batch []ipc.Event, now string) []ipc.Conn {
	var queue []queuedMerge
	var newPending []ipc.Conn

	for _, ev := range batch {
		switch ev.Type {
		case ipc.KindExec:
			e := ev.Exec
			exe := firstExecToken(e.Cmdline)
			proc := Proc{Pid: e.Pid, Name: e.Name, Exe: exe, Cmdline: e.Cmdline}
			pidTable[e.Pid] = proc
			if !l.Config.OnlyLogConnections {
				queue = append(queue, queuedMerge{proc: proc})
			}
		case ipc.KindConn:
			cv := ev.Conn
			if proc, ok := pidTable[cv.Pid]; ok {
				queue = append(queue, queuedMerge{proc: proc, conn: Conn{IP: cv.IP, Port: cv.Port}})
			} else {
				newPending = append(newPending, *cv)
				if proc, err := lookup.Process(cv.Pid); err == nil {
					pidTable[cv.Pid] = proc
				}
			}
		}
	}

	for _, pc := range pendingConns {
		if proc, ok := pidTable[pc.Pid]; ok {
			queue = append(queue, queuedMerge{proc: proc, conn: Conn{IP: pc.IP, Port: pc.Port}})
		} else {
			l.Errors = append(l.Errors, fmt.Sprintf("%s no known process for conn: pid=%d ip=%s port=%d", now, pc.Pid, pc.IP, pc.Port))
		}
	}

	for _, q := range queue {
		sha := sha256File(q.proc.Exe)
		c.Merge(l, pidTable, q.proc, q.conn, sha, now)
	}

	return newPending
}

// firstExecToken implements spec §4.3 op 2's exe-from-cmdline extraction:
// split as a POSIX shell word list, take the first token, or the second if
// the first is literally "exec".
func firstExecToken(cmdline string) string {
	words := shellSplit(cmdline)
	if len(words) == 0 {
		return ""
	}
	if words[0] == "exec" && len(words) > 1 {
		return words[1]
	}
	return words[0]
}

// Merge is the ledger-update contract (spec §4.3 op 3).
func (c *Correlator) Merge(l *ledger.Ledger, pidTable map[int32]Proc, proc Proc, conn Conn, sha256 string, now string) {
	reversedDNS := reverseDomainName(reverseDNSLookup(c.resolver, conn.IP))
	unlogged := portUnlogged(conn.Port, proc.Name, l.Config.RemoteAddressUnlog)

	_, exeKnown := l.Processes[proc.Exe]
	_, nameKnown := l.Names[proc.Name]
	if !exeKnown || !nameKnown {
		l.LatestEntries = append(l.LatestEntries, fmt.Sprintf("%s %s - %s", now, proc.Name, proc.Exe))
	}

	if names, ok := l.Names[proc.Name]; ok {
		if !containsString(names, proc.Exe) {
			l.Names[proc.Name] = append(names, proc.Exe)
			c.notifier.Notify("New executable detected for " + proc.Name + ": " + proc.Exe)
		}
	} else if conn.IP != "" || conn.Port != 0 {
		l.Names[proc.Name] = []string{proc.Exe}
		c.notifier.Notify("First network connection detected for " + proc.Name)
	}

	rec, exists := l.Processes[proc.Exe]
	if !exists {
		rec = &ledger.ProcessRecord{
			Name:            proc.Name,
			Cmdlines:        []string{proc.Cmdline},
			FirstSeen:       now,
			LastSeen:        now,
			DaysSeen:        1,
			Ports:           []int{conn.Port},
			RemoteAddresses: []string{},
			Results:         map[string]string{sha256: c.reputation.Lookup(sha256, proc, &l.Config)},
		}
		if !unlogged {
			rec.RemoteAddresses = append(rec.RemoteAddresses, reversedDNS)
		}
		l.Processes[proc.Exe] = rec
	} else {
		if !strings.Contains(rec.Name, proc.Name) {
			rec.Name += " alternative=" + proc.Name
		}
		if !containsString(rec.Cmdlines, proc.Cmdline) {
			rec.Cmdlines = mergeCmdline(proc.Cmdline, rec.Cmdlines)
		}
		if !containsInt(rec.Ports, conn.Port) {
			rec.Ports = append(rec.Ports, conn.Port)
			sort.Ints(rec.Ports)
		}
		if !containsString(rec.RemoteAddresses, reversedDNS) && !unlogged {
			rec.RemoteAddresses = append(rec.RemoteAddresses, reversedDNS)
		}
		if _, ok := rec.Results[sha256]; !ok {
			rec.Results[sha256] = c.reputation.Lookup(sha256, proc, &l.Config)
		}
		if dayToken(now) != dayToken(rec.LastSeen) {
			rec.DaysSeen++
		}
		rec.LastSeen = now
	}

	if addrs, ok := l.RemoteAddresses[reversedDNS]; ok {
		if !containsString(addrs, proc.Exe) {
			addrs = insertAt(addrs, 1, proc.Exe)
			addrs = removeString(addrs, "No processes found during polling")
			l.RemoteAddresses[reversedDNS] = addrs
		}
	} else if !unlogged {
		l.RemoteAddresses[reversedDNS] = []string{"First connection: " + now, proc.Exe}
	}
}

// portUnlogged implements the "Remote address unlog" filter using the
// port's string form, per spec §3's invariant and §8 property 3 (the
// original Python compares the port as an int against a list of strings,
// which can never match — this rewrite applies the filter the spec's own
// invariant text describes).
func portUnlogged(port int, name string, unlog []string) bool {
	portStr := strconv.Itoa(port)
	for _, u := range unlog {
		if u == portStr || u == name {
			return true
		}
	}
	return false
}

// dayToken returns the first three whitespace-separated tokens of a
// ctime-style timestamp (spec glossary "Day token").
func dayToken(ts string) string {
	fields := strings.Fields(ts)
	if len(fields) > 3 {
		fields = fields[:3]
	}
	return strings.Join(fields, " ")
}

func containsString(l []string, v string) bool {
	for _, x := range l {
		if x == v {
			return true
		}
	}
	return false
}

func containsInt(l []int, v int) bool {
	for _, x := range l {
		if x == v {
			return true
		}
	}
	return false
}

func insertAt(l []string, idx int, v string) []string {
	if idx > len(l) {
		idx = len(l)
	}
	out := make([]string, 0, len(l)+1)
	out = append(out, l[:idx]...)
	out = append(out, v)
	out = append(out, l[idx:]...)
	return out
}

func removeString(l []string, v string) []string {
	out := l[:0:0]
	for _, x := range l {
		if x == v {
			continue
		}
		out = append(out, x)
	}
	return out
}

// PersistState tracks the coalescing state for Persist (spec §4.3 op 4).
type PersistState struct {
	lastWrite time.Time
	lastSize  int
}

// ShouldPersist reports whether the ledger should be written now: either
// the maximum 600s interval has elapsed, or more than 30s has elapsed and
// the serialized size has changed.
func (s *PersistState) ShouldPersist(l *ledger.Ledger, now time.Time) bool {
	elapsed := now.Sub(s.lastWrite)
	if elapsed >= 600*time.Second {
		return true
	}
	return elapsed > 30*time.Second && l.Size() != s.lastSize
}

// Persist writes the ledger to path and updates the coalescing state.
func (s *PersistState) Persist(path string, l *ledger.Ledger, now time.Time) error {
	if err := ledger.Save(path, l); err != nil {
		return err
	}
	s.lastWrite = now
	s.lastSize = l.Size()
	return nil
}
