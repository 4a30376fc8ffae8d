package producer

import "strings"

// maxArgv is the argv-entry cutoff spec §4.1/§9 names: once a pid's
// accumulated argv exceeds this count, further entries are dropped and a
// literal "..." token marks the truncation.
const maxArgv = 20

// pidExec accumulates argv entries for one in-flight execve, keyed by pid,
// until the matching exec-return record arrives.
type pidExec struct {
	comm string
	argv []string
}

// execAssembler reassembles the per-pid stream of exec-arg records (one per
// argv entry, emitted by the execve-entry tracepoint in argv order) into
// complete {name, cmdline} records on exec-return, per spec §4.1's "Arg
// reassembly across records". Entries for a pid accumulate until Finish;
// an unfinished accumulation is never reset, so the entries of a later
// execve by the same pid are appended to it and the name stays the comm
// recorded with its first entry.
type execAssembler struct {
	inFlight map[uint32]*pidExec
}

func newExecAssembler() *execAssembler {
	return &execAssembler{inFlight: make(map[uint32]*pidExec)}
}

// AddArg appends one argv entry for pid, starting a new accumulation if this
// is the first entry seen for pid since its last completed exec.
func (a *execAssembler) AddArg(pid uint32, comm, arg string) {
	pe, ok := a.inFlight[pid]
	if !ok {
		pe = &pidExec{comm: comm}
		a.inFlight[pid] = pe
	}
	if len(pe.argv) < maxArgv {
		pe.argv = append(pe.argv, arg)
	} else if len(pe.argv) == maxArgv {
		pe.argv = append(pe.argv, "...")
	}
	// Entries beyond maxArgv+1 (the sentinel) are dropped; the kernel side
	// already stops submitting past its own 20-entry unrolled loop, this is
	// a userspace backstop against a misbehaving or adapted probe.
}

// Finish completes the accumulation for pid on its exec-return record,
// returning the reassembled name and cmdline. ok is false if no argv was
// ever accumulated for pid (a return with no matching entry record).
func (a *execAssembler) Finish(pid uint32) (name, cmdline string, ok bool) {
	pe, found := a.inFlight[pid]
	if !found {
		return "", "", false
	}
	delete(a.inFlight, pid)
	return pe.comm, buildCmdline(pe.argv), true
}

// buildCmdline joins argv with single spaces, escaping embedded newlines to
// the two-character sequence "\n" (spec §4.1's exec record field).
func buildCmdline(argv []string) string {
	escaped := make([]string, len(argv))
	for i, a := range argv {
		escaped[i] = strings.ReplaceAll(a, "\n", `\n`)
	}
	return strings.Join(escaped, " ")
}
