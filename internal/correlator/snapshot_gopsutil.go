package correlator

import (
	"fmt"

	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// HostEnumerator implements Enumerator against the live host via gopsutil,
// the same library the teacher pulls in (transitively) for its own
// process/host introspection. Used by InitialSnapshot at startup and as the
// best-effort PidLookup fallback in DrainAndCorrelate.
type HostEnumerator struct{}

func NewHostEnumerator() HostEnumerator { return HostEnumerator{} }

func (HostEnumerator) Processes() ([]Proc, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}
	out := make([]Proc, 0, len(procs))
	for _, p := range procs {
		proc, err := toProc(p)
		if err != nil {
			continue // process exited mid-scan; skip rather than fail the whole snapshot
		}
		out = append(out, proc)
	}
	return out, nil
}

func (HostEnumerator) Connections() ([]ConnObservation, error) {
	conns, err := gopsnet.Connections("inet")
	if err != nil {
		return nil, fmt.Errorf("enumerate connections: %w", err)
	}
	out := make([]ConnObservation, 0, len(conns))
	for _, c := range conns {
		if c.Pid == 0 || c.Raddr.Ip == "" || c.Raddr.Port == 0 {
			continue
		}
		out = append(out, ConnObservation{
			Pid:  c.Pid,
			IP:   c.Raddr.Ip,
			Port: int(c.Raddr.Port),
		})
	}
	return out, nil
}

func (HostEnumerator) Process(pid int32) (Proc, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return Proc{}, fmt.Errorf("open pid %d: %w", pid, err)
	}
	return toProc(p)
}

func toProc(p *process.Process) (Proc, error) {
	name, err := p.Name()
	if err != nil {
		return Proc{}, err
	}
	exe, err := p.Exe()
	if err != nil {
		exe = "" // some kernel threads/zombies have no backing executable
	}
	cmdline, err := p.Cmdline()
	if err != nil {
		cmdline = ""
	}
	return Proc{Pid: p.Pid, Name: name, Exe: exe, Cmdline: cmdline}, nil
}
