package producer

import "encoding/binary"

// Record layouts mirror what the kernel side (see bpf/process.c) writes with
// bpf_ringbuf_reserve/bpf_ringbuf_submit: fixed-width, little-endian, no padding beyond what's
// written below. Decoding is pure and works on any platform so it can be
// tested without a kernel.

const (
	commSize = 16  // TASK_COMM_LEN
	argSize  = 128 // bounded per-submission argv buffer, spec §9
)

// execArgRecord carries one argv entry (or the execve filename) for a single
// pid, submitted by the execve-entry tracepoint program.
type execArgRecord struct {
	Pid  uint32
	Comm string // trimmed at first NUL, ≤ commSize bytes
	Arg  string // trimmed at first NUL, ≤ argSize bytes
}

// decodeExecArg parses a raw exec-arg ring buffer payload of exactly
// 4 + commSize + argSize bytes.
func decodeExecArg(b []byte) (execArgRecord, bool) {
	const want = 4 + commSize + argSize
	if len(b) < want {
		return execArgRecord{}, false
	}
	pid := binary.LittleEndian.Uint32(b[0:4])
	comm := cString(b[4 : 4+commSize])
	arg := cString(b[4+commSize : 4+commSize+argSize])
	return execArgRecord{Pid: pid, Comm: comm, Arg: arg}, true
}

// execReturnRecord signals that an execve's argv submission is complete.
type execReturnRecord struct {
	Pid    uint32
	Retval int32
}

func decodeExecReturn(b []byte) (execReturnRecord, bool) {
	const want = 8
	if len(b) < want {
		return execReturnRecord{}, false
	}
	pid := binary.LittleEndian.Uint32(b[0:4])
	retval := int32(binary.LittleEndian.Uint32(b[4:8]))
	return execReturnRecord{Pid: pid, Retval: retval}, true
}

// ipv4ConnRecord is one AF_INET security_socket_connect observation.
type ipv4ConnRecord struct {
	Pid   uint32
	Comm  string
	Daddr [4]byte
	Dport uint16
}

func decodeIPv4Conn(b []byte) (ipv4ConnRecord, bool) {
	const want = 4 + commSize + 4 + 2
	if len(b) < want {
		return ipv4ConnRecord{}, false
	}
	rec := ipv4ConnRecord{
		Pid:   binary.LittleEndian.Uint32(b[0:4]),
		Comm:  cString(b[4 : 4+commSize]),
		Dport: binary.LittleEndian.Uint16(b[4+commSize+4 : 4+commSize+6]),
	}
	copy(rec.Daddr[:], b[4+commSize:4+commSize+4])
	return rec, true
}

// connRecord is either an AF_INET6 observation (with a populated address) or
// an "other family" observation (address left zero) — the Producer folds
// both into one ring buffer since they share this layout; Run tells them
// apart by Family (spec §4.1: "emits only the pid/name for other
// families").
type connRecord struct {
	Pid    uint32
	Comm   string
	Family uint16
	Daddr  [16]byte
	Dport  uint16
}

func decodeConn(b []byte) (connRecord, bool) {
	const want = 4 + commSize + 2 + 16 + 2
	if len(b) < want {
		return connRecord{}, false
	}
	off := 4 + commSize
	rec := connRecord{
		Pid:    binary.LittleEndian.Uint32(b[0:4]),
		Comm:   cString(b[4:off]),
		Family: binary.LittleEndian.Uint16(b[off : off+2]),
	}
	copy(rec.Daddr[:], b[off+2:off+18])
	rec.Dport = binary.LittleEndian.Uint16(b[off+18 : off+20])
	return rec, true
}

// cString trims a fixed-width kernel buffer at its first NUL byte.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
