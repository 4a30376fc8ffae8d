// BPF object loader and ring-buffer reader for the Producer's kernel probes.
//
// Generalizes a single-tracepoint/single-ringbuf loader into one that loads
// every program and every BPF_MAP_TYPE_RINGBUF map out of one ELF object,
// attaches each program to either a static tracepoint (execve entry/return)
// or a dynamic kprobe registered through tracefs (security_socket_connect),
// and hands back one *ringBufReader per named ring buffer.
//
// All BPF operations use raw Linux syscalls via golang.org/x/sys/unix, so
// this package needs no cgo and no libbpf.
//
//go:build linux

package producer

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ─── BPF / perf constants ──────────────────────────────────────────────────

const (
	bpfCmdMapCreate uintptr = 0
	bpfCmdProgLoad  uintptr = 5

	bpfMapTypeRingBuf uint32 = 27

	bpfProgTypeTracepoint uint32 = 5
	bpfProgTypeKprobe     uint32 = 2

	bpfOpLdImm64 uint8 = 0x18
	bpfPseudoMapFD uint8 = 1

	bpfRingBufBusyBit    uint32 = 1 << 31
	bpfRingBufDiscardBit uint32 = 1 << 30
	bpfRingBufHdrSize    uint32 = 8

	bpfLogLevel uint32 = 1

	perfTypeTracepoint uint32 = 1

	perfEventIOCEnable = 0x00002400
	perfEventIOCSetBPF = 0x40044408

	tracepointIDDir = "/sys/kernel/debug/tracing/events"
	kprobeEventsPath = "/sys/kernel/debug/tracing/kprobe_events"
)

// ringBufferNames lists the four ring buffers spec §2/§4.1 names.
// ipv6-connect and other-connect records share one layout (family, a
// 16-byte address left zero for non-v6 families, port), so the Producer
// groups them under one kernel map; Run splits them back into v6 and other
// conn events by family.
var ringBufferNames = []string{
	"exec_arg_events",
	"exec_return_events",
	"ipv4_connect_events",
	"ipv6_or_other_connect_events",
}

// ─── Syscall wrappers ───────────────────────────────────────────────────────

func bpfSyscall(cmd uintptr, attr unsafe.Pointer, attrSize uintptr) (int, error) {
	fd, _, errno := unix.Syscall(unix.SYS_BPF, cmd, uintptr(attr), attrSize)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func perfEventOpen(attr *perfEventAttr, pid, cpu, groupFD int) (int, error) {
	fd, _, errno := unix.Syscall6(
		unix.SYS_PERF_EVENT_OPEN,
		uintptr(unsafe.Pointer(attr)),
		uintptr(pid),
		uintptr(cpu),
		uintptr(groupFD),
		0,
		0,
	)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func ioctlFd(fd int, req uint, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// ─── Kernel ABI attribute structs ───────────────────────────────────────────

type bpfMapCreateAttr struct {
	mapType    uint32
	keySize    uint32
	valueSize  uint32
	maxEntries uint32
	mapFlags   uint32
	_          [76]byte
}

type bpfProgLoadAttr struct {
	progType           uint32
	insnCnt            uint32
	insns              uint64
	license            uint64
	logLevel           uint32
	logSize            uint32
	logBuf             uint64
	kernVersion        uint32
	progFlags          uint32
	progName           [16]byte
	progIfindex        uint32
	expectedAttachType uint32
	progBTFFd          uint32
	funcInfoRecSize    uint32
	funcInfo           uint64
	funcInfoCnt        uint32
	lineInfoRecSize    uint32
	lineInfo           uint64
	lineInfoCnt        uint32
	attachBTFId        uint32
	attachProgFd       uint32
}

type perfEventAttr struct {
	eventType  uint32
	size       uint32
	config     uint64
	sampleFreq uint64
	sampleType uint64
	readFormat uint64
	bits       uint64
	wakeupEventsOrWatermark uint32
	bpType                  uint32
	bpAddr                  uint64
	bpLen                   uint64
}

type bpfInsn struct {
	code uint8
	regs uint8
	off  int16
	imm  int32
}

// ─── ELF parsing ─────────────────────────────────────────────────────────────

type bpfElf struct {
	license  string
	mapDefs  map[string]bpfMapSpec
	progs    map[string][]bpfInsn
	relaSecs map[string][]bpfRela
}

type bpfMapSpec struct {
	mapType    uint32
	keySize    uint32
	valueSize  uint32
	maxEntries uint32
	flags      uint32
}

type bpfRela struct {
	insnIdx uint64
	symName string
}

// isProgSection reports whether an ELF section name identifies a loadable
// BPF program, either a static tracepoint ("tracepoint/<group>/<name>") or a
// program meant to attach to a dynamically-registered kprobe
// ("kprobe/<symbol>").
func isProgSection(name string) bool {
	return strings.HasPrefix(name, "tracepoint/") || strings.HasPrefix(name, "kprobe/")
}

func parseBPFELF(r io.ReaderAt) (*bpfElf, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("parse ELF: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("expected 64-bit ELF, got %v", f.Class)
	}
	if f.ByteOrder != binary.LittleEndian {
		return nil, fmt.Errorf("BPF objects must be little-endian (eBPF ABI)")
	}

	out := &bpfElf{
		mapDefs:  make(map[string]bpfMapSpec),
		progs:    make(map[string][]bpfInsn),
		relaSecs: make(map[string][]bpfRela),
	}

	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("read symbol table: %w", err)
	}

	for _, sec := range f.Sections {
		switch {
		case sec.Name == "license":
			b, err := sec.Data()
			if err != nil {
				return nil, fmt.Errorf("read license: %w", err)
			}
			out.license = strings.TrimRight(string(b), "\x00")

		case sec.Name == ".maps" || sec.Name == "maps":
			if err := parseMapsSection(f, sec, syms, out); err != nil {
				return nil, err
			}

		case isProgSection(sec.Name):
			insns, err := readBPFInsns(sec)
			if err != nil {
				return nil, fmt.Errorf("read program %q: %w", sec.Name, err)
			}
			out.progs[sec.Name] = insns

		case sec.Type == elf.SHT_REL || sec.Type == elf.SHT_RELA:
			target := strings.TrimPrefix(sec.Name, ".rela")
			target = strings.TrimPrefix(target, ".rel")
			if !isProgSection(target) {
				continue
			}
			relas, err := readRelas(f, sec, syms)
			if err != nil {
				return nil, fmt.Errorf("read relocations for %q: %w", sec.Name, err)
			}
			out.relaSecs[target] = relas
		}
	}

	if out.license == "" {
		out.license = "GPL"
	}
	return out, nil
}

func parseMapsSection(f *elf.File, sec *elf.Section, syms []elf.Symbol, out *bpfElf) error {
	data, err := sec.Data()
	if err != nil {
		return fmt.Errorf("read maps section: %w", err)
	}

	var secIdx elf.SectionIndex
	for i, s := range f.Sections {
		if s == sec {
			secIdx = elf.SectionIndex(i)
			break
		}
	}

	for _, sym := range syms {
		if sym.Section != secIdx || elf.ST_TYPE(sym.Info) != elf.STT_OBJECT {
			continue
		}
		off, size := sym.Value, sym.Size
		if size < 20 || int(off)+int(size) > len(data) {
			continue
		}
		mapData := data[off : off+size]
		out.mapDefs[sym.Name] = bpfMapSpec{
			mapType:    binary.LittleEndian.Uint32(mapData[0:4]),
			keySize:    binary.LittleEndian.Uint32(mapData[4:8]),
			valueSize:  binary.LittleEndian.Uint32(mapData[8:12]),
			maxEntries: binary.LittleEndian.Uint32(mapData[12:16]),
			flags:      binary.LittleEndian.Uint32(mapData[16:20]),
		}
	}
	return nil
}

func readBPFInsns(sec *elf.Section) ([]bpfInsn, error) {
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty program section %q", sec.Name)
	}
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("section %q size %d not a multiple of 8", sec.Name, len(data))
	}
	insns := make([]bpfInsn, len(data)/8)
	r := bytes.NewReader(data)
	for i := range insns {
		if err := binary.Read(r, binary.LittleEndian, &insns[i]); err != nil {
			return nil, err
		}
	}
	return insns, nil
}

func readRelas(f *elf.File, sec *elf.Section, syms []elf.Symbol) ([]bpfRela, error) {
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}

	var relas []bpfRela
	switch sec.Type {
	case elf.SHT_RELA:
		const sz = 24
		if len(data)%sz != 0 {
			return nil, fmt.Errorf("RELA section size %d not a multiple of %d", len(data), sz)
		}
		r := bytes.NewReader(data)
		for r.Len() > 0 {
			var raw struct {
				Off    uint64
				Info   uint64
				Addend int64
			}
			if err := binary.Read(r, f.ByteOrder, &raw); err != nil {
				return nil, err
			}
			symIdx := raw.Info >> 32
			if int(symIdx) >= len(syms) {
				return nil, fmt.Errorf("symbol index %d out of range", symIdx)
			}
			relas = append(relas, bpfRela{insnIdx: raw.Off / 8, symName: syms[symIdx].Name})
		}
	case elf.SHT_REL:
		const sz = 16
		if len(data)%sz != 0 {
			return nil, fmt.Errorf("REL section size %d not a multiple of %d", len(data), sz)
		}
		r := bytes.NewReader(data)
		for r.Len() > 0 {
			var raw struct {
				Off  uint64
				Info uint64
			}
			if err := binary.Read(r, f.ByteOrder, &raw); err != nil {
				return nil, err
			}
			symIdx := raw.Info >> 32
			if int(symIdx) >= len(syms) {
				return nil, fmt.Errorf("symbol index %d out of range", symIdx)
			}
			relas = append(relas, bpfRela{insnIdx: raw.Off / 8, symName: syms[symIdx].Name})
		}
	}
	return relas, nil
}

// ─── BPF object loading ──────────────────────────────────────────────────────

// bpfObject holds every open fd for a loaded multi-program, multi-map BPF
// object plus one kprobe_events registration per dynamic attach point. Call
// Close to release everything, including unregistering kprobes.
type bpfObject struct {
	mapFDs       map[string]int
	progFDs      map[string]int
	perfFDs      []int
	ringbufs     map[string]*ringBufReader
	kprobeNames  []string // registered under kprobes/<name>, torn down on Close
}

func (o *bpfObject) Close() {
	for _, rb := range o.ringbufs {
		rb.close()
	}
	for _, fd := range o.perfFDs {
		_ = unix.Close(fd)
	}
	for _, fd := range o.progFDs {
		_ = unix.Close(fd)
	}
	for _, fd := range o.mapFDs {
		_ = unix.Close(fd)
	}
	for _, name := range o.kprobeNames {
		unregisterKprobe(name)
	}
}

// loadBPFObject parses r, creates every BPF_MAP_TYPE_RINGBUF map it finds
// (falling back to ringBufferNames for any missing), loads and attaches every
// program section, and returns one *ringBufReader per ring buffer name.
//
// Requires CAP_BPF (Linux ≥ 5.8) or CAP_SYS_ADMIN on older kernels.
func loadBPFObject(r io.ReaderAt) (*bpfObject, error) {
	parsed, err := parseBPFELF(r)
	if err != nil {
		return nil, fmt.Errorf("parse BPF ELF: %w", err)
	}
	if len(parsed.progs) == 0 {
		return nil, errors.New("BPF object contains no programs")
	}

	obj := &bpfObject{
		mapFDs:   make(map[string]int),
		progFDs:  make(map[string]int),
		ringbufs: make(map[string]*ringBufReader),
	}

	const defaultRBSize = uint32(1 << 24) // 16 MiB per ring buffer

	// 1. Create every map the ELF declares.
	for name, spec := range parsed.mapDefs {
		fd, err := createBPFMap(spec)
		if err != nil {
			obj.Close()
			return nil, fmt.Errorf("BPF map create %q: %w (requires CAP_BPF)", name, err)
		}
		obj.mapFDs[name] = fd
	}

	// Ensure all four named ring buffers exist even if the ELF's .maps
	// section was stripped or only partially recovered.
	for _, name := range ringBufferNames {
		if _, ok := obj.mapFDs[name]; ok {
			continue
		}
		fd, err := createBPFMap(bpfMapSpec{mapType: bpfMapTypeRingBuf, maxEntries: defaultRBSize})
		if err != nil {
			obj.Close()
			return nil, fmt.Errorf("create ring buffer %q: %w (requires CAP_BPF)", name, err)
		}
		obj.mapFDs[name] = fd
	}

	// 2. Load every program, relocating map references first.
	licenseBytes := append([]byte(parsed.license), 0)
	for secName, insns := range parsed.progs {
		if relas, ok := parsed.relaSecs[secName]; ok {
			if err := applyMapRelocations(insns, relas, obj.mapFDs); err != nil {
				obj.Close()
				return nil, fmt.Errorf("relocate %q: %w", secName, err)
			}
		}

		logBuf := make([]byte, 256*1024)
		progType := bpfProgTypeTracepoint
		if strings.HasPrefix(secName, "kprobe/") {
			progType = bpfProgTypeKprobe
		}

		attr := bpfProgLoadAttr{
			progType: progType,
			insnCnt:  uint32(len(insns)),
			insns:    uint64(uintptr(unsafe.Pointer(&insns[0]))),
			license:  uint64(uintptr(unsafe.Pointer(&licenseBytes[0]))),
			logLevel: bpfLogLevel,
			logSize:  uint32(len(logBuf)),
			logBuf:   uint64(uintptr(unsafe.Pointer(&logBuf[0]))),
		}
		copy(attr.progName[:], shortProgName(secName))

		fd, err := bpfSyscall(bpfCmdProgLoad, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
		runtime.KeepAlive(insns)
		runtime.KeepAlive(licenseBytes)
		runtime.KeepAlive(logBuf)
		if err != nil {
			if logText := extractLog(logBuf); logText != "" {
				err = fmt.Errorf("%w; verifier log:\n%s", err, logText)
			}
			obj.Close()
			return nil, fmt.Errorf("load BPF program %q: %w", secName, err)
		}
		obj.progFDs[secName] = fd
	}

	// 3. Attach every program: static tracepoints directly, kprobe sections
	// via a freshly-registered dynamic kprobe.
	numCPU := runtime.NumCPU()
	for secName, progFD := range obj.progFDs {
		group, name, err := resolveAttachPoint(secName, obj)
		if err != nil {
			obj.Close()
			return nil, err
		}

		tpID, err := readTracepointID(group, name)
		if err != nil {
			obj.Close()
			return nil, fmt.Errorf("tracepoint %s/%s: %w", group, name, err)
		}

		for cpu := 0; cpu < numCPU; cpu++ {
			attr := &perfEventAttr{
				eventType: perfTypeTracepoint,
				size:      uint32(unsafe.Sizeof(perfEventAttr{})),
				config:    uint64(tpID),
				bits:      1,
			}
			pfd, err := perfEventOpen(attr, -1, cpu, -1)
			if err != nil {
				obj.Close()
				return nil, fmt.Errorf("perf_event_open %s/%s cpu%d: %w", group, name, cpu, err)
			}
			obj.perfFDs = append(obj.perfFDs, pfd)

			if err := ioctlFd(pfd, perfEventIOCSetBPF, uintptr(progFD)); err != nil {
				obj.Close()
				return nil, fmt.Errorf("PERF_EVENT_IOC_SET_BPF %s/%s cpu%d: %w", group, name, cpu, err)
			}
			if err := ioctlFd(pfd, perfEventIOCEnable, 0); err != nil {
				obj.Close()
				return nil, fmt.Errorf("PERF_EVENT_IOC_ENABLE %s/%s cpu%d: %w", group, name, cpu, err)
			}
		}
	}

	// 4. Open a ring-buffer reader for every named ring buffer map.
	for _, name := range ringBufferNames {
		fd, ok := obj.mapFDs[name]
		if !ok {
			continue
		}
		spec, hasSpec := parsed.mapDefs[name]
		size := defaultRBSize
		if hasSpec && spec.maxEntries > 0 {
			size = spec.maxEntries
		}
		rb, err := newRingBufReader(fd, size)
		if err != nil {
			obj.Close()
			return nil, fmt.Errorf("ring buffer reader %q: %w", name, err)
		}
		obj.ringbufs[name] = rb
	}

	return obj, nil
}

// resolveAttachPoint returns the tracefs (group, name) pair a program
// section should attach to. Static tracepoint sections encode this directly
// in their name; kprobe sections register a dynamic kprobe first.
func resolveAttachPoint(secName string, obj *bpfObject) (group, name string, err error) {
	if strings.HasPrefix(secName, "tracepoint/") {
		parts := strings.SplitN(strings.TrimPrefix(secName, "tracepoint/"), "/", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("cannot parse tracepoint group/name from section %q", secName)
		}
		return parts[0], parts[1], nil
	}

	symbol := strings.TrimPrefix(secName, "kprobe/")
	kprobeName, err := registerKprobe(symbol)
	if err != nil {
		return "", "", fmt.Errorf("register kprobe for %q: %w", symbol, err)
	}
	obj.kprobeNames = append(obj.kprobeNames, kprobeName)
	return "kprobes", kprobeName, nil
}

// registerKprobe writes a p: line to the kprobe_events tracefs control file,
// creating a new event under events/kprobes/<name>/id. Returns the event
// name to pass to readTracepointID.
func registerKprobe(symbol string) (string, error) {
	name := "picosnitch_" + sanitizeKprobeName(symbol)

	f, err := os.OpenFile(kprobeEventsPath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return "", fmt.Errorf("open %s: %w (debugfs/tracefs must be mounted)", kprobeEventsPath, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "p:kprobes/%s %s\n", name, symbol); err != nil {
		return "", fmt.Errorf("register kprobe %s: %w", symbol, err)
	}
	return name, nil
}

func unregisterKprobe(name string) {
	f, err := os.OpenFile(kprobeEventsPath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = fmt.Fprintf(f, "-:kprobes/%s\n", name)
}

func sanitizeKprobeName(symbol string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, symbol)
}

func createBPFMap(spec bpfMapSpec) (int, error) {
	attr := bpfMapCreateAttr{
		mapType:    spec.mapType,
		keySize:    spec.keySize,
		valueSize:  spec.valueSize,
		maxEntries: spec.maxEntries,
		mapFlags:   spec.flags,
	}
	return bpfSyscall(bpfCmdMapCreate, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
}

func applyMapRelocations(insns []bpfInsn, relas []bpfRela, mapFDs map[string]int) error {
	for _, rel := range relas {
		fd, ok := mapFDs[rel.symName]
		if !ok {
			return fmt.Errorf("no fd for map %q", rel.symName)
		}
		idx := int(rel.insnIdx)
		if idx >= len(insns) {
			return fmt.Errorf("relocation instruction index %d out of range (len=%d)", idx, len(insns))
		}
		ins := &insns[idx]
		if ins.code != bpfOpLdImm64 {
			return fmt.Errorf("insn[%d]: expected LD_IMM64 (0x%02x), got 0x%02x", idx, bpfOpLdImm64, ins.code)
		}
		ins.regs = (ins.regs & 0x0F) | (bpfPseudoMapFD << 4)
		ins.imm = int32(fd)
		if idx+1 < len(insns) {
			insns[idx+1].imm = 0
		}
	}
	return nil
}

// readTracepointID reads the kernel-assigned numeric ID for a tracepoint,
// static or dynamically registered, from:
//
//	/sys/kernel/debug/tracing/events/<group>/<name>/id
func readTracepointID(group, name string) (uint32, error) {
	idPath := filepath.Join(tracepointIDDir, group, name, "id")
	b, err := os.ReadFile(idPath)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w (debugfs/tracefs must be mounted)", idPath, err)
	}
	var id uint32
	if _, err := fmt.Sscan(strings.TrimSpace(string(b)), &id); err != nil {
		return 0, fmt.Errorf("parse tracepoint id from %q: %w", string(b), err)
	}
	return id, nil
}

func shortProgName(secName string) string {
	parts := strings.Split(secName, "/")
	name := parts[len(parts)-1]
	if len(name) > 15 {
		name = name[:15]
	}
	return name
}

func extractLog(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return strings.TrimSpace(string(buf))
}

// ─── Ring-buffer reader ──────────────────────────────────────────────────────

type ringBufReader struct {
	ctrlMmap []byte
	dataMmap []byte
	mask     uint64
	closeCh  chan struct{}
}

func (rb *ringBufReader) consumerPos() *uint64 {
	return (*uint64)(unsafe.Pointer(&rb.ctrlMmap[0]))
}

func (rb *ringBufReader) producerPos() *uint64 {
	return (*uint64)(unsafe.Pointer(&rb.ctrlMmap[os.Getpagesize()]))
}

func newRingBufReader(mapFD int, dataSize uint32) (*ringBufReader, error) {
	pageSize := os.Getpagesize()
	ctrlSize := 2 * pageSize

	if dataSize == 0 || dataSize&(dataSize-1) != 0 {
		return nil, fmt.Errorf("ring buffer max_entries %d is not a power of two", dataSize)
	}

	ctrlMmap, err := unix.Mmap(mapFD, 0, ctrlSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap control pages: %w", err)
	}

	dataMmap, err := unix.Mmap(mapFD, int64(ctrlSize), int(dataSize), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Munmap(ctrlMmap)
		return nil, fmt.Errorf("mmap data pages: %w", err)
	}

	return &ringBufReader{
		ctrlMmap: ctrlMmap,
		dataMmap: dataMmap,
		mask:     uint64(dataSize - 1),
		closeCh:  make(chan struct{}),
	}, nil
}

// readSample blocks until a non-discarded record is available, or ctx is
// cancelled, or the reader is closed.
func (rb *ringBufReader) readSample(ctx context.Context) ([]byte, error) {
	const pollInterval = 250 * time.Microsecond

	for {
		cons := atomic.LoadUint64(rb.consumerPos())
		prod := atomic.LoadUint64(rb.producerPos())

		if cons == prod {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-rb.closeCh:
				return nil, errors.New("ring buffer reader closed")
			case <-time.After(pollInterval):
				continue
			}
		}

		off := cons & rb.mask
		if off+uint64(bpfRingBufHdrSize) > uint64(len(rb.dataMmap)) {
			atomic.StoreUint64(rb.consumerPos(), cons+uint64(bpfRingBufHdrSize))
			continue
		}

		rawLen := atomic.LoadUint32((*uint32)(unsafe.Pointer(&rb.dataMmap[off])))

		if rawLen&bpfRingBufBusyBit != 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-rb.closeCh:
				return nil, errors.New("ring buffer reader closed")
			case <-time.After(1 * time.Microsecond):
				continue
			}
		}

		dataLen := rawLen &^ (bpfRingBufBusyBit | bpfRingBufDiscardBit)
		discard := rawLen&bpfRingBufDiscardBit != 0

		advance := uint64(bpfRingBufHdrSize) + uint64(alignUp(dataLen, 8))
		atomic.StoreUint64(rb.consumerPos(), cons+advance)

		if discard {
			continue
		}

		payload := make([]byte, dataLen)
		dataOff := (off + uint64(bpfRingBufHdrSize)) & rb.mask
		size := uint64(dataLen)

		if dataOff+size <= uint64(len(rb.dataMmap)) {
			copy(payload, rb.dataMmap[dataOff:dataOff+size])
		} else {
			first := uint64(len(rb.dataMmap)) - dataOff
			copy(payload, rb.dataMmap[dataOff:])
			copy(payload[first:], rb.dataMmap[:size-first])
		}

		return payload, nil
	}
}

func (rb *ringBufReader) close() {
	select {
	case <-rb.closeCh:
	default:
		close(rb.closeCh)
	}
	_ = unix.Munmap(rb.dataMmap)
	_ = unix.Munmap(rb.ctrlMmap)
}

func alignUp(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}
