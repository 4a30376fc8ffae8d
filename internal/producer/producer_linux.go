//go:build linux

package producer

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/PAWANGTIREXXX/picosnitch/internal/ipc"
)

//go:embed bpf/*.c
var bpfSource embed.FS

// Run loads the kernel probes, then polls all four ring buffers until ctx is
// cancelled, decoding raw records into ipc events and exec/conn records and
// writing them to events. Ring-buffer errors are reported on errs and
// polling continues (spec §4.1's failure semantics); a load failure or a
// non-root effective uid is fatal and returned directly.
func Run(ctx context.Context, objPath string, events *ipc.EventWriter, errs *ipc.ErrorWriter, logger *slog.Logger) error {
	if unix.Geteuid() != 0 {
		_ = errs.Write(permissionError)
		return fmt.Errorf("producer: %s", permissionError)
	}

	f, err := os.Open(objPath)
	if err != nil {
		return fmt.Errorf("producer: open BPF object %q: %w", objPath, err)
	}
	defer f.Close()

	obj, err := loadBPFObject(f)
	if err != nil {
		return fmt.Errorf("producer: load BPF object: %w", err)
	}
	defer obj.Close()

	logger.Info("producer started", slog.String("instance", instanceID))

	assembler := newExecAssembler()
	done := make(chan struct{})
	defer close(done)

	pollRingBuf(ctx, obj.ringbufs["exec_arg_events"], func(b []byte) {
		rec, ok := decodeExecArg(b)
		if !ok {
			return
		}
		assembler.AddArg(rec.Pid, rec.Comm, rec.Arg)
	}, errs, "exec_arg")

	pollRingBuf(ctx, obj.ringbufs["exec_return_events"], func(b []byte) {
		rec, ok := decodeExecReturn(b)
		if !ok || rec.Retval != 0 {
			return
		}
		name, cmdline, ok := assembler.Finish(rec.Pid)
		if !ok {
			return
		}
		ev := ipc.Event{Type: ipc.KindExec, Exec: &ipc.Exec{
			Pid:     int32(rec.Pid),
			Name:    name,
			Cmdline: cmdline,
		}}
		if err := events.Write(ev); err != nil {
			logger.Error("write exec event", slog.String("err", err.Error()))
		}
	}, errs, "exec_return")

	pollRingBuf(ctx, obj.ringbufs["ipv4_connect_events"], func(b []byte) {
		rec, ok := decodeIPv4Conn(b)
		if !ok || rec.Dport == 0 {
			return
		}
		ev := ipc.Event{Type: ipc.KindConn, Conn: &ipc.Conn{
			Pid:    int32(rec.Pid),
			Family: ipc.FamilyV4,
			IP:     ipv4String(rec.Daddr),
			Port:   int(rec.Dport),
		}}
		if err := events.Write(ev); err != nil {
			logger.Error("write conn event", slog.String("err", err.Error()))
		}
	}, errs, "ipv4_connect")

	pollRingBuf(ctx, obj.ringbufs["ipv6_or_other_connect_events"], func(b []byte) {
		rec, ok := decodeConn(b)
		if !ok {
			return
		}
		ev := ipc.Event{Type: ipc.KindConn, Conn: &ipc.Conn{Pid: int32(rec.Pid)}}
		switch {
		case rec.Family == unix.AF_INET6 && rec.Dport != 0:
			ev.Conn.Family = ipc.FamilyV6
			ev.Conn.IP = ipv6String(rec.Daddr)
			ev.Conn.Port = int(rec.Dport)
		case rec.Family == unix.AF_INET6:
			return // dport == 0, original probe drops these
		default:
			ev.Conn.Family = ipc.FamilyOther
		}
		if err := events.Write(ev); err != nil {
			logger.Error("write conn event", slog.String("err", err.Error()))
		}
	}, errs, "other_connect")

	<-ctx.Done()
	return nil
}

// pollRingBuf runs a background goroutine that reads samples from rb until
// ctx is cancelled, invoking handle for each decoded payload. A readSample
// error is reported through errs and polling continues, matching spec
// §4.1's "any exception while polling a ring buffer is reported to the
// error channel and polling continues".
func pollRingBuf(ctx context.Context, rb *ringBufReader, handle func([]byte), errs *ipc.ErrorWriter, kind string) {
	if rb == nil {
		return
	}
	go func() {
		for {
			b, err := rb.readSample(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				_ = errs.Write(formatBPFError(fmt.Sprintf("%T", err), fmt.Errorf("%s: %w", kind, err)))
				continue
			}
			handle(b)
		}
	}()
}

func ipv4String(b [4]byte) string {
	return strconv.Itoa(int(b[0])) + "." + strconv.Itoa(int(b[1])) + "." +
		strconv.Itoa(int(b[2])) + "." + strconv.Itoa(int(b[3]))
}

func ipv6String(b [16]byte) string {
	return netip.AddrFrom16(b).String()
}
