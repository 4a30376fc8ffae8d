//go:build !linux

package producer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PAWANGTIREXXX/picosnitch/internal/ipc"
)

// Run on a non-Linux platform always fails: the kernel probes this package
// drives (tracepoints, kprobe_events, BPF ring buffers) are Linux-only.
func Run(_ context.Context, objPath string, _ *ipc.EventWriter, _ *ipc.ErrorWriter, _ *slog.Logger) error {
	_, err := loadBPFObject(nil)
	return fmt.Errorf("producer: %w (object path %q)", err, objPath)
}
