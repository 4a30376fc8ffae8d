// Package producer implements the privileged Producer process: it owns the
// kernel probes and ring buffers, decodes raw kernel records into ipc
// events, and forwards them to the Correlator (spec §2, §4.1).
package producer

import (
	"fmt"

	"github.com/google/uuid"
)

// instanceID tags every error line this Producer emits so the Correlator can
// tell a stale error (from a Producer the Supervisor already restarted)
// apart from a current one when reading the out-of-band error channel.
var instanceID = uuid.New().String()[:8]

// formatBPFError renders a ring-buffer or load failure the way spec §4.1
// requires: "BPF <kind><args>". kind is the error's dynamic type name,
// args is its message — matching the original implementation's
// "BPF " + type(e).__name__ + str(e.args) shape closely enough for the
// error line to stay self-describing without depending on Python's
// exception repr format.
func formatBPFError(kind string, err error) string {
	return fmt.Sprintf("BPF %s(%s) [producer %s]", kind, err.Error(), instanceID)
}

// permissionError is the exact string spec §4.1 mandates when the Producer
// is not running as uid 0.
const permissionError = "Snitch subprocess permission error, requires root"
