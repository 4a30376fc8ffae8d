package correlator

import (
	"time"

	"github.com/PAWANGTIREXXX/picosnitch/internal/ledger"
)

// ReputationLookup is the file-reputation external collaborator (spec §1,
// §4.3 op 5): given a file hash and the process/config context, return a
// human-readable verdict string. Implementations are expected to rate-limit
// themselves against config.VTLimitRequest and to notify on a positive
// finding; this package only guarantees the minimum-interval sleep and
// bookkeeping described below, not the lookup itself.
type ReputationLookup interface {
	Lookup(sha256 string, proc Proc, cfg *ledger.Config) string
}

// NoLookup is the zero-configuration ReputationLookup used when no VT API
// key is configured: it matches the original's "no api key" placeholder
// exactly and never sleeps or mutates cfg.
type NoLookup struct{}

func (NoLookup) Lookup(string, Proc, *ledger.Config) string {
	return "File not analyzed (no api key)"
}

// rateLimitedLookup wraps a ReputationLookup so that it enforces
// cfg.VTLimitRequest between calls, matching the original's
// time.sleep(max(0, last+limit-now)) throttle. It only engages the wrapped
// lookup when an API key is configured; otherwise it falls through to
// NoLookup without sleeping.
type rateLimitedLookup struct {
	inner ReputationLookup
	now   func() time.Time
	sleep func(time.Duration)
}

// NewRateLimited wraps inner with the spec §4.3 op 5 rate-limit contract.
func NewRateLimited(inner ReputationLookup) ReputationLookup {
	return &rateLimitedLookup{inner: inner, now: time.Now, sleep: time.Sleep}
}

func (r *rateLimitedLookup) Lookup(sha256 string, proc Proc, cfg *ledger.Config) string {
	if cfg.VTAPIKey == "" {
		return NoLookup{}.Lookup(sha256, proc, cfg)
	}
	now := r.now()
	wait := time.Unix(int64(cfg.VTLastRequest), 0).Add(time.Duration(cfg.VTLimitRequest) * time.Second).Sub(now)
	if wait > 0 {
		r.sleep(wait)
	}
	cfg.VTLastRequest = float64(r.now().Unix())
	return r.inner.Lookup(sha256, proc, cfg)
}
