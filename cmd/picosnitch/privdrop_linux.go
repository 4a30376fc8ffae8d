//go:build linux

package main

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// dropPrivileges implements spec §6's privilege lifecycle: the main process
// starts at effective uid 0 (needed to spawn the Supervisor/Producer, which
// inherit root for the kernel-probe load), then drops to the invoking
// user's uid/gid before entering the correlation loop so the ledger file
// ends up owned by the real user, not root.
//
// Order matters: group must drop before user, or the process loses the
// privilege needed to change its group (spec SPEC_FULL.md's supplement from
// the original's pwd/grp-based drop).
//
// Credentials are per-OS-thread on Linux, and a Go process keeps several Ms
// around (GC workers, the netpoller, goroutines parked in blocking
// syscalls); plain Setresuid/Setresgid only change the one thread the
// calling goroutine happens to be on. AllThreadsSetresgid/
// AllThreadsSetresuid apply the change process-wide.
func dropPrivileges() error {
	if unix.Getuid() != 0 {
		return nil // not running as root; nothing to drop
	}

	uidStr := os.Getenv("SUDO_UID")
	gidStr := os.Getenv("SUDO_GID")
	if uidStr == "" || gidStr == "" {
		name := os.Getenv("SUDO_USER")
		if name == "" {
			return fmt.Errorf("privdrop: running as root with no SUDO_USER/SUDO_UID/SUDO_GID to drop to")
		}
		u, err := user.Lookup(name)
		if err != nil {
			return fmt.Errorf("privdrop: lookup user %q: %w", name, err)
		}
		uidStr, gidStr = u.Uid, u.Gid
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return fmt.Errorf("privdrop: parse uid %q: %w", uidStr, err)
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return fmt.Errorf("privdrop: parse gid %q: %w", gidStr, err)
	}

	if err := unix.AllThreadsSetresgid(gid, gid, gid); err != nil {
		return fmt.Errorf("privdrop: setresgid: %w", err)
	}
	if err := unix.AllThreadsSetresuid(uid, uid, uid); err != nil {
		return fmt.Errorf("privdrop: setresuid: %w", err)
	}
	return nil
}

// invokingHome resolves the home directory of the user the process will
// drop privileges to, for locating the ledger/lock files before the drop
// happens (spec §6).
func invokingHome() (string, error) {
	if name := os.Getenv("SUDO_USER"); name != "" {
		if u, err := user.Lookup(name); err == nil {
			return u.HomeDir, nil
		}
	}
	if home := os.Getenv("HOME"); home != "" {
		return home, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("privdrop: resolve home directory: %w", err)
	}
	return u.HomeDir, nil
}
