//go:build !linux

package main

import (
	"os"
	"os/user"
)

// dropPrivileges is a no-op outside Linux: setresuid/setresgid and the
// SUDO_* convention this package relies on are Linux/sudo-specific.
func dropPrivileges() error { return nil }

func invokingHome() (string, error) {
	if home := os.Getenv("HOME"); home != "" {
		return home, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.HomeDir, nil
}
