// Package privdrop implements the privilege-drop half of §4.F's lifecycle:
// bind every listener as root, then drop to an unprivileged uid/gid before
// the first packet is read. Dropping privileges is an OS-level primitive
// (setgroups, then setgid, then setuid) — golang.org/x/sys/unix is the
// teacher's (and onoffswitchrespiratorycenter178-beacon's) dependency for
// exactly this kind of raw syscall, so DNSSRC uses it rather than hand
// rolling syscall numbers.
package privdrop

import (
	"fmt"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// Drop changes the process's effective (and real) uid/gid to the named
// unprivileged user/group, clearing supplementary groups so privileges
// cannot be silently reacquired (§9 design note). It is a no-op when the
// process is not running as root.
func Drop(userName, groupName string) error {
	if unix.Getuid() != 0 {
		return nil
	}

	gid, err := lookupGID(groupName)
	if err != nil {
		return fmt.Errorf("privdrop: resolving group %q: %w", groupName, err)
	}
	uid, err := lookupUID(userName)
	if err != nil {
		return fmt.Errorf("privdrop: resolving user %q: %w", userName, err)
	}

	// Drop supplementary groups first: re-acquiring privileges through a
	// leftover group membership must be impossible.
	if err := unix.Setgroups(nil); err != nil {
		return fmt.Errorf("privdrop: setgroups: %w", err)
	}
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("privdrop: setgid(%d): %w", gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("privdrop: setuid(%d): %w", uid, err)
	}
	return nil
}

func lookupUID(name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

func lookupGID(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}
