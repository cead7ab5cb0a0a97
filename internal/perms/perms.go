// Package perms resolves the UID and GID that mounted inodes are owned by
// when the user has not overridden them with --uid/--gid.
package perms

import (
	"fmt"
	"os/user"
	"strconv"
)

// MyUserAndGroup returns the UID and GID of the process invoking the mount,
// the ownership every inode gets unless overridden.
func MyUserAndGroup() (uid uint32, gid uint32, err error) {
	u, err := user.Current()
	if err != nil {
		return 0, 0, fmt.Errorf("user.Current: %w", err)
	}

	uid64, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing uid %q: %w", u.Uid, err)
	}

	gid64, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing gid %q: %w", u.Gid, err)
	}

	return uint32(uid64), uint32(gid64), nil
}
