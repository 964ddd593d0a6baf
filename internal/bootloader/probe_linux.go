package bootloader

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ProbeExclusiveAccess opens path (a USB CDC-ACM device node such as
// /dev/ttyACM0) and attempts to claim it for exclusive access via the
// TIOCEXCL ioctl. It reports whether the claim succeeded, and always
// closes the file descriptor before returning: callers use this only to
// detect whether another process (typically a kernel driver's userspace
// counterpart) already holds the device, not to hold it themselves.
func ProbeExclusiveAccess(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false, fmt.Errorf("bootloader: failed to open %s: %w", path, err)
	}
	defer f.Close()

	fd := int(f.Fd())
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		if err == unix.EBUSY {
			return false, nil
		}
		return false, fmt.Errorf("bootloader: TIOCEXCL on %s failed: %w", path, err)
	}

	_ = unix.IoctlSetInt(fd, unix.TIOCNXCL, 0)
	return true, nil
}
