package local

import (
	"io/fs"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func detectPlatform(root string) Platform {
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, root, 0, unix.STATX_BTIME, &stx); err != nil {
		return PlatformPosix
	}
	if stx.Mask&unix.STATX_BTIME != 0 {
		return PlatformPosixBirth
	}
	return PlatformPosix
}

func rawStat(path string, fi fs.FileInfo) RawStat {
	raw := RawStat{Size: fi.Size(), Mtime: fi.ModTime()}

	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, 0,
		unix.STATX_ATIME|unix.STATX_MTIME|unix.STATX_CTIME|unix.STATX_BTIME, &stx)
	if err == nil {
		raw.Atime = timeOf(statxTime(stx.Atime))
		raw.Mtime = statxTime(stx.Mtime)
		raw.Ctime = timeOf(statxTime(stx.Ctime))
		if stx.Mask&unix.STATX_BTIME != 0 {
			birth := statxTime(stx.Btime)
			raw.Birthtime = &birth
		}
		return raw
	}

	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		raw.Atime = timeOf(time.Unix(st.Atim.Unix()))
		raw.Ctime = timeOf(time.Unix(st.Ctim.Unix()))
	}
	return raw
}

func statxTime(ts unix.StatxTimestamp) time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}
