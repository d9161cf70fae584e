//go:build dragonfly || openbsd || solaris

package local

import (
	"io/fs"
	"syscall"
	"time"
)

func detectPlatform(string) Platform { return PlatformPosix }

func rawStat(_ string, fi fs.FileInfo) RawStat {
	raw := RawStat{Size: fi.Size(), Mtime: fi.ModTime()}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		raw.Atime = timeOf(time.Unix(st.Atim.Unix()))
		raw.Ctime = timeOf(time.Unix(st.Ctim.Unix()))
	}
	return raw
}
