//go:build darwin || freebsd || netbsd

package local

import (
	"io/fs"
	"syscall"
	"time"
)

func detectPlatform(string) Platform { return PlatformPosixBirth }

func rawStat(_ string, fi fs.FileInfo) RawStat {
	raw := RawStat{Size: fi.Size(), Mtime: fi.ModTime()}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return raw
	}
	raw.Atime = timeOf(time.Unix(st.Atimespec.Unix()))
	raw.Ctime = timeOf(time.Unix(st.Ctimespec.Unix()))
	if st.Birthtimespec.Sec > 0 {
		birth := time.Unix(st.Birthtimespec.Unix())
		raw.Birthtime = &birth
	}
	return raw
}
