package local

import (
	"io/fs"
	"syscall"
	"time"
)

func detectPlatform(string) Platform { return PlatformWindows }

func rawStat(_ string, fi fs.FileInfo) RawStat {
	raw := RawStat{Size: fi.Size(), Mtime: fi.ModTime()}
	if d, ok := fi.Sys().(*syscall.Win32FileAttributeData); ok {
		raw.Atime = timeOf(time.Unix(0, d.LastAccessTime.Nanoseconds()))
		raw.Ctime = timeOf(time.Unix(0, d.CreationTime.Nanoseconds()))
	}
	return raw
}
