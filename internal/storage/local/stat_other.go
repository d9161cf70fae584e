//go:build !linux && !darwin && !freebsd && !netbsd && !dragonfly && !openbsd && !solaris && !windows

package local

import "io/fs"

func detectPlatform(string) Platform { return PlatformOther }

// rawStat only has the modification time to work with here.
func rawStat(_ string, fi fs.FileInfo) RawStat {
	return RawStat{Size: fi.Size(), Mtime: fi.ModTime()}
}
