package local

import (
	"time"

	"github.com/stardrive/stardrive/internal/storage"
)

// Platform selects how raw stat times map onto FileInfo timestamps.
// It is detected once per backend.
type Platform int

const (
	PlatformOther      Platform = iota
	PlatformPosix               // ctime is the status change time, no birth time
	PlatformPosixBirth          // ctime is the status change time, birth time available
	PlatformWindows             // ctime is the creation time
)

func (p Platform) String() string {
	switch p {
	case PlatformWindows:
		return "windows"
	case PlatformPosixBirth:
		return "posix+birthtime"
	case PlatformPosix:
		return "posix"
	default:
		return "other"
	}
}

// RawStat is the platform neutral subset of a stat result. Optional times
// are nil when the platform does not report them.
type RawStat struct {
	Size      int64
	Mtime     time.Time
	Atime     *time.Time
	Ctime     *time.Time // creation time on Windows, status change time elsewhere
	Birthtime *time.Time
}

// ParseStat derives the entry timestamps from a raw stat result.
func ParseStat(raw RawStat, platform Platform) storage.Timestamps {
	mtime := raw.Mtime
	ts := storage.Timestamps{
		ModifiedAt: &mtime,
		AccessedAt: copyTime(raw.Atime),
	}

	switch platform {
	case PlatformWindows:
		ts.CreatedAt = copyTime(raw.Ctime)
		ts.CustomUpdatedAt = copyTime(raw.Atime)
	case PlatformPosixBirth, PlatformPosix:
		ts.StatusChangedAt = copyTime(raw.Ctime)
		ts.CustomUpdatedAt = copyTime(raw.Ctime)
		ts.CreatedAt = copyTime(raw.Birthtime)
	default:
		ts.StatusChangedAt = copyTime(raw.Ctime)
	}
	return ts
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func timeOf(t time.Time) *time.Time { return &t }
