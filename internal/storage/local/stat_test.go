package local

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStat(withBirth bool) RawStat {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := RawStat{
		Size:  42,
		Mtime: base.Add(2 * time.Hour),
		Atime: timeOf(base.Add(3 * time.Hour)),
		Ctime: timeOf(base.Add(1 * time.Hour)),
	}
	if withBirth {
		birth := base
		raw.Birthtime = &birth
	}
	return raw
}

func TestParseStatWindows(t *testing.T) {
	raw := sampleStat(false)
	ts := ParseStat(raw, PlatformWindows)

	require.NotNil(t, ts.CreatedAt)
	assert.Equal(t, *raw.Ctime, *ts.CreatedAt, "ctime is the creation time on windows")
	assert.Equal(t, raw.Mtime, *ts.ModifiedAt)
	assert.Equal(t, *raw.Atime, *ts.AccessedAt)
	assert.Equal(t, *raw.Atime, *ts.CustomUpdatedAt)
	assert.Nil(t, ts.StatusChangedAt)
}

func TestParseStatPosixWithBirthtime(t *testing.T) {
	raw := sampleStat(true)
	ts := ParseStat(raw, PlatformPosixBirth)

	require.NotNil(t, ts.CreatedAt)
	assert.Equal(t, *raw.Birthtime, *ts.CreatedAt)
	assert.Equal(t, *raw.Ctime, *ts.StatusChangedAt)
	assert.Equal(t, *raw.Ctime, *ts.CustomUpdatedAt)
	assert.Equal(t, raw.Mtime, *ts.ModifiedAt)
}

func TestParseStatPosixWithoutBirthtime(t *testing.T) {
	raw := sampleStat(false)

	for _, p := range []Platform{PlatformPosix, PlatformPosixBirth} {
		ts := ParseStat(raw, p)
		assert.Nil(t, ts.CreatedAt, p.String())
		require.NotNil(t, ts.StatusChangedAt, p.String())
		assert.Equal(t, *raw.Ctime, *ts.StatusChangedAt, p.String())
	}
}

func TestParseStatOther(t *testing.T) {
	raw := sampleStat(true)
	ts := ParseStat(raw, PlatformOther)

	assert.Nil(t, ts.CreatedAt)
	assert.Nil(t, ts.CustomUpdatedAt)
	require.NotNil(t, ts.StatusChangedAt)
	assert.Equal(t, *raw.Ctime, *ts.StatusChangedAt)
	assert.Equal(t, raw.Mtime, *ts.ModifiedAt)
	assert.Equal(t, *raw.Atime, *ts.AccessedAt)
}

func TestParseStatMissingTimesStayNil(t *testing.T) {
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := RawStat{Size: 1, Mtime: mtime}

	for _, p := range []Platform{PlatformOther, PlatformPosix, PlatformPosixBirth, PlatformWindows} {
		ts := ParseStat(raw, p)
		require.NotNil(t, ts.ModifiedAt, p.String())
		assert.Equal(t, mtime, *ts.ModifiedAt, p.String())
		assert.Nil(t, ts.AccessedAt, p.String())
		assert.Nil(t, ts.StatusChangedAt, p.String())
		assert.Nil(t, ts.CreatedAt, p.String())
		assert.Nil(t, ts.CustomUpdatedAt, p.String())
	}
}

func TestParseStatDoesNotAlias(t *testing.T) {
	raw := sampleStat(true)
	ts := ParseStat(raw, PlatformPosixBirth)

	*ts.CreatedAt = time.Time{}
	*ts.StatusChangedAt = time.Time{}
	*ts.AccessedAt = time.Time{}
	assert.False(t, raw.Birthtime.IsZero())
	assert.False(t, raw.Ctime.IsZero())
	assert.False(t, raw.Atime.IsZero())
}

func TestPlatformString(t *testing.T) {
	assert.Equal(t, "windows", PlatformWindows.String())
	assert.Equal(t, "posix", PlatformPosix.String())
	assert.Equal(t, "posix+birthtime", PlatformPosixBirth.String())
	assert.Equal(t, "other", PlatformOther.String())
}
