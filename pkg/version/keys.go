package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Physical layout inside one backend:
//
//	v/<name>/<%010d version>  version record (inline bytes + metadata)
//	x/<version_id>            pointer from version_id to (name, version)
//	b/<sha256>                deduplicated blob (owned by pkg/dedup)
//	i/<sha256>                persisted content record (owned by pkg/dedup)
//	u/<name>                  staging target of presigned uploads
const (
	versionPrefix = "v/"
	pointerPrefix = "x/"
	stagingPrefix = "u/"
	versionDigits = 10
)

// RecordKey is the physical key of version v of name.
func RecordKey(name string, v uint32) string {
	return fmt.Sprintf("%s%s/%0*d", versionPrefix, name, versionDigits, v)
}

// RecordPrefix is the prefix shared by every version of name.
func RecordPrefix(name string) string {
	return versionPrefix + name + "/"
}

// PointerKey is the physical key of the pointer for versionID.
func PointerKey(versionID string) string {
	return pointerPrefix + versionID
}

// StagingKey is where a presigned upload for name lands.
func StagingKey(name string) string {
	return stagingPrefix + name
}

// VersionPrefix is the prefix shared by every version record of every file.
func VersionPrefix() string { return versionPrefix }

// parseRecordKey splits a version record key into name and version.
// ok is false for keys that are not version records.
func parseRecordKey(key string) (name string, v uint32, ok bool) {
	rest, found := strings.CutPrefix(key, versionPrefix)
	if !found {
		return "", 0, false
	}
	i := strings.LastIndexByte(rest, '/')
	if i <= 0 {
		return "", 0, false
	}
	suffix := rest[i+1:]
	if len(suffix) != versionDigits {
		return "", 0, false
	}
	n, err := strconv.ParseUint(suffix, 10, 32)
	if err != nil {
		return "", 0, false
	}
	return rest[:i], uint32(n), true
}
