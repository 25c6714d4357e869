package version

import (
	"fmt"
)

// 0-9 map to '0'-'9', then 'A' upwards.
func versionToChar(v int) rune {
	switch {
	case v >= 0 && v < 10:
		return rune('0' + v)
	case v >= 10 && v < 36:
		return rune('A' + (v - 10))
	default:
		panic(fmt.Sprintf("version number %d can't be a fingerprint character", v))
	}
}

// Builds an Azureus-style BEP 20 prefix, like "-PW0100-".
func GenerateFingerprint(name string, major, minor, revision, tag int) string {
	if len(name) < 2 {
		name = "--"
	}
	return fmt.Sprintf("-%c%c%c%c%c%c-",
		name[0],
		name[1],
		versionToChar(major),
		versionToChar(minor),
		versionToChar(revision),
		versionToChar(tag),
	)
}
