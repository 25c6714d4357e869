// Package version provides default versions for client identification.
package version

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
)

var (
	// This should be updated when client behaviour changes in a way that other peers could care
	// about.
	DefaultBep20Prefix = GenerateFingerprint("PW", 0, 1, 0, 0)
	// Main module path and version, and the version of this module, for logs and CLI output.
	DefaultClientDescription string
)

func init() {
	type Newtype struct{}
	var newtype Newtype
	thisPkg := reflect.TypeOf(newtype).PkgPath()
	var (
		mainPath      = "unknown"
		mainVersion   = "unknown"
		engineVersion = "unknown"
	)
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		mainPath = buildInfo.Main.Path
		mainVersion = buildInfo.Main.Version
		thisModule := ""
		// Note that if the main module is the same as this module, we get a version of "(devel)".
		for _, dep := range append(buildInfo.Deps, &buildInfo.Main) {
			if strings.HasPrefix(thisPkg, dep.Path) && len(dep.Path) >= len(thisModule) {
				thisModule = dep.Path
				engineVersion = dep.Version
			}
		}
	}
	DefaultClientDescription = fmt.Sprintf("%v %v (peerwire %v)", mainPath, mainVersion, engineVersion)
}
