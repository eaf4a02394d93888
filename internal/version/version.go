// Package version contains the webrelay version information.
package version

// version is set by the linker:
//
//	go build -ldflags "-X github.com/ameshkov/webrelay/internal/version.version=v1.2.3"
var version = "dev"

// Version returns the compiled-in version of webrelay.
func Version() (v string) {
	return version
}
