// Package version reports the build of the binary.
package version

// Version and Commit are set at build time:
//
//	go build -ldflags="-X 'github.com/AsafMeizner/reels-battle/internal/version.Version=v1.0.0' -X 'github.com/AsafMeizner/reels-battle/internal/version.Commit=abc1234'"
var (
	Version = "dev"
	Commit  = ""
)

// String is the version with the commit appended when known.
func String() string {
	if Commit == "" {
		return Version
	}
	return Version + " (" + Commit + ")"
}
