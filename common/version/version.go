package version

import "fmt"

// VERSION is the conveyor software version, stamped at build time via
// -ldflags "-X github.com/conveyorci/conveyor/common/version.VERSION=...".
var VERSION = "0.0.0-dev"

func VersionToString() string {
	return fmt.Sprintf("v%s", VERSION)
}
