// Package build exposes version/revision/branch metadata injected at
// link time via -ldflags, the same mechanism prometheus/common/version
// uses across the ecosystem this service was built alongside.
package build

import (
	"github.com/prometheus/common/version"

	"github.com/testprobe/testprobe/internal/ingress"
)

// Info returns the build metadata surfaced at /api/v1/buildinfo.
func Info() ingress.BuildInfo {
	return ingress.BuildInfo{
		Version:  version.Version,
		Revision: version.Revision,
		Branch:   version.Branch,
	}
}
