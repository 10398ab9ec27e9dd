package runtime

import (
	goruntime "runtime"
	"runtime/debug"

	"github.com/tjfontaine/testernest-go/internal/core/domain"
)

// Platform is reported in every event's device context.
const Platform = "go"

// DetectDeviceContext describes the running binary from its build info.
// Fields that cannot be determined are left empty.
func DetectDeviceContext() domain.DeviceContext {
	dc := domain.DeviceContext{
		Platform:    Platform,
		DeviceModel: goruntime.GOARCH,
		OSVersion:   goruntime.GOOS,
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return dc
	}
	dc.PackageName = info.Main.Path
	if info.Main.Version != "(devel)" {
		dc.AppVersion = info.Main.Version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			dc.BuildNumber = s.Value
			if len(dc.BuildNumber) > 12 {
				dc.BuildNumber = dc.BuildNumber[:12]
			}
		}
	}
	return dc
}
