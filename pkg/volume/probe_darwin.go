//go:build darwin

package volume

import (
	"os"
	"path/filepath"

	"github.com/golang/glog"
)

const volumesDir = "/Volumes"

type darwinProber struct{}

func systemProber() (Prober, bool) {
	return darwinProber{}, true
}

// ListVolumes lists /Volumes. macOS mounts removable media under their
// label, so the directory name doubles as the label. The boot volume is a
// symlink to / and is skipped.
func (darwinProber) ListVolumes() []Volume {
	entries, err := os.ReadDir(volumesDir)
	if err != nil {
		glog.Warningf("Could not read %s: %v", volumesDir, err)
		return nil
	}
	var res []Volume
	for _, e := range entries {
		if e.Type()&os.ModeSymlink != 0 || !e.IsDir() {
			continue
		}
		res = append(res, Volume{
			Path:  filepath.Join(volumesDir, e.Name()),
			Label: e.Name(),
		})
	}
	return sortVolumes(res)
}
