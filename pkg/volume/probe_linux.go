//go:build linux

package volume

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
)

const (
	mountInfoPath = "/proc/self/mountinfo"
	byLabelDir    = "/dev/disk/by-label"
	sysBlockDir   = "/sys/class/block"
)

type linuxProber struct{}

func systemProber() (Prober, bool) {
	return linuxProber{}, true
}

func (linuxProber) ListVolumes() []Volume {
	f, err := os.Open(mountInfoPath)
	if err != nil {
		glog.Warningf("Could not read %s: %v", mountInfoPath, err)
		return nil
	}
	defer f.Close()

	labels := readLabels()
	var res []Volume
	for _, m := range parseMountInfo(f) {
		if !strings.HasPrefix(m.source, "/dev/") {
			continue
		}
		if !isRemovable(m) {
			continue
		}
		dev, err := filepath.EvalSymlinks(m.source)
		if err != nil {
			dev = m.source
		}
		res = append(res, Volume{
			Path:  m.mountPoint,
			Label: labels[dev],
		})
	}
	return sortVolumes(res)
}

// readLabels maps resolved device nodes to their labels. Failures only mean
// that affected volumes are reported without a label.
func readLabels() map[string]string {
	res := make(map[string]string)
	entries, err := os.ReadDir(byLabelDir)
	if err != nil {
		if glog.V(1) {
			glog.Infof("No labels available from %s: %v", byLabelDir, err)
		}
		return res
	}
	for _, e := range entries {
		dev, err := filepath.EvalSymlinks(filepath.Join(byLabelDir, e.Name()))
		if err != nil {
			continue
		}
		res[dev] = decodeLabel(e.Name())
	}
	return res
}

// isRemovable checks the sysfs removable flag of the device or, for a
// partition, of its parent disk. Devices that do not set the flag still
// count when they carry a FAT-like filesystem under an automount root.
func isRemovable(m mountEntry) bool {
	name := filepath.Base(m.source)
	sysDir, err := filepath.EvalSymlinks(filepath.Join(sysBlockDir, name))
	if err == nil {
		for _, dir := range []string{sysDir, filepath.Dir(sysDir)} {
			b, err := os.ReadFile(filepath.Join(dir, "removable"))
			if err != nil {
				continue
			}
			if strings.TrimSpace(string(b)) == "1" {
				return true
			}
			break
		}
	}
	return removableFSTypes[m.fsType] && automountRoot(m.mountPoint)
}
