//go:build windows

package volume

import (
	"github.com/golang/glog"
	"golang.org/x/sys/windows"
)

type windowsProber struct{}

func systemProber() (Prober, bool) {
	return windowsProber{}, true
}

func (windowsProber) ListVolumes() []Volume {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		glog.Warningf("GetLogicalDrives failed: %v", err)
		return nil
	}
	// Empty card readers would otherwise pop up "no disk" dialogs.
	old := windows.SetErrorMode(windows.SEM_FAILCRITICALERRORS)
	defer windows.SetErrorMode(old)

	var res []Volume
	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		root := string(rune('A'+i)) + `:\`
		rootp, err := windows.UTF16PtrFromString(root)
		if err != nil {
			continue
		}
		if windows.GetDriveType(rootp) != windows.DRIVE_REMOVABLE {
			continue
		}
		res = append(res, Volume{
			Path:  root,
			Label: volumeLabel(rootp),
		})
	}
	return sortVolumes(res)
}

func volumeLabel(root *uint16) string {
	name := make([]uint16, windows.MAX_PATH+1)
	if err := windows.GetVolumeInformation(root, &name[0], uint32(len(name)), nil, nil, nil, nil, 0); err != nil {
		return ""
	}
	return windows.UTF16ToString(name)
}
