package volume

import (
	"bufio"
	"io"
	"runtime"
	"strconv"
	"strings"
)

// samePath compares mount roots, ignoring trailing separators so that "E:"
// and "E:\" name the same drive.
func samePath(a, b string) bool {
	a = strings.TrimRight(a, `\/`)
	b = strings.TrimRight(b, `\/`)
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// SamePath is exported for callers that persist drive paths between runs.
func SamePath(a, b string) bool {
	return samePath(a, b)
}

type mountEntry struct {
	mountPoint string
	fsType     string
	source     string
}

// parseMountInfo reads /proc/self/mountinfo. Each line looks like
//
//	36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - vfat /dev/sdb1 rw
//
// with a variable number of optional fields before the " - " separator.
func parseMountInfo(r io.Reader) []mountEntry {
	var res []mountEntry
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()
		pre, post, ok := strings.Cut(line, " - ")
		if !ok {
			continue
		}
		preFields := strings.Fields(pre)
		postFields := strings.Fields(post)
		if len(preFields) < 5 || len(postFields) < 2 {
			continue
		}
		res = append(res, mountEntry{
			mountPoint: unescapeOctal(preFields[4]),
			fsType:     postFields[0],
			source:     unescapeOctal(postFields[1]),
		})
	}
	return res
}

// unescapeOctal undoes the kernel's \040-style escaping of mount paths.
func unescapeOctal(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// decodeLabel undoes udev's \xNN escaping of /dev/disk/by-label entries.
func decodeLabel(s string) string {
	if !strings.Contains(s, `\x`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) && s[i+1] == 'x' {
			if v, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

var removableFSTypes = map[string]bool{
	"vfat":    true,
	"msdos":   true,
	"exfat":   true,
	"fuseblk": true,
}

// automountRoot reports whether a mount point lives where desktop
// automounters put removable media.
func automountRoot(mountPoint string) bool {
	for _, prefix := range []string{"/media/", "/run/media/", "/mnt/"} {
		if strings.HasPrefix(mountPoint, prefix) {
			return true
		}
	}
	return false
}
