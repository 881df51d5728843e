//go:build !linux && !windows && !darwin

package volume

func systemProber() (Prober, bool) {
	return unsupported{}, false
}
