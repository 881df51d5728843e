package flash

import (
	"errors"
	"io"
	"io/fs"
	"os"
)

// FS is the filesystem the sequencer reads images from and writes them to.
type FS interface {
	Stat(name string) (fs.FileInfo, error)
	Open(name string) (io.ReadCloser, error)
	// Create opens name for writing, truncating it.
	Create(name string) (io.WriteCloser, error)
}

type osFS struct{}

// OS is the host filesystem.
var OS FS = osFS{}

func (osFS) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

func (osFS) Open(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

func (osFS) Create(name string) (io.WriteCloser, error) {
	return os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
}

// probeWritable opens dest for writing and closes it straight away. A volume
// that is half unmounted fails here, before anything is committed.
func (s *Sequencer) probeWritable(dest string) error {
	f, err := s.FS.Create(dest)
	if err != nil {
		return newError(KindVolumeNotWritable, err, "cannot write to %s", dest)
	}
	if err := f.Close(); err != nil {
		return newError(KindVolumeNotWritable, err, "cannot write to %s", dest)
	}
	return nil
}

// copyVerified copies src to dest and then compares the sizes of both on
// disk. The operation only proceeds when both exist with equal sizes.
func (s *Sequencer) copyVerified(src, dest string) error {
	in, err := s.FS.Open(src)
	if err != nil {
		return newError(KindMissingAsset, err, "cannot open %s", src)
	}
	defer in.Close()

	out, err := s.FS.Create(dest)
	if err != nil {
		return newError(KindVolumeNotWritable, err, "cannot write to %s", dest)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return newError(KindCopyVerificationFailed, err, "copying to %s", dest)
	}
	// Force the data out to the device before it reboots itself.
	if syncer, ok := out.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
			out.Close()
			return newError(KindCopyVerificationFailed, err, "flushing %s", dest)
		}
	}
	if err := out.Close(); err != nil {
		return newError(KindCopyVerificationFailed, err, "closing %s", dest)
	}

	srcInfo, err := s.FS.Stat(src)
	if err != nil {
		return newError(KindCopyVerificationFailed, err, "source %s vanished", src)
	}
	destInfo, err := s.FS.Stat(dest)
	if err != nil {
		return newError(KindCopyVerificationFailed, err, "file transfer failed, %s not found on destination drive", dest)
	}
	if srcInfo.Size() != destInfo.Size() {
		return newError(KindCopyVerificationFailed, nil, "file transfer failed, size mismatch: %s is %d bytes, %s is %d bytes", src, srcInfo.Size(), dest, destInfo.Size())
	}
	return nil
}
