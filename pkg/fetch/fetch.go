// Package fetch downloads a firmware bundle and unpacks the UF2 images in it.
package fetch

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/golang/glog"
	"github.com/nwaples/rardecode/v2"
	"github.com/ulikunitz/xz"
)

// DefaultURL is the bundle with the nuke image and both Python runtimes.
const DefaultURL = "https://www.tstp.xyz/downloads/tools/TSTP-Pico_Revival.rar"

const (
	MaxDownload = 256 << 20
	MaxImage    = 32 << 20
)

var ErrUnsupportedArchive = errors.New("unsupported archive format")

type format int

const (
	formatUnknown format = iota
	formatZip
	formatTarXZ
	formatUF2
	formatRAR
)

func detect(name string) format {
	n := strings.ToLower(name)
	switch {
	case strings.HasSuffix(n, ".zip"):
		return formatZip
	case strings.HasSuffix(n, ".tar.xz"), strings.HasSuffix(n, ".txz"):
		return formatTarXZ
	case strings.HasSuffix(n, ".uf2"):
		return formatUF2
	case strings.HasSuffix(n, ".rar"):
		return formatRAR
	}
	return formatUnknown
}

type Fetcher struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

func (f *Fetcher) client() *http.Client {
	if f == nil || f.Client == nil {
		return http.DefaultClient
	}
	return f.Client
}

// Fetch downloads rawURL into destDir and unpacks the UF2 images it holds
// into destDir itself, dropping any directory structure. It returns the
// paths of the images written. Cancelling ctx abandons the transfer and
// removes the partial download.
//
// Zip, tar.xz and RAR archives are unpacked. Any other download that is not
// a bare UF2 image is kept in destDir and reported with ErrUnsupportedArchive.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destDir string) ([]string, error) {
	name, err := archiveName(rawURL)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", destDir, err)
	}
	archive, err := f.download(ctx, rawURL, destDir, name)
	if err != nil {
		return nil, err
	}

	var images []string
	switch detect(name) {
	case formatUF2:
		return []string{archive}, nil
	case formatZip:
		images, err = extractZip(ctx, archive, destDir)
	case formatTarXZ:
		images, err = extractTarXZ(ctx, archive, destDir)
	case formatRAR:
		images, err = extractRAR(ctx, archive, destDir)
	default:
		return nil, fmt.Errorf("%s kept at %s, extract it into %s by hand: %w", name, archive, destDir, ErrUnsupportedArchive)
	}
	if err != nil {
		return images, fmt.Errorf("extracting %s: %w", name, err)
	}
	if err := os.Remove(archive); err != nil {
		glog.Warningf("Could not remove %s: %v", archive, err)
	}
	glog.Infof("Extracted %d images from %s", len(images), name)
	return images, nil
}

func archiveName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid URL %q: scheme must be http or https", rawURL)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "bundle"
	}
	return name, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL, destDir, name string) (string, error) {
	glog.Infof("Downloading %s...", rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("could not download bundle: %w", err)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("could not download bundle: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("could not download bundle: %s", resp.Status)
	}

	tmp, err := os.CreateTemp(destDir, ".download-*")
	if err != nil {
		return "", err
	}
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, MaxDownload+1))
	if err == nil && n > MaxDownload {
		err = fmt.Errorf("bundle larger than %d bytes", MaxDownload)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("could not download bundle: %w", err)
	}
	dest := filepath.Join(destDir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	glog.Infof("Downloaded %d bytes to %s", n, dest)
	return dest, nil
}

// imageName returns the flat file name an archive entry is unpacked to, or
// "" when the entry is not a UF2 image.
func imageName(entry string) string {
	base := path.Base(strings.ReplaceAll(entry, `\`, "/"))
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	if !strings.EqualFold(path.Ext(base), ".uf2") {
		return ""
	}
	return base
}

func writeImage(destDir, name string, r io.Reader) (string, error) {
	dest := filepath.Join(destDir, name)
	tmp, err := os.CreateTemp(destDir, ".extract-*")
	if err != nil {
		return "", err
	}
	n, err := io.Copy(tmp, io.LimitReader(r, MaxImage+1))
	if err == nil && n > MaxImage {
		err = fmt.Errorf("%s larger than %d bytes", name, MaxImage)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	glog.V(1).Infof("Wrote %s", dest)
	return dest, nil
}

func extractZip(ctx context.Context, archive, destDir string) ([]string, error) {
	z, err := zip.OpenReader(archive)
	if err != nil {
		return nil, err
	}
	defer z.Close()

	var res []string
	for _, f := range z.File {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		name := imageName(f.Name)
		if name == "" {
			glog.V(1).Infof("Skipping %s", f.Name)
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return res, fmt.Errorf("%s: %w", f.Name, err)
		}
		p, err := writeImage(destDir, name, rc)
		rc.Close()
		if err != nil {
			return res, fmt.Errorf("%s: %w", f.Name, err)
		}
		res = append(res, p)
	}
	return res, nil
}

func extractTarXZ(ctx context.Context, archive, destDir string) ([]string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	xr, err := xz.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	tr := tar.NewReader(xr)

	var res []string
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := imageName(hdr.Name)
		if name == "" {
			glog.V(1).Infof("Skipping %s", hdr.Name)
			continue
		}
		p, err := writeImage(destDir, name, tr)
		if err != nil {
			return res, fmt.Errorf("%s: %w", hdr.Name, err)
		}
		res = append(res, p)
	}
}

func extractRAR(ctx context.Context, archive, destDir string) ([]string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rr, err := rardecode.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}

	var res []string
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		hdr, err := rr.Next()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		if hdr.IsDir {
			continue
		}
		name := imageName(hdr.Name)
		if name == "" {
			glog.V(1).Infof("Skipping %s", hdr.Name)
			continue
		}
		p, err := writeImage(destDir, name, rr)
		if err != nil {
			return res, fmt.Errorf("%s: %w", hdr.Name, err)
		}
		res = append(res, p)
	}
}

// LinkFileName is the file SaveLink writes.
const LinkFileName = "Pico Revival download link.txt"

// SaveLink writes rawURL to a text file on the user's desktop so the bundle
// can be fetched by hand later. It returns the file written.
func SaveLink(rawURL string) (string, error) {
	dir := xdg.UserDirs.Desktop
	if dir == "" {
		dir = xdg.Home
	}
	return SaveLinkTo(dir, rawURL)
}

func SaveLinkTo(dir, rawURL string) (string, error) {
	p := filepath.Join(dir, LinkFileName)
	content := fmt.Sprintf("Download the firmware bundle from:\n%s\n", rawURL)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("saving download link: %w", err)
	}
	return p, nil
}
