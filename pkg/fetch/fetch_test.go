package fetch

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/ulikunitz/xz"
)

type entry struct {
	name string
	data string
}

var bundle = []entry{
	{"Pico Revival/flash_nuke.uf2", "nuke"},
	{"Pico Revival/RPI_PICO-20241129-v1.24.1.uf2", "micropython"},
	{"Pico Revival/readme.txt", "hello"},
	{"adafruit-circuitpython-raspberry_pi_pico-en_US-9.2.1.uf2", "circuitpython"},
}

func makeZip(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		f, err := w.Create(e.name)
		if err != nil {
			t.Fatal(err)
		}
		f.Write([]byte(e.data))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func makeTarXZ(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(xw)
	for _, e := range entries {
		if err := tw.WriteHeader(&tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.data)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		tw.Write([]byte(e.data))
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// makeRAR writes a RAR 1.5 archive holding entries uncompressed.
func makeRAR(entries []entry) []byte {
	block := func(typ byte, flags uint16, body []byte) []byte {
		h := []byte{typ}
		h = binary.LittleEndian.AppendUint16(h, flags)
		h = binary.LittleEndian.AppendUint16(h, uint16(7+len(body)))
		h = append(h, body...)
		return append(binary.LittleEndian.AppendUint16(nil, uint16(crc32.ChecksumIEEE(h))), h...)
	}
	out := []byte("Rar!\x1a\x07\x00")
	out = append(out, block(0x73, 0, make([]byte, 6))...)
	for _, e := range entries {
		name := strings.ReplaceAll(e.name, "/", `\`)
		var b []byte
		b = binary.LittleEndian.AppendUint32(b, uint32(len(e.data))) // packed
		b = binary.LittleEndian.AppendUint32(b, uint32(len(e.data))) // unpacked
		b = append(b, 2)                                             // Windows
		b = binary.LittleEndian.AppendUint32(b, crc32.ChecksumIEEE([]byte(e.data)))
		b = binary.LittleEndian.AppendUint32(b, 0x597d6000) // 2024-11-29 12:00
		b = append(b, 20, 0x30)                             // version 2.0, stored
		b = binary.LittleEndian.AppendUint16(b, uint16(len(name)))
		b = binary.LittleEndian.AppendUint32(b, 0x20)
		b = append(b, name...)
		out = append(out, block(0x74, 0x8000, b)...)
		out = append(out, e.data...)
	}
	return append(out, block(0x7b, 0x4000, nil)...)
}

func serve(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func names(paths []string) []string {
	var res []string
	for _, p := range paths {
		res = append(res, filepath.Base(p))
	}
	sort.Strings(res)
	return res
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	des, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var res []string
	for _, de := range des {
		res = append(res, de.Name())
	}
	sort.Strings(res)
	return res
}

var wantImages = []string{
	"RPI_PICO-20241129-v1.24.1.uf2",
	"adafruit-circuitpython-raspberry_pi_pico-en_US-9.2.1.uf2",
	"flash_nuke.uf2",
}

func TestFetchArchives(t *testing.T) {
	srv := serve(t, map[string][]byte{
		"/bundle.zip":    makeZip(t, bundle),
		"/bundle.tar.xz": makeTarXZ(t, bundle),
		"/bundle.rar":    makeRAR(bundle),
	})
	for _, p := range []string{"/bundle.zip", "/bundle.tar.xz", "/bundle.rar"} {
		t.Run(p, func(t *testing.T) {
			dir := t.TempDir()
			got, err := (&Fetcher{}).Fetch(context.Background(), srv.URL+p, dir)
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if strings.Join(names(got), ",") != strings.Join(wantImages, ",") {
				t.Errorf("images = %v, want %v", names(got), wantImages)
			}
			if strings.Join(dirNames(t, dir), ",") != strings.Join(wantImages, ",") {
				t.Errorf("directory holds %v, want only the images", dirNames(t, dir))
			}
			data, err := os.ReadFile(filepath.Join(dir, "flash_nuke.uf2"))
			if err != nil || string(data) != "nuke" {
				t.Errorf("nuke image = %q, %v", data, err)
			}
		})
	}
}

func TestFetchBareImage(t *testing.T) {
	srv := serve(t, map[string][]byte{"/fw/flash_nuke.uf2": []byte("nuke")})
	dir := t.TempDir()
	got, err := (&Fetcher{Client: srv.Client()}).Fetch(context.Background(), srv.URL+"/fw/flash_nuke.uf2", dir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 || filepath.Base(got[0]) != "flash_nuke.uf2" {
		t.Errorf("images = %v", got)
	}
}

func TestFetchDefaultBundleName(t *testing.T) {
	srv := serve(t, map[string][]byte{"/downloads/tools/TSTP-Pico_Revival.rar": makeRAR(bundle)})
	dir := t.TempDir()
	got, err := (&Fetcher{}).Fetch(context.Background(), srv.URL+"/downloads/tools/TSTP-Pico_Revival.rar", dir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != len(wantImages) {
		t.Errorf("images = %v, want %v", names(got), wantImages)
	}
	if _, err := os.Stat(filepath.Join(dir, "TSTP-Pico_Revival.rar")); !os.IsNotExist(err) {
		t.Errorf("archive not removed after extraction: %v", err)
	}
}

func TestFetchCorruptRAR(t *testing.T) {
	data := makeRAR(bundle)
	data[55] ^= 0xff // inside the first file name, breaks the header checksum
	srv := serve(t, map[string][]byte{"/bundle.rar": data})
	_, err := (&Fetcher{}).Fetch(context.Background(), srv.URL+"/bundle.rar", t.TempDir())
	if err == nil || errors.Is(err, ErrUnsupportedArchive) {
		t.Fatalf("err = %v, want an extraction error", err)
	}
}

func TestFetchUnknownFormatIsKept(t *testing.T) {
	srv := serve(t, map[string][]byte{"/bundle.7z": []byte("7z\xbc\xaf\x27\x1c")})
	dir := t.TempDir()
	_, err := (&Fetcher{}).Fetch(context.Background(), srv.URL+"/bundle.7z", dir)
	if !errors.Is(err, ErrUnsupportedArchive) {
		t.Fatalf("err = %v, want ErrUnsupportedArchive", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "bundle.7z")); err != nil {
		t.Errorf("archive not kept: %v", err)
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := serve(t, nil)
	dir := t.TempDir()
	if _, err := (&Fetcher{}).Fetch(context.Background(), srv.URL+"/missing.zip", dir); err == nil {
		t.Fatalf("expected an error")
	}
	if left := dirNames(t, dir); len(left) != 0 {
		t.Errorf("files left behind: %v", left)
	}
}

func TestFetchCancelRemovesPartial(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte{1}, 4096))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := (&Fetcher{}).Fetch(ctx, srv.URL+"/bundle.zip", dir)
	if err == nil {
		t.Fatalf("expected an error after cancel")
	}
	if left := dirNames(t, dir); len(left) != 0 {
		t.Errorf("partial download left behind: %v", left)
	}
}

func TestImageName(t *testing.T) {
	for in, want := range map[string]string{
		"a/b/flash_nuke.uf2":    "flash_nuke.uf2",
		`..\..\evil.UF2`:        "evil.UF2",
		"../../etc/passwd":      "",
		"dir/":                  "",
		"firmware.uf2.txt":      "",
		"/abs/RPI_PICO-1.uf2":   "RPI_PICO-1.uf2",
		"Pico Revival/notes.md": "",
	} {
		if got := imageName(in); got != want {
			t.Errorf("imageName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestArchiveName(t *testing.T) {
	if n, err := archiveName(DefaultURL); err != nil || n != "TSTP-Pico_Revival.rar" {
		t.Errorf("archiveName(DefaultURL) = %q, %v", n, err)
	}
	if _, err := archiveName("file:///tmp/x.zip"); err == nil {
		t.Errorf("file URLs should be refused")
	}
}

func TestSaveLinkTo(t *testing.T) {
	dir := t.TempDir()
	p, err := SaveLinkTo(dir, DefaultURL)
	if err != nil {
		t.Fatalf("SaveLinkTo: %v", err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), DefaultURL) {
		t.Errorf("link file = %q", data)
	}
}
