package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/picorevive/picorevive/pkg/assets"
)

func TestMissingFileIsEmpty(t *testing.T) {
	s := &Store{Path: filepath.Join(t.TempDir(), "state.json")}
	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.Drive != "" || len(st.Assets) != 0 {
		t.Errorf("expected empty state, got %+v", st)
	}
}

func TestUpdates(t *testing.T) {
	s := &Store{Path: filepath.Join(t.TempDir(), "sub", "state.json")}
	if err := s.SetDrive("E:\\"); err != nil {
		t.Fatalf("SetDrive: %v", err)
	}
	if err := s.SetAsset(assets.KindCustom, "/fw/blink.uf2"); err != nil {
		t.Fatalf("SetAsset: %v", err)
	}

	st, err := (&Store{Path: s.Path}).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.Drive != "E:\\" {
		t.Errorf("drive = %q", st.Drive)
	}
	if got := st.Assets[assets.KindCustom]; got != "/fw/blink.uf2" {
		t.Errorf("custom asset = %q", got)
	}

	if err := s.SetDrive(""); err != nil {
		t.Fatalf("SetDrive: %v", err)
	}
	st, _ = s.Load()
	if st.Drive != "" || st.Assets[assets.KindCustom] == "" {
		t.Errorf("clearing the drive changed other fields: %+v", st)
	}
}

func TestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := (&Store{Path: path}).Load(); err == nil {
		t.Errorf("expected a parse error")
	}
}
