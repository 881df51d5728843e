package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
)

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// Ensure loads the first .env file found from the working directory up to
// the filesystem root. Variables already set in the environment win.
// Subsequent calls are no-ops.
func Ensure() error {
	// Tests stay hermetic unless GOTEST_LOAD_DOTENV=1.
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		path, err := findDotEnv()
		if err != nil {
			loadErr = err
			glog.V(1).Infof("config: search .env failed: %v", err)
			return
		}
		if path == "" {
			return
		}
		if err := godotenv.Load(path); err != nil {
			loadErr = err
			glog.Warningf("config: load %s failed: %v", path, err)
			return
		}
		loadedPath = path
		glog.V(1).Infof("config: loaded %s", path)
	})
	return loadErr
}

// LoadedPath returns the .env file that was loaded, or "".
func LoadedPath() string {
	return loadedPath
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func findDotEnv() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findDotEnvFrom(wd)
}

func findDotEnvFrom(dir string) (string, error) {
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
