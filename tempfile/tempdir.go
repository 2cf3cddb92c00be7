package tempfile

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// spillDirName is the directory created under the home or working directory
// when no system temp directory is usable.
const spillDirName = ".featsort-tmp"

var (
	diskPreferredDir string
	memoryAllowedDir string
	dirDiscoveryOnce sync.Once

	cachedHomeDir string
	cachedWorkDir string
	cachedOSTemp  string
)

// GetTempDir returns the directory spill files should be created in.
// A usable dir is returned as is. Otherwise the choice is discovered once per
// process: with preferDiskBacked, directories that are traditionally on disk
// (/var/tmp) win over ones that may be tmpfs (/tmp).
func GetTempDir(dir string, preferDiskBacked bool) string {
	if dir != "" && isDirectoryUsable(dir) {
		return dir
	}

	dirDiscoveryOnce.Do(discoverDirectories)

	if preferDiskBacked {
		return diskPreferredDir
	}
	return memoryAllowedDir
}

func discoverDirectories() {
	cachedOSTemp = os.TempDir()
	if home, err := os.UserHomeDir(); err == nil {
		cachedHomeDir = home
	}
	if wd, err := os.Getwd(); err == nil {
		cachedWorkDir = wd
	}

	diskPreferredDir = findBestDirectory(true)
	memoryAllowedDir = findBestDirectory(false)
}

func findBestDirectory(preferDiskBacked bool) string {
	for _, candidate := range candidateDirs(preferDiskBacked) {
		if isDirectoryUsable(candidate) {
			return candidate
		}
	}
	return cachedOSTemp
}

// candidateDirs lists directories in priority order.
func candidateDirs(preferDiskBacked bool) []string {
	var candidates []string
	if preferDiskBacked {
		switch runtime.GOOS {
		case "linux", "freebsd", "openbsd", "netbsd", "dragonfly", "solaris":
			candidates = append(candidates, "/var/tmp")
		case "darwin":
			candidates = append(candidates, "/var/tmp", "/private/var/tmp")
		}
	}
	candidates = append(candidates, cachedOSTemp)
	if cachedHomeDir != "" {
		candidates = append(candidates, filepath.Join(cachedHomeDir, spillDirName))
	}
	if cachedWorkDir != "" {
		candidates = append(candidates, filepath.Join(cachedWorkDir, spillDirName))
	}
	return candidates
}

// isDirectoryUsable reports whether dir is an existing directory or does not
// exist yet and can be created by the store. Writability is left to the
// first spill.
func isDirectoryUsable(dir string) bool {
	stat, err := os.Stat(dir)
	if err != nil {
		return os.IsNotExist(err)
	}
	return stat.IsDir()
}
