package fileproto

import (
	"os"
	"path/filepath"
	"runtime"
)

const homeSentinel = "home"

// OSLister is the default Lister: it serves path=="home" as the
// process's home directory (reporting filesystem roots via mounted) and
// any other path as a literal directory listing, per the FOLDER_HOME
// sentinel behaviour ListRemote documents.
func OSLister(path string) ([]FileEntry, []string, error) {
	var mounted []string
	dir := path
	if path == homeSentinel {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, err
		}
		dir = home
		mounted = filesystemRoots()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileEntry{
			Name:            e.Name(),
			IsDir:           e.IsDir(),
			FileSize:        info.Size(),
			FileLastModTime: info.ModTime().Unix(),
			FileSuffix:      filepath.Ext(e.Name()),
		})
	}
	return out, mounted, nil
}

// filesystemRoots reports the top-level roots a FOLDER_HOME listing
// should advertise: drive letters on Windows, "/" elsewhere.
func filesystemRoots() []string {
	if runtime.GOOS != "windows" {
		return []string{"/"}
	}
	var roots []string
	for c := 'A'; c <= 'Z'; c++ {
		drive := string(c) + ":\\"
		if _, err := os.Stat(drive); err == nil {
			roots = append(roots, drive)
		}
	}
	return roots
}
