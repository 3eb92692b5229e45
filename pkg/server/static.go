package server

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

var assetExts = []string{".js", ".css", ".png", ".jpg", ".ico", ".svg", ".map", ".woff2"}

// spaHandler serves files from dir. Unknown non-asset paths get index.html so
// client-side routes survive a reload.
func spaHandler(dir string) http.Handler {
	fsys := os.DirFS(dir)
	files := http.FileServerFS(fsys)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		p := path.Clean("/" + r.URL.Path)
		if isAsset(p) || exists(fsys, strings.TrimPrefix(p, "/")) {
			files.ServeHTTP(w, r)
			return
		}
		http.ServeFileFS(w, r, fsys, "index.html")
	})
}

func isAsset(p string) bool {
	if strings.HasPrefix(p, "/assets/") {
		return true
	}
	for _, ext := range assetExts {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

func exists(fsys fs.FS, name string) bool {
	if name == "" {
		return false
	}
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
