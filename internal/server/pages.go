package server

import (
	"net/http"
	"os"
	"path/filepath"
)

// publicPages maps page routes to HTML files in the public directory.
var publicPages = map[string]string{
	"/contact": "contact.html",
	"/gallery": "gallery.html",
	"/find":    "find.html",
	"/login":   "login.html",
}

// gatedPages are only served to logged-in sessions.
var gatedPages = map[string]string{
	"/insertForm": "insertForm.html",
	"/modify":     "modify.html",
}

// servePage serves one HTML file from the public directory, 404 when absent.
func (s *Server) servePage(file string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(s.publicDir, file)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, path)
	}
}

// staticHandler serves the public directory for everything no other route
// claims.
func (s *Server) staticHandler() http.Handler {
	if info, err := os.Stat(s.publicDir); err != nil || !info.IsDir() {
		return http.NotFoundHandler()
	}
	return http.FileServer(http.Dir(s.publicDir))
}

func (s *Server) registerPages(mux *http.ServeMux) {
	mux.Handle("GET /{$}", s.servePage("index.html"))
	for route, file := range publicPages {
		mux.Handle("GET "+route, s.servePage(file))
	}
	for route, file := range gatedPages {
		mux.Handle("GET "+route, s.auth.requireLogin(s.servePage(file)))
	}
	mux.Handle("GET /uploads/images/", http.StripPrefix("/uploads/images/", http.FileServer(http.Dir(s.uploadsDir))))
	mux.Handle("GET /", s.staticHandler())
}
