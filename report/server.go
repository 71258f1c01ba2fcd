package report

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/vigie/differ"
	"github.com/hazyhaar/vigie/manifest"
)

// ApproveFunc applies a reviewer's approval set. A nil set is a blanket
// approval of the whole report.
type ApproveFunc func(ctx context.Context, set *differ.ApprovalSet) error

// ServerConfig configures the review server.
type ServerConfig struct {
	// ReportDir is the run directory to serve (index.html, report.json,
	// diffs/).
	ReportDir string

	// StorageDir, when set, is mounted under /storage/ so locally stored
	// pages and screenshots resolve in the review page.
	StorageDir string

	// PasswordHash is a bcrypt hash; empty disables authentication.
	PasswordHash []byte

	Logger *slog.Logger
}

// Server serves the review page and accepts approval decisions.
type Server struct {
	cfg     ServerConfig
	approve ApproveFunc
}

// NewServer creates a review server over a persisted report.
func NewServer(cfg ServerConfig, approve ApproveFunc) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, approve: approve}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(securityHeaders)
	if len(s.cfg.PasswordHash) > 0 {
		r.Use(s.basicAuth)
	}

	fs := http.FileServer(http.Dir(s.cfg.ReportDir))
	r.Get("/", fs.ServeHTTP)
	r.Get("/index.html", fs.ServeHTTP)
	r.Get("/report.json", fs.ServeHTTP)
	r.Get("/diffs/*", fs.ServeHTTP)

	if s.cfg.StorageDir != "" {
		storageFS := http.StripPrefix("/storage/", http.FileServer(http.Dir(s.cfg.StorageDir)))
		r.Get("/storage/*", storageFS.ServeHTTP)
	}

	r.Post("/approve", s.handleApprove)
	return r
}

// approveRequest is the approval payload: either a blanket approval or
// explicit per-bucket key lists.
type approveRequest struct {
	All     bool           `json:"all"`
	Diffs   []manifest.Key `json:"diffs"`
	Added   []manifest.Key `json:"added"`
	Removed []manifest.Key `json:"removed"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var set *differ.ApprovalSet
	if !req.All {
		set = &differ.ApprovalSet{
			Diffs:   differ.NewKeySet(req.Diffs...),
			Added:   differ.NewKeySet(req.Added...),
			Removed: differ.NewKeySet(req.Removed...),
		}
	}

	if err := s.approve(r.Context(), set); err != nil {
		s.cfg.Logger.Error("report: approve failed", "error", err)
		jsonErr(w, err.Error(), http.StatusConflict)
		return
	}

	s.cfg.Logger.Info("report: approvals merged",
		"all", req.All, "diffs", len(req.Diffs), "added", len(req.Added), "removed", len(req.Removed))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "merged"})
}

// basicAuth guards every route with a bcrypt-checked password; the username
// is ignored.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pass, ok := r.BasicAuth()
		if !ok || bcrypt.CompareHashAndPassword(s.cfg.PasswordHash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="vigie review"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
