// auth.go - Shared-credential login and the session gate.
//
// A single username/password pair from configuration unlocks every
// mutating endpoint. Sessions live in SessionStore; the cookie only carries
// a signed session id.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// passwordHashCost is the bcrypt cost for the in-memory credential hash.
var passwordHashCost = bcrypt.DefaultCost

// AuthConfig holds the shared login credential and session cookie settings.
type AuthConfig struct {
	Username      string
	Password      string
	SessionSecret string
	SessionTTL    time.Duration
	CookieName    string
	CookieSecure  bool
}

func (a AuthConfig) cookieName() string {
	if a.CookieName == "" {
		return "eb_session"
	}
	return a.CookieName
}

func (a AuthConfig) ttl() time.Duration {
	if a.SessionTTL <= 0 {
		return 24 * time.Hour
	}
	return a.SessionTTL
}

// Authenticator checks credentials and gates handlers on a live session.
type Authenticator struct {
	cfg      AuthConfig
	passHash []byte
	sessions *SessionStore
	metrics  *Metrics
	log      *slog.Logger
}

// NewAuthenticator hashes the configured password once so every check costs
// the same regardless of how much of the password matches.
func NewAuthenticator(cfg AuthConfig, metrics *Metrics, logger *slog.Logger) (*Authenticator, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("login credentials are not configured")
	}
	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret is not configured")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), passwordHashCost)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		cfg:      cfg,
		passHash: hash,
		sessions: NewSessionStore(cfg.SessionSecret, cfg.ttl()),
		metrics:  metrics,
		log:      logger,
	}, nil
}

// CheckCredentials reports whether username and password both match the
// configured pair.
func (a *Authenticator) CheckCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.Username)) == 1
	passOK := bcrypt.CompareHashAndPassword(a.passHash, []byte(password)) == nil
	return userOK && passOK
}

// Sessions exposes the session store.
func (a *Authenticator) Sessions() *SessionStore { return a.sessions }

func (a *Authenticator) currentSession(r *http.Request) (Session, bool) {
	c, err := r.Cookie(a.cfg.cookieName())
	if err != nil {
		return Session{}, false
	}
	sess, ok := a.sessions.Lookup(c.Value)
	if !ok || !sess.LoggedIn {
		return Session{}, false
	}
	return sess, true
}

// requireLogin sends anonymous page loads to the login page, remembering
// where they were headed.
func (a *Authenticator) requireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.currentSession(r); !ok {
			http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireLoginJSON rejects anonymous API calls with 401.
func (a *Authenticator) requireLoginJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.currentSession(r); !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func decodeLogin(r *http.Request) (loginRequest, error) {
	var body loginRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&body)
		return body, err
	}
	if err := r.ParseForm(); err != nil {
		return body, err
	}
	body.Username = r.PostForm.Get("username")
	body.Password = r.PostForm.Get("password")
	return body, nil
}

// loginHandler handles POST /api/login with a JSON or form body.
func (a *Authenticator) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := decodeLogin(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}

		ok := a.CheckCredentials(body.Username, body.Password)
		a.metrics.RecordLogin(ok)
		if !ok {
			a.log.Info("login_failed", "rid", RequestIDFromContext(r.Context()))
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		if c, err := r.Cookie(a.cfg.cookieName()); err == nil {
			a.sessions.Destroy(c.Value)
		}
		_, value := a.sessions.Create(body.Username)
		http.SetCookie(w, &http.Cookie{
			Name:     a.cfg.cookieName(),
			Value:    value,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   a.cfg.CookieSecure,
		})
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// logoutHandler destroys the session and clears the cookie.
func (a *Authenticator) logoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(a.cfg.cookieName()); err == nil {
			a.sessions.Destroy(c.Value)
		}
		http.SetCookie(w, &http.Cookie{
			Name:     a.cfg.cookieName(),
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   a.cfg.CookieSecure,
		})
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// statusHandler reports whether the caller holds a live session.
func (a *Authenticator) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, ok := a.currentSession(r)
		writeJSON(w, http.StatusOK, map[string]any{"loggedIn": ok})
	}
}
