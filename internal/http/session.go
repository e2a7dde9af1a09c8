package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"gastos/internal/core"
)

const (
	sessionCookie = "gastos_session"
	returnCookie  = "volver_a"
)

type contextKey string

const userContextKey contextKey = "current_user"

// requireUser resolves the session cookie into a user and puts it on
// the request context. Anonymous requests are sent to the login form,
// remembering where they wanted to go.
func (s *Server) requireUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := s.sessionUser(r)
		if user == nil {
			s.setReturnCookie(w, r.URL.RequestURI())
			http.Redirect(w, r, "/entrar", http.StatusSeeOther)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) sessionUser(r *http.Request) *core.User {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return nil
	}
	user, err := s.store.GetSessionUser(r.Context(), c.Value)
	if err != nil {
		return nil
	}
	return user
}

// currentUser returns the authenticated user placed by requireUser.
func currentUser(ctx context.Context) *core.User {
	if u, ok := ctx.Value(userContextKey).(*core.User); ok {
		return u
	}
	return nil
}

// openSession issues a fresh session token and hands it to the browser.
func (s *Server) openSession(w http.ResponseWriter, r *http.Request, userID int64) error {
	token := uuid.NewString()
	expiresAt := time.Now().Add(s.opts.SessionTTL)
	if err := s.store.CreateSession(r.Context(), token, userID, expiresAt); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		if err := s.store.DeleteSession(r.Context(), c.Value); err != nil {
			slog.WarnContext(r.Context(), "Session delete failed", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) setReturnCookie(w http.ResponseWriter, path string) {
	if !isLocalPath(path) {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     returnCookie,
		Value:    path,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// popReturnPath consumes the saved destination, falling back to the
// expense list.
func (s *Server) popReturnPath(w http.ResponseWriter, r *http.Request) string {
	dest := "/gastos"
	if c, err := r.Cookie(returnCookie); err == nil && isLocalPath(c.Value) {
		dest = c.Value
	}
	http.SetCookie(w, &http.Cookie{
		Name:   returnCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	return dest
}

// isLocalPath rejects redirect targets that could leave the site.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "/\\")
}
