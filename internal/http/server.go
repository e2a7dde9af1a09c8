// Package http serves the expense tracker UI: session login, the
// expense list and forms, and the profile page.
package http

import (
	"context"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"gastos/internal/core"
	applog "gastos/internal/log"
	"gastos/internal/middleware/ratelimit"
	"gastos/internal/middleware/security"
	"gastos/internal/middleware/trace"
	appweb "gastos/web"
)

// Store is the persistence surface the handlers need.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*core.User, error)
	GetUserByID(ctx context.Context, id int64) (*core.User, error)
	ListUsers(ctx context.Context) ([]core.User, error)

	SaveExpense(ctx context.Context, draft core.ExpenseDraft) (int64, error)
	GetExpense(ctx context.Context, id int64) (*core.Expense, error)
	ListExpenses(ctx context.Context) ([]core.Expense, error)
	DeleteExpense(ctx context.Context, id int64) error
	UserFigures(ctx context.Context, expenseID int64) ([]core.UserFigure, error)

	CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error
	GetSessionUser(ctx context.Context, token string) (*core.User, error)
	DeleteSession(ctx context.Context, token string) error
}

// EventPublisher notifies the export pipeline that an expense changed.
// A nil publisher disables the notifications.
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, id int64, action string) error
}

// Options tunes cookie and session behavior.
type Options struct {
	SecureCookie bool
	SessionTTL   time.Duration
}

type Server struct {
	http.Server
	store     Store
	publisher EventPublisher
	templates *template.Template
	limiter   *ratelimit.Limiter
	opts      Options

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run
// http.Server.
func NewServer(addr string, store Store, publisher EventPublisher, opts Options) *Server {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * 24 * time.Hour
	}

	mux := http.NewServeMux()

	s := &Server{
		store:     store,
		publisher: publisher,
		limiter:   ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		opts:      opts,
	}

	// Parse embedded templates at startup.
	t, err := template.New("").Funcs(templateFuncs()).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		slog.Warn("Failed parsing templates", "error", err)
	}
	s.templates = t

	// Static assets (served from embedded FS)
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		slog.Warn("Failed to mount embedded static FS", "error", err)
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	loginLimit := s.limiter.Middleware(clientIP, nil)
	mux.HandleFunc("GET /entrar", s.handleLoginForm)
	mux.Handle("POST /entrar", loginLimit(http.HandlerFunc(s.handleLoginSubmit)))
	mux.HandleFunc("POST /salir", s.handleLogout)

	mux.Handle("GET /{$}", s.requireUser(s.handleIndex))
	mux.Handle("GET /perfil", s.requireUser(s.handleProfile))
	mux.Handle("GET /gastos", s.requireUser(s.handleExpenseList))
	mux.Handle("GET /gastos/nuevo", s.requireUser(s.handleExpenseNew))
	mux.Handle("GET /gastos/{id}", s.requireUser(s.handleExpenseEdit))
	mux.Handle("POST /gastos", s.requireUser(s.handleExpenseCreate))
	mux.Handle("PUT /gastos/{id}", s.requireUser(s.handleExpenseUpdate))
	mux.Handle("DELETE /gastos/{id}", s.requireUser(s.handleExpenseDelete))

	traceMW := trace.NewMiddleware(clientIP)
	headersMW := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	httpLogger := applog.New(applog.Config{
		Component: applog.ComponentHTTP,
		Handler:   slog.Default().Handler(),
	})
	handler := traceMW.Middleware(applog.Middleware(httpLogger)(headersMW.Middleware(methodOverride(mux))))

	s.Server = http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s
}

// Shutdown stops the server and its rate limiter goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// methodOverride lets HTML forms issue PUT and DELETE through a hidden
// _method field, the way browsers cannot natively.
func methodOverride(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if err := r.ParseForm(); err == nil {
				switch strings.ToUpper(r.PostForm.Get("_method")) {
				case http.MethodPut:
					r.Method = http.MethodPut
				case http.MethodDelete:
					r.Method = http.MethodDelete
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the caller address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if i := strings.IndexByte(ip, ','); i >= 0 {
			ip = ip[:i]
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/gastos", http.StatusSeeOther)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	if s.templates == nil {
		slog.ErrorContext(r.Context(), "Templates not loaded", "url", r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		slog.ErrorContext(r.Context(), "Template execution failed", "error", err, "template", name)
	}
}

func (s *Server) renderStatus(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	s.renderBody(w, r, name, data)
}

func (s *Server) renderBody(w http.ResponseWriter, r *http.Request, name string, data any) {
	if s.templates == nil {
		slog.ErrorContext(r.Context(), "Templates not loaded", "url", r.URL.Path)
		return
	}
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		slog.ErrorContext(r.Context(), "Template execution failed", "error", err, "template", name)
	}
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"shortDate": func(t time.Time) string {
			return t.Format("Jan 2")
		},
		"formDate": func(t time.Time) string {
			return t.Format("2006-01-02")
		},
	}
}
