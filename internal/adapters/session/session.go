// Package session keeps short-lived per-browser state, such as the last
// viewed quote, in scs sessions.
package session

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"github.com/gin-gonic/gin"

	"github.com/jsamuelsen/quotekeeper/internal/platform/config"
)

// loadedKey marks a context whose session data has been loaded.
type loadedKey struct{}

// Manager implements ports.SessionStore on top of an scs session manager.
// Session data lives in memory and is gone when the process exits.
type Manager struct {
	scs *scs.SessionManager
}

// New creates a manager with an in-memory store.
func New(cfg config.SessionConfig) *Manager {
	sm := scs.New()
	sm.Store = memstore.New()
	sm.Lifetime = cfg.Lifetime
	sm.IdleTimeout = cfg.Lifetime / 2

	sm.Cookie.Name = cfg.CookieName
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Path = "/"

	return &Manager{scs: sm}
}

// GetString returns the value stored under key, or "" when the request has no session.
func (m *Manager) GetString(ctx context.Context, key string) string {
	if !hasSession(ctx) {
		return ""
	}

	return m.scs.GetString(ctx, key)
}

// Put stores value under key. It is a no-op when the request has no session.
func (m *Manager) Put(ctx context.Context, key, value string) {
	if !hasSession(ctx) {
		return
	}

	m.scs.Put(ctx, key, value)
}

// Load attaches the session identified by token to ctx. An empty or unknown
// token starts a fresh session.
func (m *Manager) Load(ctx context.Context, token string) (context.Context, error) {
	ctx, err := m.scs.Load(ctx, token)
	if err != nil {
		return ctx, err
	}

	return context.WithValue(ctx, loadedKey{}, true), nil
}

// Commit saves a modified session and returns its token.
func (m *Manager) Commit(ctx context.Context) (string, time.Time, error) {
	if !hasSession(ctx) {
		return "", time.Time{}, errors.New("session: no session in context")
	}

	return m.scs.Commit(ctx)
}

func hasSession(ctx context.Context) bool {
	loaded, _ := ctx.Value(loadedKey{}).(bool)

	return loaded
}

// Middleware loads the session before the handler runs and writes the cookie
// as soon as the handler starts its response.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		if cookie, err := c.Request.Cookie(m.scs.Cookie.Name); err == nil {
			token = cookie.Value
		}

		ctx, err := m.Load(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		c.Request = c.Request.WithContext(ctx)

		w := &cookieWriter{ResponseWriter: c.Writer, m: m, ctx: ctx}
		c.Writer = w

		c.Next()

		w.writeCookie()
	}
}

// cookieWriter commits the session just before the response headers go out.
type cookieWriter struct {
	gin.ResponseWriter
	m       *Manager
	ctx     context.Context
	written bool
}

func (w *cookieWriter) WriteHeader(code int) {
	w.writeCookie()
	w.ResponseWriter.WriteHeader(code)
}

func (w *cookieWriter) WriteHeaderNow() {
	w.writeCookie()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *cookieWriter) Write(b []byte) (int, error) {
	w.writeCookie()

	return w.ResponseWriter.Write(b)
}

func (w *cookieWriter) WriteString(s string) (int, error) {
	w.writeCookie()

	return w.ResponseWriter.WriteString(s)
}

// Hijack keeps websocket upgrades working behind the session middleware.
func (w *cookieWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.ResponseWriter.Hijack()
}

func (w *cookieWriter) writeCookie() {
	if w.written || w.ResponseWriter.Written() {
		return
	}

	w.written = true

	switch w.m.scs.Status(w.ctx) {
	case scs.Modified:
		token, expiry, err := w.m.scs.Commit(w.ctx)
		if err != nil {
			return
		}

		w.m.scs.WriteSessionCookie(w.ctx, w.ResponseWriter, token, expiry)
	case scs.Destroyed:
		w.m.scs.WriteSessionCookie(w.ctx, w.ResponseWriter, "", time.Time{})
	}
}
