package cookie

import (
	"net/http"
	"time"

	"github.com/staticms/authcore/internal/envutil"
	"github.com/staticms/authcore/internal/log"
)

// Cookie names used by authcore
const (
	SessionCookie = "authcore_session"
	RefreshCookie = "authcore_refresh"
)

// RefreshMaxAge is the lifetime of the refresh-token cookie
const RefreshMaxAge = 30 * 24 * time.Hour

// SetSession sets the session cookie with appropriate security settings
func SetSession(w http.ResponseWriter, value string, maxAge time.Duration) {
	secure := !envutil.IsDev()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})

	log.LogDebugWithFields("cookie", "Session cookie set", map[string]any{
		"maxAge":   maxAge.String(),
		"secure":   secure,
		"sameSite": "Lax",
	})
}

// SetRefresh sets the long-lived refresh-token cookie. It is HTTP-only so
// the in-page script never sees the refresh credential.
func SetRefresh(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(RefreshMaxAge.Seconds()),
	})
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// ClearSession removes both the session and refresh cookies
func ClearSession(w http.ResponseWriter) {
	Clear(w, SessionCookie)
	Clear(w, RefreshCookie)
	log.LogDebugWithFields("cookie", "Session cookies cleared", nil)
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// GetSession retrieves the session cookie value
func GetSession(r *http.Request) (string, error) {
	return Get(r, SessionCookie)
}

// GetRefresh retrieves the refresh-token cookie value
func GetRefresh(r *http.Request) (string, error) {
	return Get(r, RefreshCookie)
}
