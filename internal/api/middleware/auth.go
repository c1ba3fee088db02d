package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"

	"tradebot/pkg/crypto"
)

// debugUsername и debugPasswordHash защищают debug endpoints.
// DEBUG_PASSWORD_HASH - bcrypt хеш пароля (crypto.HashPassword).
// Если переменные не установлены, доступ запрещен вне development.
var (
	debugUsername     = os.Getenv("DEBUG_USERNAME")
	debugPasswordHash = os.Getenv("DEBUG_PASSWORD_HASH")
)

// DebugAuth - middleware для защиты debug/pprof endpoints.
//
// HTTP Basic Authentication: имя сравнивается за константное время,
// пароль проверяется по bcrypt хешу из DEBUG_PASSWORD_HASH.
//
// Использование:
//
//	debug := router.PathPrefix("/debug").Subrouter()
//	debug.Use(middleware.DebugAuth)
func DebugAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if debugUsername == "" || debugPasswordHash == "" {
			// В development (если явно не настроено) разрешаем доступ
			if env := os.Getenv("ENV"); env == "development" || env == "" {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Debug endpoints disabled. Set DEBUG_USERNAME and DEBUG_PASSWORD_HASH.", http.StatusForbidden)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(debugUsername)) == 1
		passMatch := crypto.VerifyPassword(pass, debugPasswordHash) == nil

		if !userMatch || !passMatch {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
