package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"cipherroom-backend/internal/auth"
	"cipherroom-backend/internal/models"
)

// contextKey é um tipo privado para evitar colisões de chaves no contexto
type contextKey string

const userContextKey = contextKey("user")

// AuthMiddleware é um middleware para validar o token JWT de acesso
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Obter o header "Authorization"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			h.respondWithError(w, http.StatusUnauthorized, "Token de autorização não fornecido")
			return
		}

		// 2. Verificar se o formato é "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			h.respondWithError(w, http.StatusUnauthorized, "Formato do token inválido")
			return
		}
		tokenString := parts[1]

		// 3. Validar o token (tem que ser de acesso, não de refresh)
		token, err := h.tokenService.ValidateToken(tokenString, auth.TokenTypeAccess)
		if err != nil {
			h.respondWithError(w, http.StatusUnauthorized, "Token inválido")
			return
		}

		// 4. Obter o UserID do token
		userID, err := h.tokenService.GetUserIDFromToken(token)
		if err != nil {
			h.respondWithError(w, http.StatusUnauthorized, "Token inválido (claims)")
			return
		}

		// 5. Verificar se o usuário ainda existe e está ativo no DB
		user, err := h.store.GetUserByID(r.Context(), userID)
		if err != nil || !user.IsActive {
			h.respondWithError(w, http.StatusUnauthorized, "Usuário do token não encontrado")
			return
		}

		// 6. Armazenar o usuário no contexto da requisição
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminMiddleware garante que o usuário autenticado é admin.
// Precisa vir depois do AuthMiddleware na cadeia.
func (h *Handler) AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := r.Context().Value(userContextKey).(*models.User)
		if !ok || user == nil {
			h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
			return
		}

		if !user.IsAdmin {
			h.respondWithError(w, http.StatusForbidden, "Acesso restrito a administradores")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimiter implementa um limite de requisições por IP com janela
// deslizante, tudo em memória
type RateLimiter struct {
	mu       sync.Mutex
	requests int
	window   time.Duration
	clients  map[string][]time.Time
}

// NewRateLimiter cria um limitador que aceita `requests` requisições por
// cliente dentro de `window`
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: requests,
		window:   window,
		clients:  map[string][]time.Time{},
	}
}

// Allow registra a requisição e diz se o cliente ainda está dentro do limite
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)

	// Descartar as requisições que já saíram da janela
	recent := rl.clients[clientID][:0]
	for _, t := range rl.clients[clientID] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.requests {
		rl.clients[clientID] = recent
		return false
	}

	rl.clients[clientID] = append(recent, now)
	return true
}

// RetryAfter diz em quantos segundos a próxima requisição será aceita
func (rl *RateLimiter) RetryAfter(clientID string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	times := rl.clients[clientID]
	if len(times) == 0 {
		return 0
	}

	oldest := times[0]
	for _, t := range times[1:] {
		if t.Before(oldest) {
			oldest = t
		}
	}

	seconds := int(time.Until(oldest.Add(rl.window)).Seconds())
	if seconds < 0 {
		return 0
	}
	return seconds
}

// clientIP extrai o IP do cliente, respeitando proxies na frente
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware aplica o limite por IP. WebSocket, preflights de CORS
// e uploads de chunk (muitas requisições sequenciais esperadas) ficam fora.
func (h *Handler) RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			skip := strings.HasPrefix(r.URL.Path, "/api/ws") ||
				r.Method == http.MethodOptions ||
				strings.Contains(r.URL.Path, "/chunks/")

			if !skip {
				ip := clientIP(r)
				if !limiter.Allow(ip) {
					w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfter(ip)))
					h.respondWithError(w, http.StatusTooManyRequests, "Limite de requisições excedido")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware adiciona os headers de segurança em toda resposta
func (h *Handler) SecurityHeadersMiddleware(next http.Handler) http.Handler {
	csp := strings.Join([]string{
		"default-src 'self'",
		"script-src 'self' 'unsafe-inline'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data: blob:",
		"font-src 'self'",
		"connect-src 'self' wss: ws:",
		"frame-ancestors 'none'",
		"base-uri 'self'",
		"form-action 'self'",
	}, "; ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "DENY")
		header.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		header.Set("Content-Security-Policy", csp)
		header.Set("Permissions-Policy",
			"accelerometer=(), camera=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), payment=(), usb=()")

		// HSTS só faz sentido atrás de HTTPS, fora do modo debug
		if !h.cfg.Debug {
			header.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
