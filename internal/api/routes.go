package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes configura e retorna o roteador Chi
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middlewares globais
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Transfer-Nonce"},
		AllowCredentials: true,
		MaxAge:           300, // Tempo de cache da preflight
	}))

	r.Use(h.SecurityHeadersMiddleware)
	r.Use(h.RateLimitMiddleware(NewRateLimiter(h.cfg.RateLimitRequests, h.cfg.RateLimitWindow)))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)

		// Endpoints públicos (sem autenticação)
		r.Post("/auth/register", h.handleRegister)
		r.Post("/auth/login", h.handleLogin)
		r.Post("/auth/refresh", h.handleRefresh)

		// O WebSocket autentica pelo token na query string, não pelo header
		r.Get("/ws/{roomID}", h.handleWebSocket)

		// Endpoints protegidos (requerem autenticação)
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/auth/me", h.handleGetMe)
			r.Post("/auth/change-password", h.handleChangePassword)

			r.Route("/rooms", func(r chi.Router) {
				r.Post("/", h.handleCreateRoom)
				r.Post("/join", h.handleJoinRoom)
				r.Get("/", h.handleListRooms)
				r.Get("/{roomID}", h.handleGetRoom)
				r.Get("/{roomID}/safety-number/{peerUserID}", h.handleSafetyNumber)
				r.Delete("/{roomID}", h.handleDeleteRoom)
				r.Post("/{roomID}/leave", h.handleLeaveRoom)
			})

			r.Route("/transfers", func(r chi.Router) {
				r.Post("/", h.handleInitTransfer)
				r.Post("/{transferID}/chunks/{chunkIndex}", h.handleUploadChunk)
				r.Get("/{transferID}", h.handleGetTransfer)
				r.Get("/{transferID}/download", h.handleDownloadTransfer)
				r.Get("/room/{roomID}", h.handleListRoomTransfers)
				r.Delete("/{transferID}", h.handleCancelTransfer)
			})
		})

		// Endpoints administrativos (emissão de convites)
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Use(h.AdminMiddleware)

			r.Post("/auth/invites", h.handleCreateInvite)
			r.Get("/auth/invites", h.handleListInvites)
		})
	})

	return r
}
