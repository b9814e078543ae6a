package api

import (
	"net/http"
	"strings"
	"time"

	"cipherroom-backend/internal/auth"
	"cipherroom-backend/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Códigos de fechamento na faixa de aplicação (4000-4999). Como a
// recusa acontece depois do upgrade, o código de close é o único canal
// que o cliente tem para distinguir o motivo.
const (
	wsCloseInvalidToken = 4001
	wsCloseNotMember    = 4003
	wsCloseRoomNotFound = 4004
)

// Prazo para entregar o quadro de close de uma recusa
const wsCloseWriteWait = 5 * time.Second

// handleWebSocket faz o handshake da conexão de tempo real de uma sala.
// O token de acesso vem pela query string (?token=...) porque o
// navegador não envia headers customizados no handshake WebSocket.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// 1. Valida o ID da sala antes do upgrade; URL malformada nem vira conexão
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "ID de sala inválido")
		return
	}

	// 2. Faz o upgrade para WebSocket
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkWSOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade já respondeu o erro HTTP sozinho
		logrus.WithError(err).Warn("Falha no upgrade para WebSocket")
		return
	}

	// 3. Valida o token de acesso
	token, err := h.tokenService.ValidateToken(r.URL.Query().Get("token"), auth.TokenTypeAccess)
	if err != nil {
		rejectWS(conn, wsCloseInvalidToken, "Invalid token")
		return
	}
	userID, err := h.tokenService.GetUserIDFromToken(token)
	if err != nil {
		rejectWS(conn, wsCloseInvalidToken, "Invalid token")
		return
	}

	// 4. A sala precisa existir e estar ativa
	room, err := h.store.GetRoomByID(r.Context(), roomID)
	if err != nil || !room.IsActive {
		rejectWS(conn, wsCloseRoomNotFound, "Room not found")
		return
	}

	// 5. Só membros entram no canal da sala
	member, err := h.store.GetMember(r.Context(), roomID, userID)
	if err != nil {
		rejectWS(conn, wsCloseNotMember, "Not a member")
		return
	}
	user, err := h.store.GetUserByID(r.Context(), userID)
	if err != nil || !user.IsActive {
		rejectWS(conn, wsCloseNotMember, "User not found")
		return
	}

	// 6. Registra no hub e inicia as bombas de leitura/escrita. A partir
	// daqui a conexão pertence ao hub.
	client := ws.NewClient(h.hub, conn, roomID, userID, user.DisplayName, member.PublicKey)
	h.hub.Register(client)
	client.Run()

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"room_id": roomID,
	}).Info("Conexão WebSocket estabelecida")
}

// checkWSOrigin aplica a mesma lista de origens do CORS ao handshake.
// Requisições sem Origin (clientes nativos, curl) passam.
func (h *Handler) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// rejectWS fecha uma conexão recém-aceita com um código de aplicação.
// O quadro de close é melhor-esforço; a conexão fecha de qualquer jeito.
func rejectWS(conn *websocket.Conn, code int, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsCloseWriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = conn.Close()
}
