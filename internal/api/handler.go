package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"cipherroom-backend/internal/auth"
	"cipherroom-backend/internal/config"
	"cipherroom-backend/internal/models"
	"cipherroom-backend/internal/repository"
	"cipherroom-backend/internal/service"
	"cipherroom-backend/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// usernamePattern limita nomes de usuário a letras, números e underscore
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Handler gerencia as dependências para os handlers HTTP
type Handler struct {
	userService     *service.UserService
	roomService     *service.RoomService
	transferService *service.TransferService
	tokenService    *auth.TokenService
	store           repository.Store // Necessário para mapear IDs nos handlers
	hub             *ws.Hub
	cfg             *config.Config
	validate        *validator.Validate
}

// NewHandler cria uma nova instância do Handler
func NewHandler(
	userSvc *service.UserService,
	roomSvc *service.RoomService,
	transferSvc *service.TransferService,
	tokenSvc *auth.TokenService,
	store repository.Store,
	hub *ws.Hub,
	cfg *config.Config,
) *Handler {
	return &Handler{
		userService:     userSvc,
		roomService:     roomSvc,
		transferService: transferSvc,
		tokenService:    tokenSvc,
		store:           store,
		hub:             hub,
		cfg:             cfg,
		validate:        validator.New(),
	}
}

// === Funções Auxiliares de Resposta ===

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).Error("Erro ao serializar JSON de resposta")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"message":"Erro interno ao serializar resposta"}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// mapServiceError traduz os erros sentinela da camada de serviço para o
// status HTTP correspondente
func (h *Handler) mapServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		h.respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrForbidden):
		h.respondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		h.respondWithError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrGone):
		h.respondWithError(w, http.StatusGone, err.Error())
	case errors.Is(err, service.ErrInvalidState), errors.Is(err, service.ErrAlreadyExists):
		h.respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidArgument):
		h.respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		logrus.WithError(err).Error("Erro interno no serviço")
		h.respondWithError(w, http.StatusInternalServerError, "Erro interno do servidor")
	}
}

// === Schemas de Resposta da API ===

type (
	// UserResponse expõe um usuário sem os campos sensíveis
	UserResponse struct {
		ID          uuid.UUID `json:"id"`
		Username    string    `json:"username"`
		DisplayName string    `json:"display_name"`
		IsAdmin     bool      `json:"is_admin"`
		CreatedAt   time.Time `json:"created_at"`
	}

	// InviteResponse expõe um código de convite
	InviteResponse struct {
		Code      string     `json:"code"`
		MaxUses   int        `json:"max_uses"`
		UseCount  int        `json:"use_count"`
		ExpiresAt *time.Time `json:"expires_at"`
		Note      string     `json:"note,omitempty"`
		CreatedAt time.Time  `json:"created_at"`
	}

	// MemberResponse expõe um membro de sala com os dados do usuário
	MemberResponse struct {
		UserID      uuid.UUID `json:"user_id"`
		Username    string    `json:"username"`
		DisplayName string    `json:"display_name"`
		PublicKey   string    `json:"public_key"`
		IsOnline    bool      `json:"is_online"`
		JoinedAt    time.Time `json:"joined_at"`
	}

	// RoomResponse expõe uma sala com a lista de membros
	RoomResponse struct {
		ID         uuid.UUID        `json:"id"`
		Code       string           `json:"code"`
		Name       string           `json:"name,omitempty"`
		RoomType   models.RoomType  `json:"room_type"`
		AllowRelay bool             `json:"allow_relay"`
		CreatedAt  time.Time        `json:"created_at"`
		ExpiresAt  *time.Time       `json:"expires_at"`
		Members    []MemberResponse `json:"members"`
	}

	// RoomListResponse é o item da listagem de salas do usuário
	RoomListResponse struct {
		ID          uuid.UUID       `json:"id"`
		Code        string          `json:"code"`
		Name        string          `json:"name,omitempty"`
		RoomType    models.RoomType `json:"room_type"`
		MemberCount int             `json:"member_count"`
		CreatedAt   time.Time       `json:"created_at"`
		ExpiresAt   *time.Time      `json:"expires_at"`
	}

	// SafetyNumberResponse carrega os dados de verificação de identidade
	SafetyNumberResponse struct {
		SafetyNumber         string   `json:"safety_number"`
		EmojiFingerprintSelf []string `json:"emoji_fingerprint_self"`
		EmojiFingerprintPeer []string `json:"emoji_fingerprint_peer"`
	}

	// TransferResponse expõe os metadados de uma transferência
	TransferResponse struct {
		ID                uuid.UUID             `json:"id"`
		RoomID            uuid.UUID             `json:"room_id"`
		SenderID          uuid.UUID             `json:"sender_id"`
		SenderName        string                `json:"sender_name"`
		EncryptedFilename string                `json:"encrypted_filename"`
		EncryptedMimetype string                `json:"encrypted_mimetype,omitempty"`
		FileSize          int64                 `json:"file_size"`
		Mode              models.TransferMode   `json:"mode"`
		Status            models.TransferStatus `json:"status"`
		Nonce             string                `json:"nonce"`
		TotalChunks       int                   `json:"total_chunks"`
		UploadedChunks    int                   `json:"uploaded_chunks"`
		CreatedAt         time.Time             `json:"created_at"`
		ExpiresAt         *time.Time            `json:"expires_at"`
		DownloadCount     int                   `json:"download_count"`
		MaxDownloads      int                   `json:"max_downloads"`
	}

	// ChunkUploadResponse é a resposta de cada chunk enviado
	ChunkUploadResponse struct {
		TransferID     uuid.UUID             `json:"transfer_id"`
		ChunkIndex     int                   `json:"chunk_index"`
		UploadedChunks int                   `json:"uploaded_chunks"`
		TotalChunks    int                   `json:"total_chunks"`
		Status         models.TransferStatus `json:"status"`
	}
)

func userResponse(user *models.User) UserResponse {
	return UserResponse{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		IsAdmin:     user.IsAdmin,
		CreatedAt:   user.CreatedAt,
	}
}

func inviteResponse(invite *models.InviteCode) InviteResponse {
	return InviteResponse{
		Code:      invite.Code,
		MaxUses:   invite.MaxUses,
		UseCount:  invite.UseCount,
		ExpiresAt: invite.ExpiresAt,
		Note:      invite.Note,
		CreatedAt: invite.CreatedAt,
	}
}

// roomResponse monta a resposta de sala com os membros e seus usuários.
// Isso é um ponto de N+1 em SQL, mas salas têm pouquíssimos membros.
func (h *Handler) roomResponse(r *http.Request, room *models.Room) (RoomResponse, error) {
	members, err := h.store.ListMembers(r.Context(), room.ID)
	if err != nil {
		return RoomResponse{}, err
	}

	memberList := make([]MemberResponse, 0, len(members))
	for _, m := range members {
		user, err := h.store.GetUserByID(r.Context(), m.UserID)
		if err != nil {
			logrus.WithField("user_id", m.UserID).Warn("Membro de sala com usuário inexistente")
			continue
		}
		memberList = append(memberList, MemberResponse{
			UserID:      m.UserID,
			Username:    user.Username,
			DisplayName: user.DisplayName,
			PublicKey:   m.PublicKey,
			IsOnline:    m.IsOnline,
			JoinedAt:    m.JoinedAt,
		})
	}

	return RoomResponse{
		ID:         room.ID,
		Code:       room.Code,
		Name:       room.Name,
		RoomType:   room.RoomType,
		AllowRelay: room.AllowRelay,
		CreatedAt:  room.CreatedAt,
		ExpiresAt:  room.ExpiresAt,
		Members:    memberList,
	}, nil
}

// transferResponse monta a resposta de transferência com o nome do remetente
func (h *Handler) transferResponse(r *http.Request, t *models.FileTransfer) TransferResponse {
	senderName := "Unknown"
	if sender, err := h.store.GetUserByID(r.Context(), t.SenderID); err == nil {
		senderName = sender.DisplayName
	}

	return TransferResponse{
		ID:                t.ID,
		RoomID:            t.RoomID,
		SenderID:          t.SenderID,
		SenderName:        senderName,
		EncryptedFilename: t.EncryptedFilename,
		EncryptedMimetype: t.EncryptedMimetype,
		FileSize:          t.FileSize,
		Mode:              t.Mode,
		Status:            t.Status,
		Nonce:             t.Nonce,
		TotalChunks:       t.TotalChunks,
		UploadedChunks:    t.UploadedChunks,
		CreatedAt:         t.CreatedAt,
		ExpiresAt:         t.ExpiresAt,
		DownloadCount:     t.DownloadCount,
		MaxDownloads:      t.MaxDownloads,
	}
}

// === Handlers de Autenticação ===

// handleRegister (POST /api/auth/register)
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username" validate:"required,min=3,max=50"`
		Password    string `json:"password" validate:"required,min=8,max=128"`
		DisplayName string `json:"display_name" validate:"required,min=1,max=100"`
		InviteCode  string `json:"invite_code" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Payload JSON inválido")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Dados inválidos: "+err.Error())
		return
	}

	if !usernamePattern.MatchString(req.Username) {
		h.respondWithError(w, http.StatusBadRequest, "Nome de usuário deve conter apenas letras, números e underscore")
		return
	}

	// O registro já autentica: devolve o par de tokens direto
	_, tokens, err := h.userService.Register(r.Context(), req.Username, req.Password, req.DisplayName, req.InviteCode)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, tokens)
}

// handleLogin (POST /api/auth/login)
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required,min=3,max=50"`
		Password string `json:"password" validate:"required,min=8"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Payload JSON inválido")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Dados inválidos: "+err.Error())
		return
	}

	tokens, err := h.userService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, tokens)
}

// handleRefresh (POST /api/auth/refresh)
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Payload JSON inválido")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Dados inválidos: "+err.Error())
		return
	}

	tokens, err := h.userService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, tokens)
}

// handleGetMe (GET /api/auth/me)
func (h *Handler) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	h.respondWithJSON(w, http.StatusOK, userResponse(user))
}

// handleChangePassword (POST /api/auth/change-password)
func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=8,max=128"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Payload JSON inválido")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Dados inválidos: "+err.Error())
		return
	}

	if err := h.userService.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Senha alterada com sucesso"})
}

// handleCreateInvite (POST /api/auth/invites, somente admin)
func (h *Handler) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	var req struct {
		MaxUses int    `json:"max_uses" validate:"omitempty,min=1,max=100"`
		Note    string `json:"note" validate:"omitempty,max=255"`
		// Nulo usa o padrão de 7 dias; zero cria convite sem validade
		ExpiresInDays *int `json:"expires_in_days" validate:"omitempty,min=0,max=365"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Payload JSON inválido")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Dados inválidos: "+err.Error())
		return
	}

	invite, err := h.userService.CreateInvite(r.Context(), user.ID, req.MaxUses, req.ExpiresInDays, req.Note)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, inviteResponse(invite))
}

// handleListInvites (GET /api/auth/invites, somente admin)
func (h *Handler) handleListInvites(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	invites, err := h.userService.ListInvites(r.Context(), user.ID)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	response := make([]InviteResponse, 0, len(invites))
	for _, invite := range invites {
		response = append(response, inviteResponse(invite))
	}

	h.respondWithJSON(w, http.StatusOK, response)
}

// === Handlers de Sala ===

// handleCreateRoom (POST /api/rooms)
func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	var req struct {
		Name      string `json:"name" validate:"omitempty,max=100"`
		PublicKey string `json:"public_key" validate:"required"`
		// Nulo permite relay (o padrão); o cliente pode desligar
		AllowRelay *bool `json:"allow_relay"`
		// Nulo usa o padrão de 24h; zero cria sala sem validade
		ExpiresInHours *int `json:"expires_in_hours" validate:"omitempty,min=0,max=168"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Payload JSON inválido")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Dados inválidos: "+err.Error())
		return
	}

	allowRelay := true
	if req.AllowRelay != nil {
		allowRelay = *req.AllowRelay
	}

	room, err := h.roomService.CreateRoom(r.Context(), user.ID, service.CreateRoomParams{
		Name:           req.Name,
		PublicKey:      req.PublicKey,
		AllowRelay:     allowRelay,
		ExpiresInHours: req.ExpiresInHours,
	})
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	response, err := h.roomResponse(r, room)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, response)
}

// handleJoinRoom (POST /api/rooms/join)
func (h *Handler) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	var req struct {
		Code      string `json:"code" validate:"required,min=6,max=10"`
		PublicKey string `json:"public_key" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Payload JSON inválido")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Dados inválidos: "+err.Error())
		return
	}

	room, err := h.roomService.JoinRoom(r.Context(), user.ID, req.Code, req.PublicKey)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	response, err := h.roomResponse(r, room)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, response)
}

// handleListRooms (GET /api/rooms)
func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	rooms, err := h.roomService.ListRooms(r.Context(), user.ID)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	response := make([]RoomListResponse, 0, len(rooms))
	for _, room := range rooms {
		members, err := h.store.ListMembers(r.Context(), room.ID)
		if err != nil {
			logrus.WithError(err).WithField("room_id", room.ID).Warn("Falha ao contar membros da sala")
			continue
		}
		response = append(response, RoomListResponse{
			ID:          room.ID,
			Code:        room.Code,
			Name:        room.Name,
			RoomType:    room.RoomType,
			MemberCount: len(members),
			CreatedAt:   room.CreatedAt,
			ExpiresAt:   room.ExpiresAt,
		})
	}

	h.respondWithJSON(w, http.StatusOK, response)
}

// handleGetRoom (GET /api/rooms/{roomID})
func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "ID de sala inválido")
		return
	}

	room, err := h.roomService.GetRoom(r.Context(), roomID, user.ID)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	response, err := h.roomResponse(r, room)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, response)
}

// handleSafetyNumber (GET /api/rooms/{roomID}/safety-number/{peerUserID})
func (h *Handler) handleSafetyNumber(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "ID de sala inválido")
		return
	}

	peerID, err := uuid.Parse(chi.URLParam(r, "peerUserID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "ID de usuário inválido")
		return
	}

	info, err := h.roomService.SafetyNumber(r.Context(), roomID, user.ID, peerID)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, SafetyNumberResponse{
		SafetyNumber:         info.SafetyNumber,
		EmojiFingerprintSelf: info.EmojiSelf,
		EmojiFingerprintPeer: info.EmojiPeer,
	})
}

// handleDeleteRoom (DELETE /api/rooms/{roomID})
func (h *Handler) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "ID de sala inválido")
		return
	}

	if err := h.roomService.DeleteRoom(r.Context(), roomID, user.ID); err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Sala removida"})
}

// handleLeaveRoom (POST /api/rooms/{roomID}/leave)
func (h *Handler) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "ID de sala inválido")
		return
	}

	if err := h.roomService.LeaveRoom(r.Context(), roomID, user.ID); err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Você saiu da sala"})
}

// === Handlers de Transferência ===

// handleInitTransfer (POST /api/transfers)
func (h *Handler) handleInitTransfer(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	var req struct {
		RoomID            string `json:"room_id" validate:"required,uuid"`
		EncryptedFilename string `json:"encrypted_filename" validate:"required"`
		EncryptedMimetype string `json:"encrypted_mimetype"`
		FileSize          int64  `json:"file_size" validate:"required,gt=0"`
		Nonce             string `json:"nonce" validate:"required"`
		Mode              string `json:"mode" validate:"omitempty,oneof=p2p relay"`
		// Nulo usa o padrão de 24h; zero cria transferência sem validade
		ExpiresInHours *int `json:"expires_in_hours" validate:"omitempty,min=0,max=168"`
		MaxDownloads   int  `json:"max_downloads" validate:"omitempty,min=1,max=9999"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Payload JSON inválido")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Dados inválidos: "+err.Error())
		return
	}

	roomID, err := uuid.Parse(req.RoomID)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "ID de sala inválido")
		return
	}

	mode := models.ModeRelay
	if req.Mode != "" {
		mode = models.TransferMode(req.Mode)
	}

	transfer, err := h.transferService.Init(r.Context(), user.ID, service.InitTransferParams{
		RoomID:            roomID,
		EncryptedFilename: req.EncryptedFilename,
		EncryptedMimetype: req.EncryptedMimetype,
		FileSize:          req.FileSize,
		Nonce:             req.Nonce,
		Mode:              mode,
		ExpiresInHours:    req.ExpiresInHours,
		MaxDownloads:      req.MaxDownloads,
	})
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, h.transferResponse(r, transfer))
}

// handleUploadChunk (POST /api/transfers/{transferID}/chunks/{chunkIndex})
func (h *Handler) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "ID de transferência inválido")
		return
	}

	chunkIndex, err := strconv.Atoi(chi.URLParam(r, "chunkIndex"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Índice de chunk inválido")
		return
	}

	// Um chunk por requisição: o corpo cabe em memória, com folga para o
	// framing multipart
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.cfg.ChunkSize)+64*1024)

	file, _, err := r.FormFile("chunk")
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Campo multipart 'chunk' ausente ou grande demais")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Erro ao ler o chunk enviado")
		return
	}

	transfer, err := h.transferService.UploadChunk(r.Context(), user.ID, transferID, chunkIndex, data)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, ChunkUploadResponse{
		TransferID:     transfer.ID,
		ChunkIndex:     chunkIndex,
		UploadedChunks: transfer.UploadedChunks,
		TotalChunks:    transfer.TotalChunks,
		Status:         transfer.Status,
	})
}

// handleGetTransfer (GET /api/transfers/{transferID})
func (h *Handler) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "ID de transferência inválido")
		return
	}

	transfer, err := h.transferService.Get(r.Context(), user.ID, transferID)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, h.transferResponse(r, transfer))
}

// handleDownloadTransfer (GET /api/transfers/{transferID}/download)
//
// Devolve o arquivo cifrado inteiro em memória; o nonce vai no header
// X-Transfer-Nonce para o cliente decifrar do outro lado.
func (h *Handler) handleDownloadTransfer(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "ID de transferência inválido")
		return
	}

	data, nonce, err := h.transferService.Download(r.Context(), user.ID, transferID)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Transfer-Nonce", nonce)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleListRoomTransfers (GET /api/transfers/room/{roomID})
func (h *Handler) handleListRoomTransfers(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "ID de sala inválido")
		return
	}

	transfers, err := h.transferService.ListRoom(r.Context(), user.ID, roomID)
	if err != nil {
		h.mapServiceError(w, err)
		return
	}

	response := make([]TransferResponse, 0, len(transfers))
	for _, t := range transfers {
		response = append(response, h.transferResponse(r, t))
	}

	h.respondWithJSON(w, http.StatusOK, response)
}

// handleCancelTransfer (DELETE /api/transfers/{transferID})
func (h *Handler) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "Contexto de usuário inválido")
		return
	}

	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "ID de transferência inválido")
		return
	}

	if err := h.transferService.Cancel(r.Context(), user.ID, transferID); err != nil {
		h.mapServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Transferência cancelada"})
}

// === Saúde ===

// handleHealth (GET /api/health)
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
