package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cipherroom-backend/internal/cryptoutil"
	"cipherroom-backend/internal/models"
	"cipherroom-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Tentativas de gerar um código de sala antes de desistir (colisão de código)
const roomCodeAttempts = 5

// DefaultRoomTTL é a validade padrão de uma sala recém-criada
const DefaultRoomTTL = 24 * time.Hour

// CreateRoomParams são os parâmetros para criar uma nova sala
type CreateRoomParams struct {
	Name       string
	PublicKey  string
	AllowRelay bool
	// ExpiresInHours nulo usa o padrão de 24h; zero cria sala sem validade
	ExpiresInHours *int
}

// SafetyNumberInfo agrupa o número de segurança e as impressões digitais
// em emoji dos dois lados da sala
type SafetyNumberInfo struct {
	SafetyNumber string
	EmojiSelf    []string
	EmojiPeer    []string
}

// RoomService lida com a lógica de negócios de salas e membros
type RoomService struct {
	roomStore repository.RoomStore
}

// NewRoomService cria um novo serviço de salas
func NewRoomService(roomStore repository.RoomStore) *RoomService {
	return &RoomService{roomStore: roomStore}
}

// verifyRoomMembership confere, nesta ordem, se a sala existe e está ativa,
// se não expirou e se o usuário é membro. É a verificação usada pelo caminho
// de transferências.
func verifyRoomMembership(ctx context.Context, store repository.RoomStore, roomID, userID uuid.UUID) (*models.Room, error) {
	room, err := store.GetRoomByID(ctx, roomID)
	if err != nil || !room.IsActive {
		return nil, fmt.Errorf("sala não encontrada: %w", ErrNotFound)
	}
	if room.IsExpired(time.Now().UTC()) {
		return nil, fmt.Errorf("sala expirada: %w", ErrGone)
	}
	if _, err := store.GetMember(ctx, roomID, userID); err != nil {
		return nil, fmt.Errorf("usuário não é membro da sala: %w", ErrForbidden)
	}
	return room, nil
}

// CreateRoom cria uma nova sala e registra o criador como primeiro membro
func (s *RoomService) CreateRoom(ctx context.Context, creatorID uuid.UUID, p CreateRoomParams) (*models.Room, error) {
	now := time.Now().UTC()

	var expiresAt *time.Time
	switch {
	case p.ExpiresInHours == nil:
		t := now.Add(DefaultRoomTTL)
		expiresAt = &t
	case *p.ExpiresInHours > 0:
		t := now.Add(time.Duration(*p.ExpiresInHours) * time.Hour)
		expiresAt = &t
	}

	room := &models.Room{
		ID:         uuid.New(),
		Name:       p.Name,
		RoomType:   models.RoomTypeDirect,
		CreatedBy:  creatorID,
		IsActive:   true,
		AllowRelay: p.AllowRelay,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
	}

	// 1. Gerar um código curto que ainda não esteja em uso
	created := false
	for i := 0; i < roomCodeAttempts; i++ {
		code, err := cryptoutil.NewRoomCode()
		if err != nil {
			return nil, fmt.Errorf("erro ao gerar código da sala: %w", err)
		}
		room.Code = code
		if err := s.roomStore.CreateRoom(ctx, room); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				continue
			}
			return nil, fmt.Errorf("erro ao salvar sala: %w", err)
		}
		created = true
		break
	}
	if !created {
		return nil, fmt.Errorf("erro ao gerar código de sala único")
	}

	// 2. Criador entra como primeiro membro, já online
	member := &models.RoomMember{
		ID:        uuid.New(),
		RoomID:    room.ID,
		UserID:    creatorID,
		PublicKey: p.PublicKey,
		JoinedAt:  now,
		IsOnline:  true,
		LastSeen:  now,
	}
	if err := s.roomStore.UpsertMember(ctx, member); err != nil {
		return nil, fmt.Errorf("erro ao registrar criador na sala: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"room_id": room.ID,
		"code":    room.Code,
	}).Info("Sala criada")

	return room, nil
}

// JoinRoom entra em uma sala pelo código. Reentrada é permitida e apenas
// substitui a chave pública e a presença do membro.
func (s *RoomService) JoinRoom(ctx context.Context, userID uuid.UUID, code, publicKey string) (*models.Room, error) {
	room, err := s.roomStore.GetRoomByCode(ctx, strings.ToUpper(code))
	if err != nil {
		return nil, fmt.Errorf("sala não encontrada: %w", ErrNotFound)
	}

	now := time.Now().UTC()
	if room.IsExpired(now) {
		return nil, fmt.Errorf("sala expirada: %w", ErrGone)
	}

	member := &models.RoomMember{
		ID:        uuid.New(),
		RoomID:    room.ID,
		UserID:    userID,
		PublicKey: publicKey,
		JoinedAt:  now,
		IsOnline:  true,
		LastSeen:  now,
	}
	if err := s.roomStore.UpsertMember(ctx, member); err != nil {
		return nil, fmt.Errorf("erro ao registrar membro na sala: %w", err)
	}

	return room, nil
}

// ListRooms lista as salas ativas e não expiradas das quais o usuário é membro
func (s *RoomService) ListRooms(ctx context.Context, userID uuid.UUID) ([]*models.Room, error) {
	rooms, err := s.roomStore.ListRoomsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("erro ao listar salas: %w", err)
	}

	now := time.Now().UTC()
	result := []*models.Room{}
	for _, room := range rooms {
		if room.IsExpired(now) {
			continue
		}
		result = append(result, room)
	}
	return result, nil
}

// GetRoom busca os detalhes de uma sala, conferindo que o usuário é membro
func (s *RoomService) GetRoom(ctx context.Context, roomID, userID uuid.UUID) (*models.Room, error) {
	room, err := s.roomStore.GetRoomByID(ctx, roomID)
	if err != nil || !room.IsActive {
		return nil, fmt.Errorf("sala não encontrada: %w", ErrNotFound)
	}

	if _, err := s.roomStore.GetMember(ctx, roomID, userID); err != nil {
		return nil, fmt.Errorf("usuário não é membro da sala: %w", ErrForbidden)
	}

	if room.IsExpired(time.Now().UTC()) {
		return nil, fmt.Errorf("sala expirada: %w", ErrGone)
	}

	return room, nil
}

// ListMembers lista os membros de uma sala
func (s *RoomService) ListMembers(ctx context.Context, roomID uuid.UUID) ([]*models.RoomMember, error) {
	members, err := s.roomStore.ListMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("erro ao listar membros: %w", err)
	}
	return members, nil
}

// SafetyNumber calcula o número de segurança entre o usuário e um par da
// sala, junto com a impressão digital em emoji das duas chaves. Os dois
// precisam estar registrados na sala.
func (s *RoomService) SafetyNumber(ctx context.Context, roomID, selfID, peerID uuid.UUID) (*SafetyNumberInfo, error) {
	room, err := s.roomStore.GetRoomByID(ctx, roomID)
	if err != nil || !room.IsActive {
		return nil, fmt.Errorf("sala não encontrada: %w", ErrNotFound)
	}

	selfMember, err := s.roomStore.GetMember(ctx, roomID, selfID)
	if err != nil {
		return nil, fmt.Errorf("membro não encontrado na sala: %w", ErrNotFound)
	}
	peerMember, err := s.roomStore.GetMember(ctx, roomID, peerID)
	if err != nil {
		return nil, fmt.Errorf("membro não encontrado na sala: %w", ErrNotFound)
	}

	emojiSelf, err := cryptoutil.EmojiFingerprint(selfMember.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("chave pública inválida: %w", err)
	}
	emojiPeer, err := cryptoutil.EmojiFingerprint(peerMember.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("chave pública inválida: %w", err)
	}

	return &SafetyNumberInfo{
		SafetyNumber: cryptoutil.SafetyNumber(selfMember.PublicKey, peerMember.PublicKey),
		EmojiSelf:    emojiSelf,
		EmojiPeer:    emojiPeer,
	}, nil
}

// DeleteRoom desativa uma sala. Só o criador pode fazer isso; os dados são
// removidos de fato pela limpeza periódica.
func (s *RoomService) DeleteRoom(ctx context.Context, roomID, userID uuid.UUID) error {
	room, err := s.roomStore.GetRoomByID(ctx, roomID)
	if err != nil || !room.IsActive {
		return fmt.Errorf("sala não encontrada: %w", ErrNotFound)
	}

	if room.CreatedBy != userID {
		return fmt.Errorf("somente o criador pode remover a sala: %w", ErrForbidden)
	}

	if err := s.roomStore.DeactivateRoom(ctx, roomID); err != nil {
		return fmt.Errorf("erro ao desativar sala: %w", err)
	}
	return nil
}

// LeaveRoom remove o usuário da lista de membros da sala
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, userID uuid.UUID) error {
	if _, err := s.roomStore.GetMember(ctx, roomID, userID); err != nil {
		return fmt.Errorf("usuário não é membro da sala: %w", ErrNotFound)
	}

	if err := s.roomStore.DeleteMember(ctx, roomID, userID); err != nil {
		return fmt.Errorf("erro ao sair da sala: %w", err)
	}
	return nil
}
