package repository

import (
	"context"
	"time"

	"cipherroom-backend/internal/models"

	"github.com/google/uuid"
)

// UserStore define a interface para operações de usuário no DB
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	CountUsers(ctx context.Context) (int, error)
	UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetUserLastLogin(ctx context.Context, id uuid.UUID, when time.Time) error
}

// InviteStore define a interface para operações de códigos de convite
type InviteStore interface {
	CreateInvite(ctx context.Context, invite *models.InviteCode) error
	GetInviteByCode(ctx context.Context, code string) (*models.InviteCode, error)
	ConsumeInvite(ctx context.Context, inviteID, usedBy uuid.UUID) error
	ListInvitesByCreator(ctx context.Context, createdBy uuid.UUID) ([]*models.InviteCode, error)
}

// RoomStore define a interface para operações de salas e membros
type RoomStore interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoomByID(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	ListRoomsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Room, error)
	DeactivateRoom(ctx context.Context, roomID uuid.UUID) error
	ListExpiredActiveRooms(ctx context.Context, now time.Time) ([]*models.Room, error)

	// PurgeRoomData remove transferências, mensagens e membros da sala e a
	// desativa, tudo de uma vez. É o único caminho que apaga linhas de
	// Message/RoomMember. Idempotente.
	PurgeRoomData(ctx context.Context, roomID uuid.UUID) error

	UpsertMember(ctx context.Context, member *models.RoomMember) error
	GetMember(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomMember, error)
	ListMembers(ctx context.Context, roomID uuid.UUID) ([]*models.RoomMember, error)
	DeleteMember(ctx context.Context, roomID, userID uuid.UUID) error
	SetMemberPresence(ctx context.Context, roomID, userID uuid.UUID, online bool, seenAt time.Time) error
}

// TransferStore define a interface para operações de transferência no DB
type TransferStore interface {
	CreateTransfer(ctx context.Context, transfer *models.FileTransfer) error
	GetTransferByID(ctx context.Context, id uuid.UUID) (*models.FileTransfer, error)
	UpdateTransfer(ctx context.Context, transfer *models.FileTransfer) error
	ListRoomTransfers(ctx context.Context, roomID uuid.UUID) ([]*models.FileTransfer, error)
	ListExpiredTransfers(ctx context.Context, now time.Time) ([]*models.FileTransfer, error)
	ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]*models.FileTransfer, error)
	ListTransferIDs(ctx context.Context) ([]uuid.UUID, error)
}

// MessageStore define a interface para operações de mensagens cifradas
type MessageStore interface {
	CreateMessage(ctx context.Context, message *models.Message) error
	ListRoomMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.Message, error)
}

// Store é uma interface agregada para todas as operações de store
// Facilita a injeção de dependência
type Store interface {
	UserStore
	InviteStore
	RoomStore
	TransferStore
	MessageStore
}
