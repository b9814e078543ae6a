package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cipherroom-backend/internal/models"

	"github.com/google/uuid"
)

// InMemoryStore é uma implementação em-memória da interface Store.
// Usada nos testes; copia structs na leitura e na escrita para se
// comportar como um banco de verdade.
type InMemoryStore struct {
	mu              sync.RWMutex
	usersByID       map[uuid.UUID]*models.User
	usersByUsername map[string]uuid.UUID
	invitesByID     map[uuid.UUID]*models.InviteCode
	invitesByCode   map[string]uuid.UUID
	rooms           map[uuid.UUID]*models.Room
	roomsByCode     map[string]uuid.UUID
	members         map[uuid.UUID]map[uuid.UUID]*models.RoomMember // roomID -> userID -> membro
	transfers       map[uuid.UUID]*models.FileTransfer
	messages        map[uuid.UUID][]*models.Message // roomID -> mensagens
}

// NewInMemoryStore cria uma nova instância do store em memória
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		usersByID:       make(map[uuid.UUID]*models.User),
		usersByUsername: make(map[string]uuid.UUID),
		invitesByID:     make(map[uuid.UUID]*models.InviteCode),
		invitesByCode:   make(map[string]uuid.UUID),
		rooms:           make(map[uuid.UUID]*models.Room),
		roomsByCode:     make(map[string]uuid.UUID),
		members:         make(map[uuid.UUID]map[uuid.UUID]*models.RoomMember),
		transfers:       make(map[uuid.UUID]*models.FileTransfer),
		messages:        make(map[uuid.UUID][]*models.Message),
	}
}

func copyUser(u *models.User) *models.User {
	cp := *u
	return &cp
}

func copyInvite(i *models.InviteCode) *models.InviteCode {
	cp := *i
	return &cp
}

func copyRoom(r *models.Room) *models.Room {
	cp := *r
	return &cp
}

func copyMember(m *models.RoomMember) *models.RoomMember {
	cp := *m
	return &cp
}

func copyTransfer(t *models.FileTransfer) *models.FileTransfer {
	cp := *t
	return &cp
}

func copyMessage(m *models.Message) *models.Message {
	cp := *m
	return &cp
}

// --- UserStore ---

func (s *InMemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("usuário '%s': %w", user.Username, ErrAlreadyExists)
	}

	s.usersByID[user.ID] = copyUser(user)
	s.usersByUsername[user.Username] = user.ID
	return nil
}

func (s *InMemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.usersByUsername[username]
	if !exists {
		return nil, fmt.Errorf("usuário '%s': %w", username, ErrNotFound)
	}
	return copyUser(s.usersByID[id]), nil
}

func (s *InMemoryStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByID[id]
	if !exists {
		return nil, fmt.Errorf("usuário com ID '%s': %w", id, ErrNotFound)
	}
	return copyUser(user), nil
}

func (s *InMemoryStore) CountUsers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.usersByID), nil
}

func (s *InMemoryStore) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByID[id]
	if !exists {
		return fmt.Errorf("usuário com ID '%s': %w", id, ErrNotFound)
	}
	user.PasswordHash = passwordHash
	return nil
}

func (s *InMemoryStore) SetUserLastLogin(ctx context.Context, id uuid.UUID, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user, exists := s.usersByID[id]; exists {
		t := when
		user.LastLogin = &t
	}
	return nil
}

// --- InviteStore ---

func (s *InMemoryStore) CreateInvite(ctx context.Context, invite *models.InviteCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invitesByCode[invite.Code]; exists {
		return fmt.Errorf("convite '%s': %w", invite.Code, ErrAlreadyExists)
	}

	s.invitesByID[invite.ID] = copyInvite(invite)
	s.invitesByCode[invite.Code] = invite.ID
	return nil
}

func (s *InMemoryStore) GetInviteByCode(ctx context.Context, code string) (*models.InviteCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.invitesByCode[code]
	if !exists {
		return nil, fmt.Errorf("convite '%s': %w", code, ErrNotFound)
	}
	return copyInvite(s.invitesByID[id]), nil
}

func (s *InMemoryStore) ConsumeInvite(ctx context.Context, inviteID, usedBy uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	invite, exists := s.invitesByID[inviteID]
	if !exists {
		return fmt.Errorf("convite com ID '%s': %w", inviteID, ErrNotFound)
	}
	invite.UseCount++
	u := usedBy
	invite.UsedBy = &u
	return nil
}

func (s *InMemoryStore) ListInvitesByCreator(ctx context.Context, createdBy uuid.UUID) ([]*models.InviteCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invites := []*models.InviteCode{}
	for _, invite := range s.invitesByID {
		if invite.CreatedBy == createdBy {
			invites = append(invites, copyInvite(invite))
		}
	}
	sort.Slice(invites, func(i, j int) bool { return invites[i].CreatedAt.After(invites[j].CreatedAt) })
	return invites, nil
}

// --- RoomStore ---

func (s *InMemoryStore) CreateRoom(ctx context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.roomsByCode[room.Code]; exists {
		return fmt.Errorf("sala com código '%s': %w", room.Code, ErrAlreadyExists)
	}

	s.rooms[room.ID] = copyRoom(room)
	s.roomsByCode[room.Code] = room.ID
	return nil
}

func (s *InMemoryStore) GetRoomByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, exists := s.rooms[id]
	if !exists {
		return nil, fmt.Errorf("sala com ID '%s': %w", id, ErrNotFound)
	}
	return copyRoom(room), nil
}

func (s *InMemoryStore) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.roomsByCode[code]
	if !exists {
		return nil, fmt.Errorf("sala com código '%s': %w", code, ErrNotFound)
	}
	room := s.rooms[id]
	if !room.IsActive {
		return nil, fmt.Errorf("sala com código '%s': %w", code, ErrNotFound)
	}
	return copyRoom(room), nil
}

func (s *InMemoryStore) ListRoomsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := []*models.Room{}
	for roomID, roomMembers := range s.members {
		if _, ok := roomMembers[userID]; !ok {
			continue
		}
		room, exists := s.rooms[roomID]
		if !exists || !room.IsActive {
			continue
		}
		rooms = append(rooms, copyRoom(room))
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.After(rooms[j].CreatedAt) })
	return rooms, nil
}

func (s *InMemoryStore) DeactivateRoom(ctx context.Context, roomID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, exists := s.rooms[roomID]; exists {
		room.IsActive = false
	}
	return nil
}

func (s *InMemoryStore) ListExpiredActiveRooms(ctx context.Context, now time.Time) ([]*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := []*models.Room{}
	for _, room := range s.rooms {
		if room.IsActive && room.ExpiresAt != nil && now.After(*room.ExpiresAt) {
			rooms = append(rooms, copyRoom(room))
		}
	}
	return rooms, nil
}

func (s *InMemoryStore) PurgeRoomData(ctx context.Context, roomID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, transfer := range s.transfers {
		if transfer.RoomID == roomID {
			delete(s.transfers, id)
		}
	}
	delete(s.messages, roomID)
	delete(s.members, roomID)
	if room, exists := s.rooms[roomID]; exists {
		room.IsActive = false
	}
	return nil
}

func (s *InMemoryStore) UpsertMember(ctx context.Context, member *models.RoomMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomMembers, exists := s.members[member.RoomID]
	if !exists {
		roomMembers = make(map[uuid.UUID]*models.RoomMember)
		s.members[member.RoomID] = roomMembers
	}

	if existing, ok := roomMembers[member.UserID]; ok {
		// Entrada repetida: só a chave pública e a presença mudam
		existing.PublicKey = member.PublicKey
		existing.IsOnline = member.IsOnline
		existing.LastSeen = member.LastSeen
		return nil
	}

	roomMembers[member.UserID] = copyMember(member)
	return nil
}

func (s *InMemoryStore) GetMember(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	member, ok := s.members[roomID][userID]
	if !ok {
		return nil, fmt.Errorf("membro da sala: %w", ErrNotFound)
	}
	return copyMember(member), nil
}

func (s *InMemoryStore) ListMembers(ctx context.Context, roomID uuid.UUID) ([]*models.RoomMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := []*models.RoomMember{}
	for _, member := range s.members[roomID] {
		members = append(members, copyMember(member))
	}
	sort.Slice(members, func(i, j int) bool { return members[i].JoinedAt.Before(members[j].JoinedAt) })
	return members, nil
}

func (s *InMemoryStore) DeleteMember(ctx context.Context, roomID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[roomID][userID]; !ok {
		return fmt.Errorf("membro da sala: %w", ErrNotFound)
	}
	delete(s.members[roomID], userID)
	return nil
}

func (s *InMemoryStore) SetMemberPresence(ctx context.Context, roomID, userID uuid.UUID, online bool, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	member, ok := s.members[roomID][userID]
	if !ok {
		return fmt.Errorf("membro da sala: %w", ErrNotFound)
	}
	member.IsOnline = online
	member.LastSeen = seenAt
	return nil
}

// --- TransferStore ---

func (s *InMemoryStore) CreateTransfer(ctx context.Context, transfer *models.FileTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transfers[transfer.ID] = copyTransfer(transfer)
	return nil
}

func (s *InMemoryStore) GetTransferByID(ctx context.Context, id uuid.UUID) (*models.FileTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfer, exists := s.transfers[id]
	if !exists {
		return nil, fmt.Errorf("transferência com ID '%s': %w", id, ErrNotFound)
	}
	return copyTransfer(transfer), nil
}

func (s *InMemoryStore) UpdateTransfer(ctx context.Context, transfer *models.FileTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.transfers[transfer.ID]
	if !exists {
		return fmt.Errorf("transferência com ID '%s': %w", transfer.ID, ErrNotFound)
	}
	existing.Status = transfer.Status
	existing.UploadedChunks = transfer.UploadedChunks
	existing.DownloadCount = transfer.DownloadCount
	existing.CompletedAt = transfer.CompletedAt
	existing.StoragePath = transfer.StoragePath
	return nil
}

func (s *InMemoryStore) ListRoomTransfers(ctx context.Context, roomID uuid.UUID) ([]*models.FileTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfers := []*models.FileTransfer{}
	for _, transfer := range s.transfers {
		if transfer.RoomID == roomID {
			transfers = append(transfers, copyTransfer(transfer))
		}
	}
	sort.Slice(transfers, func(i, j int) bool { return transfers[i].CreatedAt.After(transfers[j].CreatedAt) })
	return transfers, nil
}

func (s *InMemoryStore) ListExpiredTransfers(ctx context.Context, now time.Time) ([]*models.FileTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfers := []*models.FileTransfer{}
	for _, transfer := range s.transfers {
		if transfer.Status.IsTerminal() {
			continue
		}
		if transfer.ExpiresAt != nil && now.After(*transfer.ExpiresAt) {
			transfers = append(transfers, copyTransfer(transfer))
		}
	}
	return transfers, nil
}

func (s *InMemoryStore) ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]*models.FileTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfers := []*models.FileTransfer{}
	for _, transfer := range s.transfers {
		if transfer.Status != models.StatusCompleted || transfer.CompletedAt == nil {
			continue
		}
		if transfer.CompletedAt.Before(cutoff) {
			transfers = append(transfers, copyTransfer(transfer))
		}
	}
	return transfers, nil
}

func (s *InMemoryStore) ListTransferIDs(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := []uuid.UUID{}
	for id := range s.transfers {
		ids = append(ids, id)
	}
	return ids, nil
}

// --- MessageStore ---

func (s *InMemoryStore) CreateMessage(ctx context.Context, message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[message.RoomID] = append(s.messages[message.RoomID], copyMessage(message))
	return nil
}

func (s *InMemoryStore) ListRoomMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[roomID]
	messages := make([]*models.Message, 0, len(stored))
	for _, message := range stored {
		messages = append(messages, copyMessage(message))
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].CreatedAt.After(messages[j].CreatedAt) })
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}
