package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cipherroom-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// PostgresStore é a implementação da interface Store para o PostgreSQL
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore cria uma nova instância do PostgresStore e pool de conexões
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("não foi possível criar pool de conexão: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("não foi possível pingar o banco de dados: %w", err)
	}

	logrus.Info("Pool de conexão com PostgreSQL estabelecido.")
	return &PostgresStore{db: pool}, nil
}

// Close fecha o pool de conexões
func (s *PostgresStore) Close() {
	s.db.Close()
}

// RunMigrations executa o script SQL de migração
func (s *PostgresStore) RunMigrations(ctx context.Context, migrationSQL string) error {
	_, err := s.db.Exec(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("falha ao executar migração: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // 23505 = unique_violation
}

// --- UserStore ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	sql := `
        INSERT INTO users (id, username, password_hash, display_name, is_admin, is_active, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.Exec(ctx, sql,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.DisplayName,
		user.IsAdmin,
		user.IsActive,
		user.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("usuário '%s': %w", user.Username, ErrAlreadyExists)
		}
		return fmt.Errorf("falha ao criar usuário: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	sql := `
        SELECT id, username, password_hash, display_name, is_admin, is_active, created_at, last_login
        FROM users
        WHERE username = $1`

	user := &models.User{}
	err := s.db.QueryRow(ctx, sql, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.DisplayName,
		&user.IsAdmin,
		&user.IsActive,
		&user.CreatedAt,
		&user.LastLogin,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("usuário '%s': %w", username, ErrNotFound)
		}
		return nil, fmt.Errorf("falha ao buscar usuário por nome: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	sql := `
        SELECT id, username, password_hash, display_name, is_admin, is_active, created_at, last_login
        FROM users
        WHERE id = $1`

	user := &models.User{}
	err := s.db.QueryRow(ctx, sql, id).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.DisplayName,
		&user.IsAdmin,
		&user.IsActive,
		&user.CreatedAt,
		&user.LastLogin,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("usuário com ID '%s': %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("falha ao buscar usuário por ID: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("falha ao contar usuários: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("falha ao atualizar senha: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("usuário com ID '%s': %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SetUserLastLogin(ctx context.Context, id uuid.UUID, when time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, when)
	if err != nil {
		return fmt.Errorf("falha ao registrar último login: %w", err)
	}
	return nil
}

// --- InviteStore ---

func (s *PostgresStore) CreateInvite(ctx context.Context, invite *models.InviteCode) error {
	sql := `
        INSERT INTO invite_codes (id, code, created_by, used_by, max_uses, use_count, expires_at, note, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.Exec(ctx, sql,
		invite.ID,
		invite.Code,
		invite.CreatedBy,
		invite.UsedBy,
		invite.MaxUses,
		invite.UseCount,
		invite.ExpiresAt,
		invite.Note,
		invite.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("convite '%s': %w", invite.Code, ErrAlreadyExists)
		}
		return fmt.Errorf("falha ao criar convite: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInviteByCode(ctx context.Context, code string) (*models.InviteCode, error) {
	sql := `
        SELECT id, code, created_by, used_by, max_uses, use_count, expires_at, note, created_at
        FROM invite_codes
        WHERE code = $1`

	invite := &models.InviteCode{}
	err := s.db.QueryRow(ctx, sql, code).Scan(
		&invite.ID,
		&invite.Code,
		&invite.CreatedBy,
		&invite.UsedBy,
		&invite.MaxUses,
		&invite.UseCount,
		&invite.ExpiresAt,
		&invite.Note,
		&invite.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("convite '%s': %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("falha ao buscar convite: %w", err)
	}
	return invite, nil
}

func (s *PostgresStore) ConsumeInvite(ctx context.Context, inviteID, usedBy uuid.UUID) error {
	sql := `UPDATE invite_codes SET use_count = use_count + 1, used_by = $2 WHERE id = $1`

	tag, err := s.db.Exec(ctx, sql, inviteID, usedBy)
	if err != nil {
		return fmt.Errorf("falha ao consumir convite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("convite com ID '%s': %w", inviteID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListInvitesByCreator(ctx context.Context, createdBy uuid.UUID) ([]*models.InviteCode, error) {
	sql := `
        SELECT id, code, created_by, used_by, max_uses, use_count, expires_at, note, created_at
        FROM invite_codes
        WHERE created_by = $1
        ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, sql, createdBy)
	if err != nil {
		return nil, fmt.Errorf("falha ao buscar convites: %w", err)
	}
	defer rows.Close()

	// Importante: inicializa como slice vazio, não nil, para consistência de JSON
	invites := []*models.InviteCode{}

	for rows.Next() {
		invite := &models.InviteCode{}
		err := rows.Scan(
			&invite.ID,
			&invite.Code,
			&invite.CreatedBy,
			&invite.UsedBy,
			&invite.MaxUses,
			&invite.UseCount,
			&invite.ExpiresAt,
			&invite.Note,
			&invite.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("falha ao escanear linha de convite: %w", err)
		}
		invites = append(invites, invite)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre os convites: %w", err)
	}

	return invites, nil
}

// --- RoomStore ---

func (s *PostgresStore) CreateRoom(ctx context.Context, room *models.Room) error {
	sql := `
        INSERT INTO rooms (id, code, name, room_type, created_by, is_active, allow_relay, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.Exec(ctx, sql,
		room.ID,
		room.Code,
		room.Name,
		room.RoomType,
		room.CreatedBy,
		room.IsActive,
		room.AllowRelay,
		room.CreatedAt,
		room.ExpiresAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sala com código '%s': %w", room.Code, ErrAlreadyExists)
		}
		return fmt.Errorf("falha ao criar sala: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRoomByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	sql := `
        SELECT id, code, name, room_type, created_by, is_active, allow_relay, created_at, expires_at
        FROM rooms
        WHERE id = $1`

	room := &models.Room{}
	err := s.db.QueryRow(ctx, sql, id).Scan(
		&room.ID,
		&room.Code,
		&room.Name,
		&room.RoomType,
		&room.CreatedBy,
		&room.IsActive,
		&room.AllowRelay,
		&room.CreatedAt,
		&room.ExpiresAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("sala com ID '%s': %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("falha ao buscar sala por ID: %w", err)
	}
	return room, nil
}

func (s *PostgresStore) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	sql := `
        SELECT id, code, name, room_type, created_by, is_active, allow_relay, created_at, expires_at
        FROM rooms
        WHERE code = $1 AND is_active = TRUE`

	room := &models.Room{}
	err := s.db.QueryRow(ctx, sql, code).Scan(
		&room.ID,
		&room.Code,
		&room.Name,
		&room.RoomType,
		&room.CreatedBy,
		&room.IsActive,
		&room.AllowRelay,
		&room.CreatedAt,
		&room.ExpiresAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("sala com código '%s': %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("falha ao buscar sala por código: %w", err)
	}
	return room, nil
}

func (s *PostgresStore) ListRoomsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Room, error) {
	sql := `
        SELECT r.id, r.code, r.name, r.room_type, r.created_by, r.is_active, r.allow_relay, r.created_at, r.expires_at
        FROM rooms r
        JOIN room_members m ON m.room_id = r.id
        WHERE m.user_id = $1 AND r.is_active = TRUE
        ORDER BY r.created_at DESC`

	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("falha ao buscar salas do usuário: %w", err)
	}
	defer rows.Close()

	rooms := []*models.Room{}

	for rows.Next() {
		room := &models.Room{}
		err := rows.Scan(
			&room.ID,
			&room.Code,
			&room.Name,
			&room.RoomType,
			&room.CreatedBy,
			&room.IsActive,
			&room.AllowRelay,
			&room.CreatedAt,
			&room.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("falha ao escanear linha de sala: %w", err)
		}
		rooms = append(rooms, room)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre as salas: %w", err)
	}

	return rooms, nil
}

func (s *PostgresStore) DeactivateRoom(ctx context.Context, roomID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE rooms SET is_active = FALSE WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("falha ao desativar sala: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListExpiredActiveRooms(ctx context.Context, now time.Time) ([]*models.Room, error) {
	sql := `
        SELECT id, code, name, room_type, created_by, is_active, allow_relay, created_at, expires_at
        FROM rooms
        WHERE expires_at IS NOT NULL AND expires_at < $1 AND is_active = TRUE`

	rows, err := s.db.Query(ctx, sql, now)
	if err != nil {
		return nil, fmt.Errorf("falha ao buscar salas expiradas: %w", err)
	}
	defer rows.Close()

	rooms := []*models.Room{}

	for rows.Next() {
		room := &models.Room{}
		err := rows.Scan(
			&room.ID,
			&room.Code,
			&room.Name,
			&room.RoomType,
			&room.CreatedBy,
			&room.IsActive,
			&room.AllowRelay,
			&room.CreatedAt,
			&room.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("falha ao escanear linha de sala: %w", err)
		}
		rooms = append(rooms, room)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre as salas: %w", err)
	}

	return rooms, nil
}

func (s *PostgresStore) PurgeRoomData(ctx context.Context, roomID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("falha ao abrir transação de purga: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("falha ao apagar mensagens da sala: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM file_transfers WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("falha ao apagar transferências da sala: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM room_members WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("falha ao apagar membros da sala: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE rooms SET is_active = FALSE WHERE id = $1`, roomID); err != nil {
		return fmt.Errorf("falha ao desativar sala purgada: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("falha ao confirmar purga da sala: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertMember(ctx context.Context, member *models.RoomMember) error {
	// Entrada repetida substitui a chave pública e reanima a presença
	sql := `
        INSERT INTO room_members (id, room_id, user_id, public_key, joined_at, is_online, last_seen)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (room_id, user_id)
        DO UPDATE SET public_key = EXCLUDED.public_key, is_online = EXCLUDED.is_online, last_seen = EXCLUDED.last_seen`

	_, err := s.db.Exec(ctx, sql,
		member.ID,
		member.RoomID,
		member.UserID,
		member.PublicKey,
		member.JoinedAt,
		member.IsOnline,
		member.LastSeen,
	)

	if err != nil {
		return fmt.Errorf("falha ao gravar membro da sala: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMember(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomMember, error) {
	sql := `
        SELECT id, room_id, user_id, public_key, joined_at, is_online, last_seen
        FROM room_members
        WHERE room_id = $1 AND user_id = $2`

	member := &models.RoomMember{}
	err := s.db.QueryRow(ctx, sql, roomID, userID).Scan(
		&member.ID,
		&member.RoomID,
		&member.UserID,
		&member.PublicKey,
		&member.JoinedAt,
		&member.IsOnline,
		&member.LastSeen,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("membro da sala: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("falha ao buscar membro da sala: %w", err)
	}
	return member, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, roomID uuid.UUID) ([]*models.RoomMember, error) {
	sql := `
        SELECT id, room_id, user_id, public_key, joined_at, is_online, last_seen
        FROM room_members
        WHERE room_id = $1
        ORDER BY joined_at`

	rows, err := s.db.Query(ctx, sql, roomID)
	if err != nil {
		return nil, fmt.Errorf("falha ao buscar membros da sala: %w", err)
	}
	defer rows.Close()

	members := []*models.RoomMember{}

	for rows.Next() {
		member := &models.RoomMember{}
		err := rows.Scan(
			&member.ID,
			&member.RoomID,
			&member.UserID,
			&member.PublicKey,
			&member.JoinedAt,
			&member.IsOnline,
			&member.LastSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("falha ao escanear linha de membro: %w", err)
		}
		members = append(members, member)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre os membros: %w", err)
	}

	return members, nil
}

func (s *PostgresStore) DeleteMember(ctx context.Context, roomID, userID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		return fmt.Errorf("falha ao remover membro da sala: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("membro da sala: %w", ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SetMemberPresence(ctx context.Context, roomID, userID uuid.UUID, online bool, seenAt time.Time) error {
	sql := `UPDATE room_members SET is_online = $3, last_seen = $4 WHERE room_id = $1 AND user_id = $2`

	tag, err := s.db.Exec(ctx, sql, roomID, userID, online, seenAt)
	if err != nil {
		return fmt.Errorf("falha ao atualizar presença do membro: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("membro da sala: %w", ErrNotFound)
	}
	return nil
}

// --- TransferStore ---

func (s *PostgresStore) CreateTransfer(ctx context.Context, transfer *models.FileTransfer) error {
	sql := `
        INSERT INTO file_transfers (id, room_id, sender_id, encrypted_filename, encrypted_mimetype, file_size,
            storage_path, mode, status, nonce, total_chunks, uploaded_chunks, created_at, completed_at,
            expires_at, download_count, max_downloads)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := s.db.Exec(ctx, sql,
		transfer.ID,
		transfer.RoomID,
		transfer.SenderID,
		transfer.EncryptedFilename,
		transfer.EncryptedMimetype,
		transfer.FileSize,
		transfer.StoragePath,
		transfer.Mode,
		transfer.Status,
		transfer.Nonce,
		transfer.TotalChunks,
		transfer.UploadedChunks,
		transfer.CreatedAt,
		transfer.CompletedAt,
		transfer.ExpiresAt,
		transfer.DownloadCount,
		transfer.MaxDownloads,
	)

	if err != nil {
		return fmt.Errorf("falha ao criar transferência: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTransferByID(ctx context.Context, id uuid.UUID) (*models.FileTransfer, error) {
	sql := `
        SELECT id, room_id, sender_id, encrypted_filename, encrypted_mimetype, file_size, storage_path,
            mode, status, nonce, total_chunks, uploaded_chunks, created_at, completed_at, expires_at,
            download_count, max_downloads
        FROM file_transfers
        WHERE id = $1`

	transfer := &models.FileTransfer{}
	err := s.db.QueryRow(ctx, sql, id).Scan(
		&transfer.ID,
		&transfer.RoomID,
		&transfer.SenderID,
		&transfer.EncryptedFilename,
		&transfer.EncryptedMimetype,
		&transfer.FileSize,
		&transfer.StoragePath,
		&transfer.Mode,
		&transfer.Status,
		&transfer.Nonce,
		&transfer.TotalChunks,
		&transfer.UploadedChunks,
		&transfer.CreatedAt,
		&transfer.CompletedAt,
		&transfer.ExpiresAt,
		&transfer.DownloadCount,
		&transfer.MaxDownloads,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transferência com ID '%s': %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("falha ao buscar transferência: %w", err)
	}
	return transfer, nil
}

func (s *PostgresStore) UpdateTransfer(ctx context.Context, transfer *models.FileTransfer) error {
	sql := `
        UPDATE file_transfers
        SET status = $2, uploaded_chunks = $3, download_count = $4, completed_at = $5, storage_path = $6
        WHERE id = $1`

	tag, err := s.db.Exec(ctx, sql,
		transfer.ID,
		transfer.Status,
		transfer.UploadedChunks,
		transfer.DownloadCount,
		transfer.CompletedAt,
		transfer.StoragePath,
	)

	if err != nil {
		return fmt.Errorf("falha ao atualizar transferência: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transferência com ID '%s': %w", transfer.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListRoomTransfers(ctx context.Context, roomID uuid.UUID) ([]*models.FileTransfer, error) {
	sql := `
        SELECT id, room_id, sender_id, encrypted_filename, encrypted_mimetype, file_size, storage_path,
            mode, status, nonce, total_chunks, uploaded_chunks, created_at, completed_at, expires_at,
            download_count, max_downloads
        FROM file_transfers
        WHERE room_id = $1
        ORDER BY created_at DESC`

	return s.queryTransfers(ctx, sql, roomID)
}

func (s *PostgresStore) ListExpiredTransfers(ctx context.Context, now time.Time) ([]*models.FileTransfer, error) {
	sql := `
        SELECT id, room_id, sender_id, encrypted_filename, encrypted_mimetype, file_size, storage_path,
            mode, status, nonce, total_chunks, uploaded_chunks, created_at, completed_at, expires_at,
            download_count, max_downloads
        FROM file_transfers
        WHERE expires_at IS NOT NULL AND expires_at < $1
            AND status NOT IN ('completed', 'expired', 'cancelled')`

	return s.queryTransfers(ctx, sql, now)
}

func (s *PostgresStore) ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]*models.FileTransfer, error) {
	sql := `
        SELECT id, room_id, sender_id, encrypted_filename, encrypted_mimetype, file_size, storage_path,
            mode, status, nonce, total_chunks, uploaded_chunks, created_at, completed_at, expires_at,
            download_count, max_downloads
        FROM file_transfers
        WHERE status = 'completed' AND completed_at IS NOT NULL AND completed_at < $1`

	return s.queryTransfers(ctx, sql, cutoff)
}

// queryTransfers centraliza o Scan das consultas de transferência
func (s *PostgresStore) queryTransfers(ctx context.Context, sql string, args ...interface{}) ([]*models.FileTransfer, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("falha ao buscar transferências: %w", err)
	}
	defer rows.Close()

	transfers := []*models.FileTransfer{}

	for rows.Next() {
		transfer := &models.FileTransfer{}
		err := rows.Scan(
			&transfer.ID,
			&transfer.RoomID,
			&transfer.SenderID,
			&transfer.EncryptedFilename,
			&transfer.EncryptedMimetype,
			&transfer.FileSize,
			&transfer.StoragePath,
			&transfer.Mode,
			&transfer.Status,
			&transfer.Nonce,
			&transfer.TotalChunks,
			&transfer.UploadedChunks,
			&transfer.CreatedAt,
			&transfer.CompletedAt,
			&transfer.ExpiresAt,
			&transfer.DownloadCount,
			&transfer.MaxDownloads,
		)
		if err != nil {
			return nil, fmt.Errorf("falha ao escanear linha de transferência: %w", err)
		}
		transfers = append(transfers, transfer)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre as transferências: %w", err)
	}

	return transfers, nil
}

func (s *PostgresStore) ListTransferIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM file_transfers`)
	if err != nil {
		return nil, fmt.Errorf("falha ao buscar IDs de transferência: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("falha ao escanear ID de transferência: %w", err)
		}
		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre os IDs: %w", err)
	}

	return ids, nil
}

// --- MessageStore ---

func (s *PostgresStore) CreateMessage(ctx context.Context, message *models.Message) error {
	sql := `
        INSERT INTO messages (id, room_id, sender_id, encrypted_content, nonce, created_at, delivered)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.Exec(ctx, sql,
		message.ID,
		message.RoomID,
		message.SenderID,
		message.EncryptedContent,
		message.Nonce,
		message.CreatedAt,
		message.Delivered,
	)

	if err != nil {
		return fmt.Errorf("falha ao criar mensagem: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRoomMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.Message, error) {
	sql := `
        SELECT id, room_id, sender_id, encrypted_content, nonce, created_at, delivered
        FROM messages
        WHERE room_id = $1
        ORDER BY created_at DESC
        LIMIT $2`

	rows, err := s.db.Query(ctx, sql, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("falha ao buscar mensagens: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}

	for rows.Next() {
		message := &models.Message{}
		err := rows.Scan(
			&message.ID,
			&message.RoomID,
			&message.SenderID,
			&message.EncryptedContent,
			&message.Nonce,
			&message.CreatedAt,
			&message.Delivered,
		)
		if err != nil {
			return nil, fmt.Errorf("falha ao escanear linha de mensagem: %w", err)
		}
		messages = append(messages, message)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre as mensagens: %w", err)
	}

	return messages, nil
}
