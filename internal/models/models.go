package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomType define o tipo de sala
type RoomType string

const (
	RoomTypeDirect RoomType = "direct"
	RoomTypeGroup  RoomType = "group"
)

// TransferMode define como os bytes do arquivo trafegam
type TransferMode string

const (
	ModeP2P   TransferMode = "p2p"   // direto via WebRTC, bytes nunca passam pelo servidor
	ModeRelay TransferMode = "relay" // servidor armazena e repassa chunks cifrados
)

// TransferStatus define o estado de uma transferência
type TransferStatus string

const (
	StatusPending     TransferStatus = "pending"
	StatusUploading   TransferStatus = "uploading"
	StatusReady       TransferStatus = "ready"
	StatusDownloading TransferStatus = "downloading"
	StatusCompleted   TransferStatus = "completed"
	StatusExpired     TransferStatus = "expired"
	StatusCancelled   TransferStatus = "cancelled"
)

// IsTerminal indica se o status é final (nunca mais muda)
func (s TransferStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusCancelled
}

// User representa um usuário no sistema
type User struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"` // Nunca expor em JSON
	DisplayName  string     `json:"display_name"`
	IsAdmin      bool       `json:"is_admin"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// InviteCode representa um código de convite para registro
type InviteCode struct {
	ID        uuid.UUID  `json:"id"`
	Code      string     `json:"code"`
	CreatedBy uuid.UUID  `json:"created_by"`
	UsedBy    *uuid.UUID `json:"used_by,omitempty"`
	MaxUses   int        `json:"max_uses"`
	UseCount  int        `json:"use_count"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Note      string     `json:"note,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsValid indica se o convite ainda pode ser usado
func (i *InviteCode) IsValid(now time.Time) bool {
	if i.UseCount >= i.MaxUses {
		return false
	}
	if i.ExpiresAt != nil && now.After(*i.ExpiresAt) {
		return false
	}
	return true
}

// Room representa uma sala efêmera de troca de arquivos
type Room struct {
	ID         uuid.UUID  `json:"id"`
	Code       string     `json:"code"` // código curto de entrada, 6 caracteres
	Name       string     `json:"name,omitempty"`
	RoomType   RoomType   `json:"room_type"`
	CreatedBy  uuid.UUID  `json:"created_by"`
	IsActive   bool       `json:"is_active"`
	AllowRelay bool       `json:"allow_relay"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// IsExpired indica se a sala já passou da validade
func (r *Room) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// RoomMember representa a presença de um usuário em uma sala.
// No máximo uma linha por par (sala, usuário); a chave pública é
// substituída quando o usuário entra de novo.
type RoomMember struct {
	ID        uuid.UUID `json:"id"`
	RoomID    uuid.UUID `json:"room_id"`
	UserID    uuid.UUID `json:"user_id"`
	PublicKey string    `json:"public_key"` // X25519 em base64, opaca para o servidor
	JoinedAt  time.Time `json:"joined_at"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
}

// FileTransfer representa os metadados de uma transferência de arquivo.
// O servidor nunca vê o conteúdo: nome, mimetype e bytes são cifrados
// pelo cliente antes de chegar aqui.
type FileTransfer struct {
	ID                uuid.UUID      `json:"id"`
	RoomID            uuid.UUID      `json:"room_id"`
	SenderID          uuid.UUID      `json:"sender_id"`
	EncryptedFilename string         `json:"encrypted_filename"`
	EncryptedMimetype string         `json:"encrypted_mimetype,omitempty"`
	FileSize          int64          `json:"file_size"`
	StoragePath       string         `json:"-"` // só faz sentido no modo relay
	Mode              TransferMode   `json:"mode"`
	Status            TransferStatus `json:"status"`
	Nonce             string         `json:"nonce"`
	TotalChunks       int            `json:"total_chunks"`
	UploadedChunks    int            `json:"uploaded_chunks"`
	CreatedAt         time.Time      `json:"created_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	ExpiresAt         *time.Time     `json:"expires_at,omitempty"`
	DownloadCount     int            `json:"download_count"`
	MaxDownloads      int            `json:"max_downloads"`
}

// IsExpired indica se a transferência passou da validade
func (t *FileTransfer) IsExpired(now time.Time) bool {
	if t.Status == StatusExpired {
		return true
	}
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// CanDownload indica se a transferência pode ser baixada agora
func (t *FileTransfer) CanDownload(now time.Time) bool {
	if t.Status != StatusReady {
		return false
	}
	if t.IsExpired(now) {
		return false
	}
	if t.DownloadCount >= t.MaxDownloads {
		return false
	}
	return true
}

// Message representa uma mensagem de chat cifrada.
// Imutável após a criação; removida apenas quando a sala é purgada.
type Message struct {
	ID               uuid.UUID `json:"id"`
	RoomID           uuid.UUID `json:"room_id"`
	SenderID         uuid.UUID `json:"sender_id"`
	EncryptedContent string    `json:"encrypted_content"`
	Nonce            string    `json:"nonce"`
	CreatedAt        time.Time `json:"created_at"`
	Delivered        bool      `json:"delivered"`
}
