package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cipherroom-backend/internal/models"
	"cipherroom-backend/internal/repository"
	"cipherroom-backend/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxDownloads é o limite de downloads quando o cliente não pede um
	DefaultMaxDownloads = 9999

	// chunkOverhead é a folga aceita além do tamanho nominal do chunk,
	// para o tag AEAD e eventual preenchimento que o cliente adicione
	chunkOverhead = 256
)

// RoomNotifier entrega eventos em tempo real para os membros de uma sala.
// Implementado pelo hub de WebSocket; aqui só importa o broadcast.
type RoomNotifier interface {
	BroadcastToRoom(roomID uuid.UUID, payload []byte)
}

// newTransferEvent avisa a sala que uma transferência ficou pronta
type newTransferEvent struct {
	Type              string                `json:"type"`
	TransferID        uuid.UUID             `json:"transfer_id"`
	SenderID          uuid.UUID             `json:"sender_id"`
	SenderName        string                `json:"sender_name"`
	EncryptedFilename string                `json:"encrypted_filename"`
	FileSize          int64                 `json:"file_size"`
	Status            models.TransferStatus `json:"status"`
	Timestamp         time.Time             `json:"timestamp"`
}

// InitTransferParams define os parâmetros para iniciar uma transferência
type InitTransferParams struct {
	RoomID            uuid.UUID
	EncryptedFilename string
	EncryptedMimetype string
	FileSize          int64
	Nonce             string
	Mode              models.TransferMode
	// ExpiresInHours nulo usa a validade padrão configurada; zero desativa
	ExpiresInHours *int
	// MaxDownloads zero usa o padrão
	MaxDownloads int
}

// TransferService lida com a lógica de negócios de transferências.
// O conteúdo dos chunks é opaco: cifrado pelo remetente, decifrado pelo
// destinatário, nunca pelo servidor.
type TransferService struct {
	transferStore repository.TransferStore
	roomStore     repository.RoomStore
	userStore     repository.UserStore
	chunks        storage.ChunkStore
	notifier      RoomNotifier
	chunkSize     int64
	maxFileSize   int64
	defaultTTL    time.Duration

	// Um lock por transferência em voo: o contador uploaded_chunks e as
	// transições de status precisam ser atômicos entre uploads concorrentes
	mu    sync.Mutex
	locks map[uuid.UUID]*transferLock
}

type transferLock struct {
	sync.Mutex
	refs int
}

// NewTransferService cria um novo serviço de transferência
func NewTransferService(
	transferStore repository.TransferStore,
	roomStore repository.RoomStore,
	userStore repository.UserStore,
	chunks storage.ChunkStore,
	notifier RoomNotifier,
	chunkSize, maxFileSize int64,
	defaultTTL time.Duration,
) *TransferService {
	return &TransferService{
		transferStore: transferStore,
		roomStore:     roomStore,
		userStore:     userStore,
		chunks:        chunks,
		notifier:      notifier,
		chunkSize:     chunkSize,
		maxFileSize:   maxFileSize,
		defaultTTL:    defaultTTL,
		locks:         map[uuid.UUID]*transferLock{},
	}
}

// lockTransfer serializa as operações que mudam o estado de uma mesma
// transferência. Devolve a função de unlock; o lock some do mapa quando
// ninguém mais o segura.
func (s *TransferService) lockTransfer(id uuid.UUID) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &transferLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// Init registra uma nova transferência em estado pendente e, no modo relay,
// prepara a área de armazenamento dos chunks
func (s *TransferService) Init(ctx context.Context, senderID uuid.UUID, p InitTransferParams) (*models.FileTransfer, error) {
	// 1. Conferir sala e associação do remetente
	room, err := verifyRoomMembership(ctx, s.roomStore, p.RoomID, senderID)
	if err != nil {
		return nil, err
	}

	if p.Mode == models.ModeRelay && !room.AllowRelay {
		return nil, fmt.Errorf("transferências via relay não são permitidas nesta sala: %w", ErrInvalidArgument)
	}

	if p.FileSize <= 0 || p.FileSize > s.maxFileSize {
		return nil, fmt.Errorf("tamanho de arquivo fora do limite permitido: %w", ErrInvalidArgument)
	}

	// 2. Calcular o número de chunks
	totalChunks := int((p.FileSize + s.chunkSize - 1) / s.chunkSize)

	now := time.Now().UTC()

	var expiresAt *time.Time
	switch {
	case p.ExpiresInHours == nil:
		t := now.Add(s.defaultTTL)
		expiresAt = &t
	case *p.ExpiresInHours > 0:
		t := now.Add(time.Duration(*p.ExpiresInHours) * time.Hour)
		expiresAt = &t
	}

	maxDownloads := p.MaxDownloads
	if maxDownloads == 0 {
		maxDownloads = DefaultMaxDownloads
	}

	transfer := &models.FileTransfer{
		ID:                uuid.New(),
		RoomID:            p.RoomID,
		SenderID:          senderID,
		EncryptedFilename: p.EncryptedFilename,
		EncryptedMimetype: p.EncryptedMimetype,
		FileSize:          p.FileSize,
		Mode:              p.Mode,
		Status:            models.StatusPending,
		Nonce:             p.Nonce,
		TotalChunks:       totalChunks,
		CreatedAt:         now,
		ExpiresAt:         expiresAt,
		MaxDownloads:      maxDownloads,
	}

	// 3. No modo relay os chunks passam pelo servidor: preparar a área
	if p.Mode == models.ModeRelay {
		storagePath, err := s.chunks.EnsureTransfer(ctx, transfer.ID)
		if err != nil {
			return nil, fmt.Errorf("erro ao preparar armazenamento: %w", err)
		}
		transfer.StoragePath = storagePath
	}

	if err := s.transferStore.CreateTransfer(ctx, transfer); err != nil {
		return nil, fmt.Errorf("erro ao salvar transferência: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"transfer_id":  transfer.ID,
		"room_id":      transfer.RoomID,
		"mode":         transfer.Mode,
		"total_chunks": transfer.TotalChunks,
	}).Info("Transferência iniciada")

	return transfer, nil
}

// UploadChunk grava um chunk cifrado e atualiza o progresso. Reenvio de um
// índice já recebido sobrescreve o chunk sem contar de novo; quando o último
// índice chega a transferência fica pronta e a sala é avisada.
func (s *TransferService) UploadChunk(ctx context.Context, userID, transferID uuid.UUID, chunkIndex int, data []byte) (*models.FileTransfer, error) {
	unlock := s.lockTransfer(transferID)
	defer unlock()

	transfer, err := s.transferStore.GetTransferByID(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("transferência não encontrada: %w", ErrNotFound)
	}

	if transfer.SenderID != userID {
		return nil, fmt.Errorf("somente o remetente pode enviar chunks: %w", ErrForbidden)
	}

	if transfer.Status != models.StatusPending && transfer.Status != models.StatusUploading {
		return nil, fmt.Errorf("transferência no estado '%s' não aceita chunks: %w", transfer.Status, ErrInvalidState)
	}

	if chunkIndex < 0 || chunkIndex >= transfer.TotalChunks {
		return nil, fmt.Errorf("índice de chunk inválido: %d: %w", chunkIndex, ErrInvalidArgument)
	}

	if transfer.Mode != models.ModeRelay {
		return nil, fmt.Errorf("upload de chunks só existe no modo relay: %w", ErrInvalidArgument)
	}

	if len(data) == 0 || int64(len(data)) > s.chunkSize+chunkOverhead {
		return nil, fmt.Errorf("tamanho de chunk inválido: %d bytes: %w", len(data), ErrInvalidArgument)
	}

	// Índice repetido sobrescreve o que já está no armazenamento, mas não
	// conta de novo; cada índice vale uma única vez no contador
	duplicate, err := s.chunks.HasChunk(ctx, transferID, chunkIndex)
	if err != nil {
		return nil, fmt.Errorf("erro ao verificar chunk: %w", err)
	}

	if err := s.chunks.WriteChunk(ctx, transferID, chunkIndex, data); err != nil {
		return nil, fmt.Errorf("erro ao gravar chunk %d: %w", chunkIndex, err)
	}

	if !duplicate {
		transfer.UploadedChunks++
	}
	if transfer.Status == models.StatusPending {
		transfer.Status = models.StatusUploading
	}

	ready := false
	if transfer.UploadedChunks >= transfer.TotalChunks {
		transfer.Status = models.StatusReady
		ready = true
	}

	if err := s.transferStore.UpdateTransfer(ctx, transfer); err != nil {
		return nil, fmt.Errorf("erro ao atualizar transferência: %w", err)
	}

	if ready {
		s.announceReady(ctx, transfer)
	}

	return transfer, nil
}

// announceReady avisa todos os membros da sala que o arquivo está disponível
func (s *TransferService) announceReady(ctx context.Context, transfer *models.FileTransfer) {
	if s.notifier == nil {
		return
	}

	senderName := "Unknown"
	if sender, err := s.userStore.GetUserByID(ctx, transfer.SenderID); err == nil {
		senderName = sender.DisplayName
	}

	payload, err := json.Marshal(newTransferEvent{
		Type:              "new_transfer",
		TransferID:        transfer.ID,
		SenderID:          transfer.SenderID,
		SenderName:        senderName,
		EncryptedFilename: transfer.EncryptedFilename,
		FileSize:          transfer.FileSize,
		Status:            transfer.Status,
		Timestamp:         time.Now().UTC(),
	})
	if err != nil {
		logrus.WithError(err).Error("Falha ao serializar evento new_transfer")
		return
	}

	s.notifier.BroadcastToRoom(transfer.RoomID, payload)

	logrus.WithFields(logrus.Fields{
		"transfer_id": transfer.ID,
		"room_id":     transfer.RoomID,
	}).Info("Transferência pronta para download")
}

// Get busca uma transferência, conferindo que o usuário é membro da sala dela
func (s *TransferService) Get(ctx context.Context, userID, transferID uuid.UUID) (*models.FileTransfer, error) {
	transfer, err := s.transferStore.GetTransferByID(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("transferência não encontrada: %w", ErrNotFound)
	}

	if _, err := s.roomStore.GetMember(ctx, transfer.RoomID, userID); err != nil {
		return nil, fmt.Errorf("usuário não é membro da sala: %w", ErrForbidden)
	}

	return transfer, nil
}

// claimDownload valida e consome uma vaga de download sob o lock da
// transferência; o último download permitido encerra a transferência
func (s *TransferService) claimDownload(ctx context.Context, userID, transferID uuid.UUID) (*models.FileTransfer, error) {
	unlock := s.lockTransfer(transferID)
	defer unlock()

	transfer, err := s.transferStore.GetTransferByID(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("transferência não encontrada: %w", ErrNotFound)
	}

	if _, err := s.roomStore.GetMember(ctx, transfer.RoomID, userID); err != nil {
		return nil, fmt.Errorf("usuário não é membro da sala: %w", ErrForbidden)
	}

	now := time.Now().UTC()
	if !transfer.CanDownload(now) {
		if transfer.IsExpired(now) {
			return nil, fmt.Errorf("transferência expirada: %w", ErrGone)
		}
		if transfer.DownloadCount >= transfer.MaxDownloads {
			return nil, fmt.Errorf("limite de downloads atingido: %w", ErrGone)
		}
		return nil, fmt.Errorf("transferência no estado '%s' não está pronta: %w", transfer.Status, ErrInvalidState)
	}

	// Contar o download antes de ler os bytes: melhor um download perdido
	// do que um a mais do que o remetente permitiu
	transfer.DownloadCount++
	if transfer.DownloadCount >= transfer.MaxDownloads {
		transfer.Status = models.StatusCompleted
		transfer.CompletedAt = &now
	}

	if err := s.transferStore.UpdateTransfer(ctx, transfer); err != nil {
		return nil, fmt.Errorf("erro ao atualizar transferência: %w", err)
	}

	return transfer, nil
}

// Download devolve o arquivo cifrado completo, remontado na ordem dos
// chunks, junto com o nonce necessário para decifrar do outro lado
func (s *TransferService) Download(ctx context.Context, userID, transferID uuid.UUID) ([]byte, string, error) {
	transfer, err := s.claimDownload(ctx, userID, transferID)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	buf.Grow(int(transfer.FileSize))
	for i := 0; i < transfer.TotalChunks; i++ {
		data, err := s.chunks.ReadChunk(ctx, transferID, i)
		if err != nil {
			return nil, "", fmt.Errorf("erro ao ler chunk %d: %w", i, err)
		}
		buf.Write(data)
	}

	logrus.WithFields(logrus.Fields{
		"transfer_id":    transfer.ID,
		"download_count": transfer.DownloadCount,
	}).Info("Transferência baixada")

	return buf.Bytes(), transfer.Nonce, nil
}

// ListRoom lista as transferências de uma sala, mais recentes primeiro
func (s *TransferService) ListRoom(ctx context.Context, userID, roomID uuid.UUID) ([]*models.FileTransfer, error) {
	if _, err := verifyRoomMembership(ctx, s.roomStore, roomID, userID); err != nil {
		return nil, err
	}

	transfers, err := s.transferStore.ListRoomTransfers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("erro ao listar transferências: %w", err)
	}
	return transfers, nil
}

// Cancel encerra uma transferência e apaga seus chunks do armazenamento.
// Só o remetente pode cancelar; o armazenamento é limpo antes de persistir
// o estado final para nunca deixar bytes órfãos atrás de um status terminal.
func (s *TransferService) Cancel(ctx context.Context, userID, transferID uuid.UUID) error {
	unlock := s.lockTransfer(transferID)
	defer unlock()

	transfer, err := s.transferStore.GetTransferByID(ctx, transferID)
	if err != nil {
		return fmt.Errorf("transferência não encontrada: %w", ErrNotFound)
	}

	if transfer.SenderID != userID {
		return fmt.Errorf("somente o remetente pode cancelar a transferência: %w", ErrForbidden)
	}

	if transfer.Mode == models.ModeRelay {
		if err := s.chunks.DeleteTransfer(ctx, transferID); err != nil {
			return fmt.Errorf("erro ao apagar chunks da transferência: %w", err)
		}
	}

	transfer.Status = models.StatusCancelled
	if err := s.transferStore.UpdateTransfer(ctx, transfer); err != nil {
		return fmt.Errorf("erro ao atualizar transferência: %w", err)
	}

	logrus.WithField("transfer_id", transferID).Info("Transferência cancelada")
	return nil
}
