package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"cipherroom-backend/internal/models"
	"cipherroom-backend/internal/repository"
	"cipherroom-backend/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Chunks pequenos deixam os testes montarem arquivos de poucos bytes
const (
	testChunkSize   = 64
	testMaxFileSize = 1 << 20
)

type fakeNotifier struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeNotifier) BroadcastToRoom(roomID uuid.UUID, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
}

// events decodifica tudo que foi transmitido até agora
func (f *fakeNotifier) events(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]map[string]any, 0, len(f.payloads))
	for _, payload := range f.payloads {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(payload, &ev))
		events = append(events, ev)
	}
	return events
}

type transferEnv struct {
	svc      *TransferService
	store    *repository.InMemoryStore
	chunks   *storage.LocalStore
	notifier *fakeNotifier
}

func newTransferEnv(t *testing.T) *transferEnv {
	t.Helper()
	store := repository.NewInMemoryStore()
	chunks, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	notifier := &fakeNotifier{}
	svc := NewTransferService(store, store, store, chunks, notifier, testChunkSize, testMaxFileSize, 24*time.Hour)
	return &transferEnv{svc: svc, store: store, chunks: chunks, notifier: notifier}
}

func seedUser(t *testing.T, store *repository.InMemoryStore, displayName string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := store.CreateUser(context.Background(), &models.User{
		ID:           id,
		Username:     strings.ToLower(displayName) + "-" + id.String()[:8],
		PasswordHash: "$2a$10$hash-que-nunca-e-conferido",
		DisplayName:  displayName,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	return id
}

func seedMember(t *testing.T, store *repository.InMemoryStore, roomID, userID uuid.UUID) {
	t.Helper()
	now := time.Now().UTC()
	err := store.UpsertMember(context.Background(), &models.RoomMember{
		ID:        uuid.New(),
		RoomID:    roomID,
		UserID:    userID,
		PublicKey: "chave-" + userID.String()[:8],
		JoinedAt:  now,
		LastSeen:  now,
	})
	require.NoError(t, err)
}

// seedRoom cria uma sala ativa sem validade e registra o criador como membro
func seedRoom(t *testing.T, store *repository.InMemoryStore, creatorID uuid.UUID, allowRelay bool) uuid.UUID {
	t.Helper()
	room := &models.Room{
		ID:         uuid.New(),
		Code:       strings.ToUpper(uuid.New().String()[:8]),
		RoomType:   models.RoomTypeDirect,
		CreatedBy:  creatorID,
		IsActive:   true,
		AllowRelay: allowRelay,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateRoom(context.Background(), room))
	seedMember(t, store, room.ID, creatorID)
	return room.ID
}

func relayParams(roomID uuid.UUID, fileSize int64) InitTransferParams {
	return InitTransferParams{
		RoomID:            roomID,
		EncryptedFilename: "bm9tZS1jaWZyYWRv",
		EncryptedMimetype: "bWltZS1jaWZyYWRv",
		FileSize:          fileSize,
		Nonce:             "bm9uY2UtZGUtdGVzdGU=",
		Mode:              models.ModeRelay,
	}
}

func TestInitRelayComputesChunksAndDefaults(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	roomID := seedRoom(t, env.store, alice, true)

	transfer, err := env.svc.Init(context.Background(), alice, relayParams(roomID, 150))
	require.NoError(t, err)

	// 150 bytes em chunks de 64 dão 3 chunks, o último parcial
	assert.Equal(t, 3, transfer.TotalChunks)
	assert.Equal(t, models.StatusPending, transfer.Status)
	assert.Equal(t, DefaultMaxDownloads, transfer.MaxDownloads)
	assert.NotEmpty(t, transfer.StoragePath)

	// Sem pedido explícito vale a validade padrão do serviço
	require.NotNil(t, transfer.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), *transfer.ExpiresAt, 5*time.Second)

	// A área dos chunks já foi criada no armazenamento
	areas, err := env.chunks.ListAreas(context.Background())
	require.NoError(t, err)
	assert.Contains(t, areas, transfer.ID.String())
}

func TestInitExpiryZeroDisablesAndHoursApply(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	roomID := seedRoom(t, env.store, alice, true)

	// Zero desliga a validade de vez
	p := relayParams(roomID, 10)
	zero := 0
	p.ExpiresInHours = &zero
	transfer, err := env.svc.Init(context.Background(), alice, p)
	require.NoError(t, err)
	assert.Nil(t, transfer.ExpiresAt)

	// Valor positivo vale em horas
	p = relayParams(roomID, 10)
	two := 2
	p.ExpiresInHours = &two
	transfer, err = env.svc.Init(context.Background(), alice, p)
	require.NoError(t, err)
	require.NotNil(t, transfer.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(2*time.Hour), *transfer.ExpiresAt, 5*time.Second)
}

func TestInitRejectsRelayWhenRoomForbids(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	roomID := seedRoom(t, env.store, alice, false)

	_, err := env.svc.Init(context.Background(), alice, relayParams(roomID, 10))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// P2P continua liberado na mesma sala
	p := relayParams(roomID, 10)
	p.Mode = models.ModeP2P
	_, err = env.svc.Init(context.Background(), alice, p)
	assert.NoError(t, err)
}

func TestInitChecksRoomAndMembership(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	bob := seedUser(t, env.store, "Bob")

	// Sala inexistente
	_, err := env.svc.Init(context.Background(), alice, relayParams(uuid.New(), 10))
	assert.ErrorIs(t, err, ErrNotFound)

	// Membro de nada: bob criou a sala, alice ficou de fora
	roomID := seedRoom(t, env.store, bob, true)
	_, err = env.svc.Init(context.Background(), alice, relayParams(roomID, 10))
	assert.ErrorIs(t, err, ErrForbidden)

	// Sala vencida responde "gone" mesmo para quem é membro
	past := time.Now().UTC().Add(-time.Hour)
	expired := &models.Room{
		ID:         uuid.New(),
		Code:       "VENCIDA1",
		RoomType:   models.RoomTypeDirect,
		CreatedBy:  alice,
		IsActive:   true,
		AllowRelay: true,
		CreatedAt:  past,
		ExpiresAt:  &past,
	}
	require.NoError(t, env.store.CreateRoom(context.Background(), expired))
	seedMember(t, env.store, expired.ID, alice)
	_, err = env.svc.Init(context.Background(), alice, relayParams(expired.ID, 10))
	assert.ErrorIs(t, err, ErrGone)
}

func TestInitRejectsFileSizeOutOfBounds(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	roomID := seedRoom(t, env.store, alice, true)

	_, err := env.svc.Init(context.Background(), alice, relayParams(roomID, 0))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = env.svc.Init(context.Background(), alice, relayParams(roomID, testMaxFileSize+1))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUploadOutOfOrderBecomesReady(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	roomID := seedRoom(t, env.store, alice, true)

	transfer, err := env.svc.Init(context.Background(), alice, relayParams(roomID, 150))
	require.NoError(t, err)

	// A ordem de chegada não importa, só a cobertura dos índices
	updated, err := env.svc.UploadChunk(context.Background(), alice, transfer.ID, 2, bytes.Repeat([]byte{'c'}, 22))
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploading, updated.Status)
	assert.Equal(t, 1, updated.UploadedChunks)

	updated, err = env.svc.UploadChunk(context.Background(), alice, transfer.ID, 0, bytes.Repeat([]byte{'a'}, testChunkSize))
	require.NoError(t, err)
	assert.Equal(t, 2, updated.UploadedChunks)
	assert.Empty(t, env.notifier.events(t))

	updated, err = env.svc.UploadChunk(context.Background(), alice, transfer.ID, 1, bytes.Repeat([]byte{'b'}, testChunkSize))
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, updated.Status)
	assert.Equal(t, 3, updated.UploadedChunks)

	// O último chunk dispara o aviso para a sala
	events := env.notifier.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "new_transfer", events[0]["type"])
	assert.Equal(t, transfer.ID.String(), events[0]["transfer_id"])
	assert.Equal(t, "Alice", events[0]["sender_name"])
	assert.Equal(t, string(models.StatusReady), events[0]["status"])
}

func TestUploadDuplicateIndexDoesNotDoubleCount(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	roomID := seedRoom(t, env.store, alice, true)

	transfer, err := env.svc.Init(context.Background(), alice, relayParams(roomID, 150))
	require.NoError(t, err)

	first := bytes.Repeat([]byte{'a'}, testChunkSize)
	second := bytes.Repeat([]byte{'z'}, testChunkSize)

	updated, err := env.svc.UploadChunk(context.Background(), alice, transfer.ID, 0, first)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.UploadedChunks)

	// Reenvio do mesmo índice sobrescreve os bytes sem contar de novo
	updated, err = env.svc.UploadChunk(context.Background(), alice, transfer.ID, 0, second)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.UploadedChunks)
	assert.Equal(t, models.StatusUploading, updated.Status)

	stored, err := env.chunks.ReadChunk(context.Background(), transfer.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, second, stored)
	assert.Empty(t, env.notifier.events(t))
}

func TestUploadConcurrentSameIndexCountsOnce(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	roomID := seedRoom(t, env.store, alice, true)

	transfer, err := env.svc.Init(context.Background(), alice, relayParams(roomID, 150))
	require.NoError(t, err)

	// Reenvios concorrentes do mesmo índice disputam o lock da transferência;
	// o contador só pode subir uma vez
	data := bytes.Repeat([]byte{'z'}, testChunkSize)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.UploadChunk(context.Background(), alice, transfer.ID, 1, data)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := env.store.GetTransferByID(context.Background(), transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UploadedChunks)
	assert.Equal(t, models.StatusUploading, got.Status)
}

func TestUploadChunkGuards(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	bob := seedUser(t, env.store, "Bob")
	roomID := seedRoom(t, env.store, alice, true)
	seedMember(t, env.store, roomID, bob)

	transfer, err := env.svc.Init(context.Background(), alice, relayParams(roomID, 150))
	require.NoError(t, err)

	data := bytes.Repeat([]byte{'x'}, 10)

	// Só o remetente envia chunks, mesmo bob sendo membro da sala
	_, err = env.svc.UploadChunk(context.Background(), bob, transfer.ID, 0, data)
	assert.ErrorIs(t, err, ErrForbidden)

	// Transferência inexistente
	_, err = env.svc.UploadChunk(context.Background(), alice, uuid.New(), 0, data)
	assert.ErrorIs(t, err, ErrNotFound)

	// Índice fora da faixa
	_, err = env.svc.UploadChunk(context.Background(), alice, transfer.ID, -1, data)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = env.svc.UploadChunk(context.Background(), alice, transfer.ID, transfer.TotalChunks, data)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Chunk vazio ou estourando o tamanho nominal mais a folga do AEAD
	_, err = env.svc.UploadChunk(context.Background(), alice, transfer.ID, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = env.svc.UploadChunk(context.Background(), alice, transfer.ID, 0, bytes.Repeat([]byte{'x'}, testChunkSize+chunkOverhead+1))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Dentro da folga passa: o tag do AEAD empurra o chunk além do nominal
	_, err = env.svc.UploadChunk(context.Background(), alice, transfer.ID, 0, bytes.Repeat([]byte{'x'}, testChunkSize+16))
	assert.NoError(t, err)
}

func TestUploadRejectsP2PAndTerminalStates(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	roomID := seedRoom(t, env.store, alice, true)

	data := bytes.Repeat([]byte{'x'}, 10)

	// No modo P2P os bytes nunca passam pelo servidor
	p := relayParams(roomID, 10)
	p.Mode = models.ModeP2P
	p2p, err := env.svc.Init(context.Background(), alice, p)
	require.NoError(t, err)
	_, err = env.svc.UploadChunk(context.Background(), alice, p2p.ID, 0, data)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Transferência cancelada não volta a aceitar chunks
	relay, err := env.svc.Init(context.Background(), alice, relayParams(roomID, 10))
	require.NoError(t, err)
	require.NoError(t, env.svc.Cancel(context.Background(), alice, relay.ID))
	_, err = env.svc.UploadChunk(context.Background(), alice, relay.ID, 0, data)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDownloadReassemblesFileInOrder(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	bob := seedUser(t, env.store, "Bob")
	roomID := seedRoom(t, env.store, alice, true)
	seedMember(t, env.store, roomID, bob)

	transfer, err := env.svc.Init(context.Background(), alice, relayParams(roomID, 150))
	require.NoError(t, err)

	chunkA := bytes.Repeat([]byte{'a'}, testChunkSize)
	chunkB := bytes.Repeat([]byte{'b'}, testChunkSize)
	chunkC := bytes.Repeat([]byte{'c'}, 22)

	// Upload embaralhado de propósito; o download tem que sair na ordem
	for _, up := range []struct {
		index int
		data  []byte
	}{{1, chunkB}, {2, chunkC}, {0, chunkA}} {
		_, err := env.svc.UploadChunk(context.Background(), alice, transfer.ID, up.index, up.data)
		require.NoError(t, err)
	}

	data, nonce, err := env.svc.Download(context.Background(), bob, transfer.ID)
	require.NoError(t, err)

	want := append(append(append([]byte{}, chunkA...), chunkB...), chunkC...)
	assert.Equal(t, want, data)
	assert.Equal(t, "bm9uY2UtZGUtdGVzdGU=", nonce)

	got, err := env.svc.Get(context.Background(), bob, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DownloadCount)
	// Longe do limite padrão, continua disponível
	assert.Equal(t, models.StatusReady, got.Status)
}

func TestDownloadLimitCompletesTransfer(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	bob := seedUser(t, env.store, "Bob")
	roomID := seedRoom(t, env.store, alice, true)
	seedMember(t, env.store, roomID, bob)

	p := relayParams(roomID, 10)
	p.MaxDownloads = 1
	transfer, err := env.svc.Init(context.Background(), alice, p)
	require.NoError(t, err)

	_, err = env.svc.UploadChunk(context.Background(), alice, transfer.ID, 0, bytes.Repeat([]byte{'x'}, 10))
	require.NoError(t, err)

	// A única vaga é consumida aqui
	_, _, err = env.svc.Download(context.Background(), bob, transfer.ID)
	require.NoError(t, err)

	got, err := env.store.GetTransferByID(context.Background(), transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.DownloadCount)
	require.NotNil(t, got.CompletedAt)

	// A segunda tentativa chega tarde demais
	_, _, err = env.svc.Download(context.Background(), bob, transfer.ID)
	assert.ErrorIs(t, err, ErrGone)
}

func TestDownloadGuards(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	outsider := seedUser(t, env.store, "Mallory")
	roomID := seedRoom(t, env.store, alice, true)

	transfer, err := env.svc.Init(context.Background(), alice, relayParams(roomID, 10))
	require.NoError(t, err)
	_, err = env.svc.UploadChunk(context.Background(), alice, transfer.ID, 0, bytes.Repeat([]byte{'x'}, 10))
	require.NoError(t, err)

	// Quem não é membro não baixa nada
	_, _, err = env.svc.Download(context.Background(), outsider, transfer.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// Transferência ainda pendente não está pronta
	pending, err := env.svc.Init(context.Background(), alice, relayParams(roomID, 10))
	require.NoError(t, err)
	_, _, err = env.svc.Download(context.Background(), alice, pending.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	// Transferência vencida responde "gone" antes de qualquer leitura
	past := time.Now().UTC().Add(-time.Hour)
	expired := &models.FileTransfer{
		ID:             uuid.New(),
		RoomID:         roomID,
		SenderID:       alice,
		FileSize:       10,
		Mode:           models.ModeRelay,
		Status:         models.StatusReady,
		TotalChunks:    1,
		UploadedChunks: 1,
		CreatedAt:      past,
		ExpiresAt:      &past,
		MaxDownloads:   5,
	}
	require.NoError(t, env.store.CreateTransfer(context.Background(), expired))
	_, _, err = env.svc.Download(context.Background(), alice, expired.ID)
	assert.ErrorIs(t, err, ErrGone)
}

func TestCancelRemovesChunksAndClosesTransfer(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	bob := seedUser(t, env.store, "Bob")
	roomID := seedRoom(t, env.store, alice, true)
	seedMember(t, env.store, roomID, bob)

	transfer, err := env.svc.Init(context.Background(), alice, relayParams(roomID, 150))
	require.NoError(t, err)
	_, err = env.svc.UploadChunk(context.Background(), alice, transfer.ID, 0, bytes.Repeat([]byte{'a'}, testChunkSize))
	require.NoError(t, err)

	// Membro que não é o remetente não cancela
	err = env.svc.Cancel(context.Background(), bob, transfer.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, env.svc.Cancel(context.Background(), alice, transfer.ID))

	got, err := env.store.GetTransferByID(context.Background(), transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)

	// Os chunks sumiram do armazenamento junto
	has, err := env.chunks.HasChunk(context.Background(), transfer.ID, 0)
	require.NoError(t, err)
	assert.False(t, has)

	areas, err := env.chunks.ListAreas(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, areas, transfer.ID.String())
}

func TestGetRequiresMembership(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	outsider := seedUser(t, env.store, "Mallory")
	roomID := seedRoom(t, env.store, alice, true)

	transfer, err := env.svc.Init(context.Background(), alice, relayParams(roomID, 10))
	require.NoError(t, err)

	got, err := env.svc.Get(context.Background(), alice, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.ID, got.ID)

	_, err = env.svc.Get(context.Background(), outsider, transfer.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.Get(context.Background(), alice, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRoomNewestFirst(t *testing.T) {
	env := newTransferEnv(t)
	alice := seedUser(t, env.store, "Alice")
	outsider := seedUser(t, env.store, "Mallory")
	roomID := seedRoom(t, env.store, alice, true)

	// Criadas fora do serviço para controlar o relógio
	base := time.Now().UTC()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		transfer := &models.FileTransfer{
			ID:           uuid.New(),
			RoomID:       roomID,
			SenderID:     alice,
			FileSize:     10,
			Mode:         models.ModeP2P,
			Status:       models.StatusPending,
			TotalChunks:  1,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
			MaxDownloads: 1,
		}
		require.NoError(t, env.store.CreateTransfer(context.Background(), transfer))
		ids = append(ids, transfer.ID)
	}

	transfers, err := env.svc.ListRoom(context.Background(), alice, roomID)
	require.NoError(t, err)
	require.Len(t, transfers, 3)
	assert.Equal(t, ids[2], transfers[0].ID)
	assert.Equal(t, ids[1], transfers[1].ID)
	assert.Equal(t, ids[0], transfers[2].ID)

	_, err = env.svc.ListRoom(context.Background(), outsider, roomID)
	assert.ErrorIs(t, err, ErrForbidden)
}
