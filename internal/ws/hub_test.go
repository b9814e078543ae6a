package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"cipherroom-backend/internal/models"
	"cipherroom-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReaper struct {
	mu     sync.Mutex
	purged []uuid.UUID
}

func (f *fakeReaper) PurgeRoom(ctx context.Context, roomID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, roomID)
	return nil
}

func (f *fakeReaper) calls() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID{}, f.purged...)
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

// recvEvent lê o próximo evento do canal de saída do cliente
func recvEvent(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case payload := <-c.send:
		var ev map[string]any
		require.NoError(t, json.Unmarshal(payload, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("nenhum evento recebido no prazo")
		return nil
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("evento inesperado: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegisterBroadcastsUserJoined(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	seedMember(t, store, roomID, alice)
	seedMember(t, store, roomID, bob)

	clientA := NewClient(hub, nil, roomID, alice, "Alice", "chave-alice")
	hub.Register(clientA)

	// O primeiro a entrar recebe só a própria lista
	ev := recvEvent(t, clientA)
	assert.Equal(t, "online_users", ev["type"])
	assert.ElementsMatch(t, []any{alice.String()}, ev["users"])

	clientB := NewClient(hub, nil, roomID, bob, "Bob", "chave-bob")
	hub.Register(clientB)

	// Alice vê Bob entrar, com chave pública e nome
	ev = recvEvent(t, clientA)
	assert.Equal(t, "user_joined", ev["type"])
	assert.Equal(t, bob.String(), ev["user_id"])
	assert.Equal(t, "chave-bob", ev["public_key"])
	assert.Equal(t, "Bob", ev["display_name"])

	// Bob recebe a lista com os dois; o próprio user_joined não volta para ele
	ev = recvEvent(t, clientB)
	assert.Equal(t, "online_users", ev["type"])
	assert.ElementsMatch(t, []any{alice.String(), bob.String()}, ev["users"])
	assertNoEvent(t, clientB)
}

func TestRegisterMarksMemberOnline(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	alice := uuid.New()
	seedMember(t, store, roomID, alice)

	client := NewClient(hub, nil, roomID, alice, "Alice", "chave-alice")
	hub.Register(client)

	member, err := store.GetMember(context.Background(), roomID, alice)
	require.NoError(t, err)
	assert.True(t, member.IsOnline)

	hub.Unregister(client)

	member, err = store.GetMember(context.Background(), roomID, alice)
	require.NoError(t, err)
	assert.False(t, member.IsOnline)
}

func TestOnlineUsersTracksConnectsAndDisconnects(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	seedMember(t, store, roomID, alice)
	seedMember(t, store, roomID, bob)

	clientA := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	clientB := NewClient(hub, nil, roomID, bob, "Bob", "kb")

	assert.Empty(t, hub.OnlineUsers(roomID))

	hub.Register(clientA)
	hub.Register(clientB)
	assert.ElementsMatch(t, []uuid.UUID{alice, bob}, hub.OnlineUsers(roomID))

	hub.Unregister(clientA)
	assert.ElementsMatch(t, []uuid.UUID{bob}, hub.OnlineUsers(roomID))

	hub.Unregister(clientB)
	assert.Empty(t, hub.OnlineUsers(roomID))
}

func TestReconnectSupersedesOldConnection(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	alice := uuid.New()
	seedMember(t, store, roomID, alice)

	first := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	second := NewClient(hub, nil, roomID, alice, "Alice", "ka")

	hub.Register(first)
	hub.Register(second)

	// A conexão velha saiu do mapa: eventos só chegam na nova
	recvEvent(t, first)  // online_users do primeiro registro
	recvEvent(t, first)  // user_joined da reconexão
	recvEvent(t, second) // online_users do segundo registro

	hub.BroadcastToRoom(roomID, []byte(`{"type":"typing"}`))
	recvEvent(t, second)
	assertNoEvent(t, first)

	// A queda da conexão velha não pode derrubar a nova
	hub.Unregister(first)
	assert.ElementsMatch(t, []uuid.UUID{alice}, hub.OnlineUsers(roomID))

	member, err := store.GetMember(context.Background(), roomID, alice)
	require.NoError(t, err)
	assert.True(t, member.IsOnline)
}

func TestUnregisterBroadcastsUserLeft(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	seedMember(t, store, roomID, alice)
	seedMember(t, store, roomID, bob)

	clientA := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	clientB := NewClient(hub, nil, roomID, bob, "Bob", "kb")
	hub.Register(clientA)
	hub.Register(clientB)
	recvEvent(t, clientA) // online_users
	recvEvent(t, clientA) // user_joined de Bob
	recvEvent(t, clientB) // online_users

	hub.Unregister(clientA)

	ev := recvEvent(t, clientB)
	assert.Equal(t, "user_left", ev["type"])
	assert.Equal(t, alice.String(), ev["user_id"])
	assert.Equal(t, "Alice", ev["display_name"])
}

func TestBroadcastExcludesSender(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	clients := make([]*Client, 3)
	for i := range clients {
		userID := uuid.New()
		seedMember(t, store, roomID, userID)
		clients[i] = NewClient(hub, nil, roomID, userID, fmt.Sprintf("Usuário %d", i), "k")
		hub.Register(clients[i])
	}
	for _, c := range clients {
		for len(c.send) > 0 {
			<-c.send
		}
	}

	hub.handleTyping(clients[0], inboundFrame{Type: "typing", IsTyping: true})

	// N-1 transportes recebem; o remetente não
	assertNoEvent(t, clients[0])
	for _, c := range clients[1:] {
		ev := recvEvent(t, c)
		assert.Equal(t, "typing", ev["type"])
		assert.Equal(t, true, ev["is_typing"])
	}
}

func TestChatPersistsAndBroadcasts(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	seedMember(t, store, roomID, alice)
	seedMember(t, store, roomID, bob)

	clientA := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	clientB := NewClient(hub, nil, roomID, bob, "Bob", "kb")
	hub.Register(clientA)
	hub.Register(clientB)
	recvEvent(t, clientA)
	recvEvent(t, clientA)
	recvEvent(t, clientB)

	clientA.handleFrame([]byte(`{"type":"chat","encrypted_content":"texto-cifrado","nonce":"n1"}`))

	// Persistida com os blobs intactos
	messages, err := store.ListRoomMessages(context.Background(), roomID, 50)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "texto-cifrado", messages[0].EncryptedContent)
	assert.Equal(t, "n1", messages[0].Nonce)
	assert.Equal(t, alice, messages[0].SenderID)

	// Só o Bob recebe; a Alice já tem a cópia local otimista
	ev := recvEvent(t, clientB)
	assert.Equal(t, "chat", ev["type"])
	assert.Equal(t, alice.String(), ev["sender_id"])
	assert.Equal(t, "Alice", ev["sender_name"])
	assert.Equal(t, "texto-cifrado", ev["encrypted_content"])
	assert.Equal(t, "n1", ev["nonce"])
	assertNoEvent(t, clientA)
}

func TestChatWithoutNonceIsDropped(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	seedMember(t, store, roomID, alice)
	seedMember(t, store, roomID, bob)

	clientA := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	clientB := NewClient(hub, nil, roomID, bob, "Bob", "kb")
	hub.Register(clientA)
	hub.Register(clientB)
	recvEvent(t, clientB)

	clientA.handleFrame([]byte(`{"type":"chat","encrypted_content":"sem-nonce"}`))

	messages, err := store.ListRoomMessages(context.Background(), roomID, 50)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assertNoEvent(t, clientB)
}

func TestSignalForwardedToTargetOnly(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	carol := uuid.New()
	for _, id := range []uuid.UUID{alice, bob, carol} {
		seedMember(t, store, roomID, id)
	}

	clientA := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	clientB := NewClient(hub, nil, roomID, bob, "Bob", "kb")
	clientC := NewClient(hub, nil, roomID, carol, "Carol", "kc")
	hub.Register(clientA)
	hub.Register(clientB)
	hub.Register(clientC)
	for _, c := range []*Client{clientA, clientB, clientC} {
		for len(c.send) > 0 {
			<-c.send
		}
	}

	frame := fmt.Sprintf(`{"type":"signal","target_user":"%s","signal_type":"offer","signal_data":{"sdp":"v=0"}}`, bob)
	clientA.handleFrame([]byte(frame))

	ev := recvEvent(t, clientB)
	assert.Equal(t, "signal", ev["type"])
	assert.Equal(t, alice.String(), ev["from_user"])
	assert.Equal(t, "offer", ev["signal_type"])
	assert.Equal(t, map[string]any{"sdp": "v=0"}, ev["signal_data"])

	assertNoEvent(t, clientA)
	assertNoEvent(t, clientC)
}

func TestSignalToOfflineUserIsNoOp(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	alice := uuid.New()
	seedMember(t, store, roomID, alice)

	clientA := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	hub.Register(clientA)
	recvEvent(t, clientA)

	frame := fmt.Sprintf(`{"type":"signal","target_user":"%s","signal_type":"offer","signal_data":{}}`, uuid.New())
	clientA.handleFrame([]byte(frame))
	assertNoEvent(t, clientA)
}

func TestTransferUpdateReachesWholeRoom(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	seedMember(t, store, roomID, alice)
	seedMember(t, store, roomID, bob)

	clientA := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	clientB := NewClient(hub, nil, roomID, bob, "Bob", "kb")
	hub.Register(clientA)
	hub.Register(clientB)
	for _, c := range []*Client{clientA, clientB} {
		for len(c.send) > 0 {
			<-c.send
		}
	}

	clientA.handleFrame([]byte(`{"type":"transfer_update","transfer_id":"t1","status":"uploading","progress":42}`))

	// Dica de progresso vai para a sala inteira, remetente incluído
	for _, c := range []*Client{clientA, clientB} {
		ev := recvEvent(t, c)
		assert.Equal(t, "transfer_update", ev["type"])
		assert.Equal(t, "t1", ev["transfer_id"])
		assert.Equal(t, alice.String(), ev["user_id"])
		assert.Equal(t, "uploading", ev["status"])
		assert.Equal(t, float64(42), ev["progress"])
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	alice := uuid.New()
	seedMember(t, store, roomID, alice)

	client := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	hub.Register(client)
	recvEvent(t, client)

	client.handleFrame([]byte(`{"type":"ping"}`))

	ev := recvEvent(t, client)
	assert.Equal(t, "pong", ev["type"])
}

func TestUnknownAndMalformedFramesAreDropped(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	alice := uuid.New()
	seedMember(t, store, roomID, alice)

	client := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	hub.Register(client)
	recvEvent(t, client)

	client.handleFrame([]byte(`isto não é JSON`))
	client.handleFrame([]byte(`{"type":"alienígena"}`))
	assertNoEvent(t, client)
}

func TestEmptyRoomPurgedAfterGrace(t *testing.T) {
	store := repository.NewInMemoryStore()
	reaper := &fakeReaper{}
	hub := NewHub(store, store, reaper, 50*time.Millisecond)

	roomID := uuid.New()
	alice := uuid.New()
	seedMember(t, store, roomID, alice)

	client := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	hub.Register(client)
	hub.Unregister(client)

	assert.Eventually(t, func() bool {
		calls := reaper.calls()
		return len(calls) == 1 && calls[0] == roomID
	}, time.Second, 10*time.Millisecond)

	// A sala saiu do registro de presença
	hub.mu.Lock()
	_, exists := hub.rooms[roomID]
	hub.mu.Unlock()
	assert.False(t, exists)
}

func TestReconnectWithinGraceCancelsPurge(t *testing.T) {
	store := repository.NewInMemoryStore()
	reaper := &fakeReaper{}
	hub := NewHub(store, store, reaper, 100*time.Millisecond)

	roomID := uuid.New()
	alice := uuid.New()
	seedMember(t, store, roomID, alice)

	first := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	hub.Register(first)
	hub.Unregister(first)

	// Reconexão antes da carência vencer
	time.Sleep(30 * time.Millisecond)
	second := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	hub.Register(second)

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, reaper.calls())
	assert.ElementsMatch(t, []uuid.UUID{alice}, hub.OnlineUsers(roomID))
}

func TestChurnedRoomPurgedOnlyOnce(t *testing.T) {
	store := repository.NewInMemoryStore()
	reaper := &fakeReaper{}
	hub := NewHub(store, store, reaper, 40*time.Millisecond)

	roomID := uuid.New()
	alice := uuid.New()
	seedMember(t, store, roomID, alice)

	// Entra e sai duas vezes; só a última saída pode purgar
	for i := 0; i < 2; i++ {
		client := NewClient(hub, nil, roomID, alice, "Alice", "ka")
		hub.Register(client)
		time.Sleep(10 * time.Millisecond)
		hub.Unregister(client)
	}

	assert.Eventually(t, func() bool {
		return len(reaper.calls()) == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Len(t, reaper.calls(), 1)
}

func TestSlowConsumerDroppedLikeDisconnect(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	seedMember(t, store, roomID, alice)
	seedMember(t, store, roomID, bob)

	clientA := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	clientB := NewClient(hub, nil, roomID, bob, "Bob", "kb")
	hub.Register(clientA)
	hub.Register(clientB)
	recvEvent(t, clientA) // online_users
	recvEvent(t, clientA) // user_joined de Bob
	recvEvent(t, clientB) // online_users

	// Entope o canal do Bob até a capacidade
	for len(clientB.send) < cap(clientB.send) {
		clientB.send <- []byte(`{}`)
	}

	// O próximo broadcast não entrega e derruba o Bob como se tivesse caído
	hub.handleTyping(clientA, inboundFrame{Type: "typing", IsTyping: true})

	assert.ElementsMatch(t, []uuid.UUID{alice}, hub.OnlineUsers(roomID))

	member, err := store.GetMember(context.Background(), roomID, bob)
	require.NoError(t, err)
	assert.False(t, member.IsOnline)

	// A Alice fica sabendo pelo user_left de sempre
	ev := recvEvent(t, clientA)
	assert.Equal(t, "user_left", ev["type"])
	assert.Equal(t, bob.String(), ev["user_id"])
}

func TestSignalToFullTargetDropsTarget(t *testing.T) {
	store := repository.NewInMemoryStore()
	hub := NewHub(store, store, nil, time.Minute)

	roomID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	seedMember(t, store, roomID, alice)
	seedMember(t, store, roomID, bob)

	clientA := NewClient(hub, nil, roomID, alice, "Alice", "ka")
	clientB := NewClient(hub, nil, roomID, bob, "Bob", "kb")
	hub.Register(clientA)
	hub.Register(clientB)
	recvEvent(t, clientA)
	recvEvent(t, clientA)
	recvEvent(t, clientB)

	for len(clientB.send) < cap(clientB.send) {
		clientB.send <- []byte(`{}`)
	}

	// Nenhum erro volta para o remetente; o alvo sai do registro e a
	// notícia chega como o user_left de sempre
	frame := fmt.Sprintf(`{"type":"signal","target_user":"%s","signal_type":"offer","signal_data":{}}`, bob)
	clientA.handleFrame([]byte(frame))

	assert.ElementsMatch(t, []uuid.UUID{alice}, hub.OnlineUsers(roomID))

	ev := recvEvent(t, clientA)
	assert.Equal(t, "user_left", ev["type"])
	assert.Equal(t, bob.String(), ev["user_id"])
	assertNoEvent(t, clientA)
}
