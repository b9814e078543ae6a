// Package ws mantém o registro de presença das salas: quem está
// conectado, fan-out de eventos e o repasse 1:1 de sinalização WebRTC.
// O estado aqui é efêmero e local ao processo; cai o servidor, todo
// mundo reconecta e o registro se reconstrói do zero.
package ws

import (
	"context"
	"sync"
	"time"

	"cipherroom-backend/internal/models"
	"cipherroom-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Reaper é o caminho de purga acionado quando uma sala fica vazia por
// mais tempo que o período de carência
type Reaper interface {
	PurgeRoom(ctx context.Context, roomID uuid.UUID) error
}

// roomState agrupa os clientes vivos de uma sala. O epoch cresce a
// cada conexão; o timer de purga guarda o epoch do agendamento e só
// purga se nada mudou desde então.
type roomState struct {
	clients    map[uuid.UUID]*Client
	epoch      uint64
	purgeTimer *time.Timer
}

// Hub é o registro de presença. Toda mutação do mapa de salas passa
// pelo mutex; enviar para os clientes acontece fora dele.
type Hub struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*roomState

	roomStore    repository.RoomStore
	messageStore repository.MessageStore
	reaper       Reaper
	grace        time.Duration
}

// NewHub cria o hub de presença. O reaper pode ser nil em testes; sem
// ele a sala vazia só some do registro, sem purga de dados.
func NewHub(roomStore repository.RoomStore, messageStore repository.MessageStore, reaper Reaper, grace time.Duration) *Hub {
	return &Hub{
		rooms:        make(map[uuid.UUID]*roomState),
		roomStore:    roomStore,
		messageStore: messageStore,
		reaper:       reaper,
		grace:        grace,
	}
}

// Register põe o cliente no registro da sala. Uma conexão anterior do
// mesmo usuário é substituída (last-writer-wins): sai do mapa e para de
// receber eventos, mas ninguém fecha a conexão dela — os pumps morrem
// sozinhos quando o transporte cair. Depois do registro, os demais
// recebem user_joined e o recém-chegado recebe a lista online_users.
func (h *Hub) Register(c *Client) {
	now := time.Now().UTC()

	h.mu.Lock()
	rs, ok := h.rooms[c.roomID]
	if !ok {
		rs = &roomState{clients: make(map[uuid.UUID]*Client)}
		h.rooms[c.roomID] = rs
	}

	if _, superseded := rs.clients[c.userID]; superseded {
		logrus.WithFields(logrus.Fields{
			"user_id": c.userID,
			"room_id": c.roomID,
		}).Info("Conexão anterior substituída por reconexão")
	}
	rs.clients[c.userID] = c
	rs.epoch++

	// Reconexão dentro da carência cancela a purga agendada
	if rs.purgeTimer != nil {
		rs.purgeTimer.Stop()
		rs.purgeTimer = nil
	}

	online := make([]uuid.UUID, 0, len(rs.clients))
	recipients := make([]*Client, 0, len(rs.clients))
	for id, other := range rs.clients {
		online = append(online, id)
		if id != c.userID {
			recipients = append(recipients, other)
		}
	}
	h.mu.Unlock()

	if err := h.roomStore.SetMemberPresence(context.Background(), c.roomID, c.userID, true, now); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id": c.userID,
			"room_id": c.roomID,
		}).Warn("Falha ao marcar membro como online")
	}

	joined := marshalEvent(userJoinedEvent{
		Type:        "user_joined",
		UserID:      c.userID,
		PublicKey:   c.publicKey,
		DisplayName: c.displayName,
		Timestamp:   now,
	})
	for _, r := range recipients {
		if !r.trySend(joined) {
			h.dropClient(r)
		}
	}

	// O canal do recém-registrado está vazio; esse envio não falha
	c.trySend(marshalEvent(onlineUsersEvent{
		Type:  "online_users",
		Users: online,
	}))
}

// Unregister tira o cliente do registro. Se uma reconexão já o
// substituiu, é no-op: a saída da conexão velha não pode derrubar a
// nova. Quando a sala fica sem ninguém, a purga é agendada para depois
// da carência em vez de rodar na hora — um reload de página não pode
// apagar os dados da sala.
func (h *Hub) Unregister(c *Client) {
	now := time.Now().UTC()

	h.mu.Lock()
	rs, ok := h.rooms[c.roomID]
	if !ok || rs.clients[c.userID] != c {
		h.mu.Unlock()
		return
	}
	delete(rs.clients, c.userID)

	recipients := make([]*Client, 0, len(rs.clients))
	for _, other := range rs.clients {
		recipients = append(recipients, other)
	}
	if len(rs.clients) == 0 {
		h.scheduleRoomPurgeLocked(c.roomID, rs)
	}
	h.mu.Unlock()

	if err := h.roomStore.SetMemberPresence(context.Background(), c.roomID, c.userID, false, now); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id": c.userID,
			"room_id": c.roomID,
		}).Warn("Falha ao marcar membro como offline")
	}

	left := marshalEvent(userLeftEvent{
		Type:        "user_left",
		UserID:      c.userID,
		DisplayName: c.displayName,
		Timestamp:   now,
	})
	for _, r := range recipients {
		if !r.trySend(left) {
			h.dropClient(r)
		}
	}
}

// scheduleRoomPurgeLocked agenda a purga de uma sala vazia. Chamado com
// h.mu travado. O epoch capturado aqui protege contra um timer antigo
// que ainda não disparou: se alguém entrou e saiu no meio tempo, o
// epoch mudou e o timer velho desiste.
func (h *Hub) scheduleRoomPurgeLocked(roomID uuid.UUID, rs *roomState) {
	epoch := rs.epoch
	if rs.purgeTimer != nil {
		rs.purgeTimer.Stop()
	}
	rs.purgeTimer = time.AfterFunc(h.grace, func() {
		h.purgeIfStillEmpty(roomID, epoch)
	})

	logrus.WithField("room_id", roomID).Info("Sala vazia, purga agendada")
}

func (h *Hub) purgeIfStillEmpty(roomID uuid.UUID, epoch uint64) {
	h.mu.Lock()
	rs, ok := h.rooms[roomID]
	if !ok || len(rs.clients) > 0 || rs.epoch != epoch {
		h.mu.Unlock()
		return
	}
	delete(h.rooms, roomID)
	h.mu.Unlock()

	if h.reaper == nil {
		return
	}
	if err := h.reaper.PurgeRoom(context.Background(), roomID); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Falha ao purgar sala vazia")
	}
}

// BroadcastToRoom entrega um payload já serializado a todos os clientes
// registrados na sala. Usado pelos serviços (ex.: evento new_transfer).
func (h *Hub) BroadcastToRoom(roomID uuid.UUID, payload []byte) {
	h.broadcast(roomID, payload, uuid.Nil)
}

// OnlineUsers retorna um instantâneo dos usuários conectados na sala.
// Pode estar defasado no momento em que o chamador usar.
func (h *Hub) OnlineUsers(roomID uuid.UUID) []uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[roomID]
	if !ok {
		return []uuid.UUID{}
	}
	users := make([]uuid.UUID, 0, len(rs.clients))
	for id := range rs.clients {
		users = append(users, id)
	}
	return users
}

// broadcast entrega o payload a todos os clientes da sala, exceto
// exclude (uuid.Nil = ninguém excluído). O snapshot de destinatários é
// tirado sob o lock; o envio acontece fora dele.
func (h *Hub) broadcast(roomID uuid.UUID, payload []byte, exclude uuid.UUID) {
	h.mu.Lock()
	rs, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	recipients := make([]*Client, 0, len(rs.clients))
	for id, c := range rs.clients {
		if id == exclude {
			continue
		}
		recipients = append(recipients, c)
	}
	h.mu.Unlock()

	for _, c := range recipients {
		if !c.trySend(payload) {
			h.dropClient(c)
		}
	}
}

// sendToUser entrega o payload a um único usuário, se estiver
// conectado. Destinatário offline é no-op proposital: sinalização é
// melhor-esforço e o remetente não fica sabendo.
func (h *Hub) sendToUser(roomID, userID uuid.UUID, payload []byte) {
	h.mu.Lock()
	var target *Client
	if rs, ok := h.rooms[roomID]; ok {
		target = rs.clients[userID]
	}
	h.mu.Unlock()

	if target != nil && !target.trySend(payload) {
		h.dropClient(target)
	}
}

// dropClient derruba um cliente cujo canal de saída não aceita mais
// eventos: consumidor travado é indistinguível de transporte morto. A
// queda segue o mesmo caminho de uma desconexão normal; se uma
// reconexão já substituiu o cliente, o Unregister vira no-op.
func (h *Hub) dropClient(c *Client) {
	logrus.WithFields(logrus.Fields{
		"user_id": c.userID,
		"room_id": c.roomID,
	}).Warn("Canal de envio cheio, conexão derrubada")
	c.closeTransport()
	h.Unregister(c)
}

// --- Despacho de quadros recebidos (roteamento de sinais) ---

// handleChat persiste a mensagem cifrada e repassa aos demais membros.
// O remetente não recebe de volta: o cliente dele já mostrou a cópia
// local otimista.
func (h *Hub) handleChat(c *Client, frame inboundFrame) {
	if frame.EncryptedContent == "" || frame.Nonce == "" {
		return
	}

	message := &models.Message{
		ID:               uuid.New(),
		RoomID:           c.roomID,
		SenderID:         c.userID,
		EncryptedContent: frame.EncryptedContent,
		Nonce:            frame.Nonce,
		CreatedAt:        time.Now().UTC(),
	}
	if err := h.messageStore.CreateMessage(context.Background(), message); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id": c.userID,
			"room_id": c.roomID,
		}).Error("Falha ao persistir mensagem de chat")
		return
	}

	h.broadcast(c.roomID, marshalEvent(chatEvent{
		Type:             "chat",
		MessageID:        message.ID,
		SenderID:         c.userID,
		SenderName:       c.displayName,
		EncryptedContent: frame.EncryptedContent,
		Nonce:            frame.Nonce,
		Timestamp:        message.CreatedAt,
	}), c.userID)
}

// handleSignal repassa um quadro de sinalização WebRTC (offer, answer,
// ice-candidate) direto ao destinatário. Nunca é persistido.
func (h *Hub) handleSignal(c *Client, frame inboundFrame) {
	if frame.TargetUser == "" || frame.SignalType == "" || len(frame.SignalData) == 0 {
		return
	}
	target, err := uuid.Parse(frame.TargetUser)
	if err != nil {
		return
	}

	h.sendToUser(c.roomID, target, marshalEvent(signalEvent{
		Type:       "signal",
		FromUser:   c.userID,
		SignalType: frame.SignalType,
		SignalData: frame.SignalData,
	}))
}

func (h *Hub) handleTyping(c *Client, frame inboundFrame) {
	h.broadcast(c.roomID, marshalEvent(typingEvent{
		Type:     "typing",
		UserID:   c.userID,
		UserName: c.displayName,
		IsTyping: frame.IsTyping,
	}), c.userID)
}

// handleTransferUpdate repassa um aviso de progresso para a sala
// inteira, remetente incluído. É só dica de UI: quem manda a verdade
// sobre o estado da transferência é o serviço de transferências.
func (h *Hub) handleTransferUpdate(c *Client, frame inboundFrame) {
	h.broadcast(c.roomID, marshalEvent(transferUpdateEvent{
		Type:       "transfer_update",
		TransferID: frame.TransferID,
		UserID:     c.userID,
		Status:     frame.Status,
		Progress:   frame.Progress,
		Timestamp:  time.Now().UTC(),
	}), uuid.Nil)
}

// Shutdown derruba todas as conexões e cancela purgas pendentes.
// Nenhuma purga roda aqui: desligamento de servidor não é sala vazia.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := []*Client{}
	for _, rs := range h.rooms {
		if rs.purgeTimer != nil {
			rs.purgeTimer.Stop()
		}
		for _, c := range rs.clients {
			clients = append(clients, c)
		}
	}
	h.rooms = make(map[uuid.UUID]*roomState)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeTransport()
	}
}
