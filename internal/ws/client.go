package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Tempo máximo para escrever uma mensagem no peer
	writeWait = 10 * time.Second

	// Tempo máximo de espera pelo próximo pong do peer
	pongWait = 60 * time.Second

	// Intervalo entre pings; precisa ser menor que pongWait
	pingPeriod = (pongWait * 9) / 10

	// Tamanho máximo de um quadro vindo do peer (conteúdo de chat e
	// SDPs de sinalização cabem com folga)
	maxMessageSize = 64 * 1024

	// Capacidade do canal de saída de cada cliente
	sendBufferSize = 256
)

// Client representa uma conexão WebSocket de um usuário dentro de uma
// sala. Os dados do usuário são capturados no handshake e viajam junto
// para os eventos não precisarem voltar ao banco.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	roomID      uuid.UUID
	userID      uuid.UUID
	displayName string
	publicKey   string
	send        chan []byte
}

// NewClient cria um cliente para uma conexão já aceita
func NewClient(hub *Hub, conn *websocket.Conn, roomID, userID uuid.UUID, displayName, publicKey string) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		roomID:      roomID,
		userID:      userID,
		displayName: displayName,
		publicKey:   publicKey,
		send:        make(chan []byte, sendBufferSize),
	}
}

// Run inicia as goroutines de leitura e escrita do cliente
func (c *Client) Run() {
	go c.writePump()
	go c.readPump()
}

// trySend enfileira um evento sem bloquear. Devolve false quando o
// canal do cliente está cheio; o hub trata a falha como transporte
// morto e derruba a conexão, nunca fica preso em um cliente.
func (c *Client) trySend(payload []byte) bool {
	if payload == nil {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeTransport fecha a conexão subjacente, se houver
func (c *Client) closeTransport() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// handleFrame despacha um quadro recebido do cliente. Quadros de tipo
// desconhecido ou com campos obrigatórios faltando são descartados em
// silêncio; um cliente mal comportado não ganha resposta de erro.
func (c *Client) handleFrame(raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": c.userID,
			"room_id": c.roomID,
		}).Debug("Quadro WebSocket inválido descartado")
		return
	}

	switch frame.Type {
	case "chat":
		c.hub.handleChat(c, frame)
	case "signal":
		c.hub.handleSignal(c, frame)
	case "typing":
		c.hub.handleTyping(c, frame)
	case "transfer_update":
		c.hub.handleTransferUpdate(c, frame)
	case "ping":
		if !c.trySend(marshalEvent(pongEvent{Type: "pong"})) {
			c.hub.dropClient(c)
		}
	default:
		// descartado
	}
}

// readPump bombeia quadros da conexão para o hub. Roda em goroutine
// própria; a saída do loop dispara o desregistro do cliente.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithFields(logrus.Fields{
					"user_id": c.userID,
					"room_id": c.roomID,
				}).WithError(err).Warn("Erro de leitura no WebSocket")
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}
		c.handleFrame(raw)
	}
}

// writePump bombeia eventos do canal de saída para a conexão e mantém
// o keep-alive com pings periódicos. Roda em goroutine própria.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
