package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// inboundFrame é o envelope de tudo que um cliente pode mandar pelo
// WebSocket. Os campos que não pertencem ao tipo recebido ficam zerados.
type inboundFrame struct {
	Type string `json:"type"`

	// chat
	EncryptedContent string `json:"encrypted_content,omitempty"`
	Nonce            string `json:"nonce,omitempty"`

	// signal (sinalização WebRTC: offer, answer, ice-candidate)
	TargetUser string          `json:"target_user,omitempty"`
	SignalType string          `json:"signal_type,omitempty"`
	SignalData json.RawMessage `json:"signal_data,omitempty"`

	// typing
	IsTyping bool `json:"is_typing,omitempty"`

	// transfer_update
	TransferID string          `json:"transfer_id,omitempty"`
	Status     string          `json:"status,omitempty"`
	Progress   json.RawMessage `json:"progress,omitempty"`
}

// Eventos enviados do servidor para os clientes. O conteúdo cifrado é
// repassado como chegou: o servidor não tem como (nem deve) abrir.

type onlineUsersEvent struct {
	Type  string      `json:"type"`
	Users []uuid.UUID `json:"users"`
}

type userJoinedEvent struct {
	Type        string    `json:"type"`
	UserID      uuid.UUID `json:"user_id"`
	PublicKey   string    `json:"public_key"`
	DisplayName string    `json:"display_name"`
	Timestamp   time.Time `json:"timestamp"`
}

type userLeftEvent struct {
	Type        string    `json:"type"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Timestamp   time.Time `json:"timestamp"`
}

type chatEvent struct {
	Type             string    `json:"type"`
	MessageID        uuid.UUID `json:"message_id"`
	SenderID         uuid.UUID `json:"sender_id"`
	SenderName       string    `json:"sender_name"`
	EncryptedContent string    `json:"encrypted_content"`
	Nonce            string    `json:"nonce"`
	Timestamp        time.Time `json:"timestamp"`
}

type signalEvent struct {
	Type       string          `json:"type"`
	FromUser   uuid.UUID       `json:"from_user"`
	SignalType string          `json:"signal_type"`
	SignalData json.RawMessage `json:"signal_data"`
}

type typingEvent struct {
	Type     string    `json:"type"`
	UserID   uuid.UUID `json:"user_id"`
	UserName string    `json:"user_name"`
	IsTyping bool      `json:"is_typing"`
}

type transferUpdateEvent struct {
	Type       string          `json:"type"`
	TransferID string          `json:"transfer_id"`
	UserID     uuid.UUID       `json:"user_id"`
	Status     string          `json:"status"`
	Progress   json.RawMessage `json:"progress"`
	Timestamp  time.Time       `json:"timestamp"`
}

type pongEvent struct {
	Type string `json:"type"`
}

// marshalEvent serializa um evento para envio. Falha de marshal aqui é
// bug de programação; loga e retorna nil (trySend ignora nil).
func marshalEvent(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		logrus.WithError(err).Error("Falha ao serializar evento WebSocket")
		return nil
	}
	return payload
}
