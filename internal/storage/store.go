// Package storage guarda os chunks cifrados que passam pelo relay.
// O conteúdo é opaco para o servidor: os bytes chegam cifrados do
// cliente e saem cifrados para o destinatário.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrChunkNotFound indica que o chunk pedido não existe no backend
var ErrChunkNotFound = errors.New("chunk não encontrado")

// ChunkStore é a interface de armazenamento de chunks. Cada
// transferência ocupa uma área própria, identificada pelo ID da
// transferência; dentro dela os chunks são numerados.
type ChunkStore interface {
	// EnsureTransfer prepara a área de uma transferência e retorna o
	// localizador específico do backend (caminho em disco, prefixo S3)
	EnsureTransfer(ctx context.Context, transferID uuid.UUID) (string, error)

	// HasChunk informa se o chunk de índice dado já foi gravado
	HasChunk(ctx context.Context, transferID uuid.UUID, index int) (bool, error)

	// WriteChunk grava (ou regrava) um chunk cifrado
	WriteChunk(ctx context.Context, transferID uuid.UUID, index int, data []byte) error

	// ReadChunk lê um chunk cifrado; retorna ErrChunkNotFound se não existir
	ReadChunk(ctx context.Context, transferID uuid.UUID, index int) ([]byte, error)

	// DeleteTransfer remove a área inteira de uma transferência.
	// Idempotente: remover uma área inexistente não é erro.
	DeleteTransfer(ctx context.Context, transferID uuid.UUID) error

	// ListAreas lista os nomes das áreas existentes no backend
	ListAreas(ctx context.Context) ([]string, error)

	// DeleteArea remove uma área pelo nome cru (usado na coleta de órfãos)
	DeleteArea(ctx context.Context, name string) error
}
