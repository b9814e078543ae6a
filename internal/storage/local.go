package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore guarda os chunks no disco local, uma pasta por
// transferência, com os chunks numerados dentro dela
type LocalStore struct {
	baseDir string
}

// NewLocalStore cria um store local e garante que o diretório base existe
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("falha ao criar diretório de uploads '%s': %w", baseDir, err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) transferDir(transferID uuid.UUID) string {
	return filepath.Join(s.baseDir, transferID.String())
}

func (s *LocalStore) chunkPath(transferID uuid.UUID, index int) string {
	return filepath.Join(s.transferDir(transferID), fmt.Sprintf("chunk_%06d", index))
}

func (s *LocalStore) EnsureTransfer(ctx context.Context, transferID uuid.UUID) (string, error) {
	dir := s.transferDir(transferID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("falha ao criar área da transferência: %w", err)
	}
	return dir, nil
}

func (s *LocalStore) HasChunk(ctx context.Context, transferID uuid.UUID, index int) (bool, error) {
	_, err := os.Stat(s.chunkPath(transferID, index))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("falha ao verificar chunk %d: %w", index, err)
	}
	return true, nil
}

func (s *LocalStore) WriteChunk(ctx context.Context, transferID uuid.UUID, index int, data []byte) error {
	if _, err := s.EnsureTransfer(ctx, transferID); err != nil {
		return err
	}
	if err := os.WriteFile(s.chunkPath(transferID, index), data, 0o644); err != nil {
		return fmt.Errorf("falha ao gravar chunk %d: %w", index, err)
	}
	return nil
}

func (s *LocalStore) ReadChunk(ctx context.Context, transferID uuid.UUID, index int) ([]byte, error) {
	data, err := os.ReadFile(s.chunkPath(transferID, index))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("chunk %d: %w", index, ErrChunkNotFound)
		}
		return nil, fmt.Errorf("falha ao ler chunk %d: %w", index, err)
	}
	return data, nil
}

func (s *LocalStore) DeleteTransfer(ctx context.Context, transferID uuid.UUID) error {
	return s.DeleteArea(ctx, transferID.String())
}

func (s *LocalStore) ListAreas(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("falha ao listar diretório de uploads: %w", err)
	}

	areas := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			areas = append(areas, entry.Name())
		}
	}
	return areas, nil
}

func (s *LocalStore) DeleteArea(ctx context.Context, name string) error {
	// RemoveAll é idempotente: caminho inexistente não é erro
	if err := os.RemoveAll(filepath.Join(s.baseDir, name)); err != nil {
		return fmt.Errorf("falha ao remover área '%s': %w", name, err)
	}
	return nil
}
