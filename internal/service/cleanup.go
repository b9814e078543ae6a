package service

import (
	"context"
	"fmt"
	"time"

	"cipherroom-backend/internal/models"
	"cipherroom-backend/internal/repository"
	"cipherroom-backend/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CleanupService varre periodicamente transferências e salas vencidas e
// também executa a purga de salas esvaziadas. Toda operação é idempotente:
// a varredura periódica e uma purga disparada por sala vazia podem correr
// ao mesmo tempo sobre os mesmos dados sem estrago.
type CleanupService struct {
	transferStore repository.TransferStore
	roomStore     repository.RoomStore
	chunks        storage.ChunkStore
	interval      time.Duration
	retention     time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleanupService cria o serviço de limpeza. retention é por quanto tempo
// os chunks de uma transferência concluída ficam disponíveis para re-download.
func NewCleanupService(
	transferStore repository.TransferStore,
	roomStore repository.RoomStore,
	chunks storage.ChunkStore,
	interval, retention time.Duration,
) *CleanupService {
	return &CleanupService{
		transferStore: transferStore,
		roomStore:     roomStore,
		chunks:        chunks,
		interval:      interval,
		retention:     retention,
	}
}

// Start dispara a varredura em segundo plano. A primeira roda já na subida
// para não esperar um intervalo inteiro com lixo acumulado de uma queda.
func (s *CleanupService) Start() {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop interrompe a varredura e espera a iteração em andamento terminar
func (s *CleanupService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *CleanupService) run(ctx context.Context) {
	defer close(s.done)

	s.RunSweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunSweep(ctx)
		}
	}
}

// RunSweep executa uma rodada completa de limpeza. Falha em um item é
// registrada e o item fica para a próxima rodada; a varredura nunca para
// no meio por causa de um erro isolado.
func (s *CleanupService) RunSweep(ctx context.Context) {
	s.sweepExpiredTransfers(ctx)
	s.sweepCompletedTransfers(ctx)
	s.sweepExpiredRooms(ctx)
	s.sweepOrphanedAreas(ctx)
}

// sweepExpiredTransfers marca como expiradas as transferências vencidas que
// ainda não chegaram a um estado final, apagando antes os chunks delas.
// A ordem importa: primeiro o armazenamento, depois o status — uma queda no
// meio deixa o status defasado, nunca bytes perdidos atrás de um terminal.
func (s *CleanupService) sweepExpiredTransfers(ctx context.Context) {
	now := time.Now().UTC()

	expired, err := s.transferStore.ListExpiredTransfers(ctx, now)
	if err != nil {
		logrus.WithError(err).Error("Falha ao listar transferências expiradas")
		return
	}

	for _, transfer := range expired {
		if transfer.Mode == models.ModeRelay {
			if err := s.chunks.DeleteTransfer(ctx, transfer.ID); err != nil {
				logrus.WithError(err).WithField("transfer_id", transfer.ID).
					Error("Falha ao apagar chunks de transferência expirada; fica para a próxima rodada")
				continue
			}
		}

		transfer.Status = models.StatusExpired
		if err := s.transferStore.UpdateTransfer(ctx, transfer); err != nil {
			logrus.WithError(err).WithField("transfer_id", transfer.ID).
				Error("Falha ao marcar transferência como expirada")
			continue
		}

		logrus.WithField("transfer_id", transfer.ID).Info("Transferência expirada removida")
	}
}

// sweepCompletedTransfers apaga os chunks de transferências concluídas há
// mais tempo que a retenção. Só o armazenamento some; o registro continua
// como histórico da sala.
func (s *CleanupService) sweepCompletedTransfers(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)

	completed, err := s.transferStore.ListCompletedBefore(ctx, cutoff)
	if err != nil {
		logrus.WithError(err).Error("Falha ao listar transferências concluídas antigas")
		return
	}

	for _, transfer := range completed {
		if transfer.Mode != models.ModeRelay {
			continue
		}
		if err := s.chunks.DeleteTransfer(ctx, transfer.ID); err != nil {
			logrus.WithError(err).WithField("transfer_id", transfer.ID).
				Error("Falha ao apagar chunks de transferência concluída")
		}
	}
}

// sweepExpiredRooms desativa salas vencidas; os dados delas só somem de
// fato quando a sala esvazia ou via expiração das próprias transferências
func (s *CleanupService) sweepExpiredRooms(ctx context.Context) {
	now := time.Now().UTC()

	rooms, err := s.roomStore.ListExpiredActiveRooms(ctx, now)
	if err != nil {
		logrus.WithError(err).Error("Falha ao listar salas expiradas")
		return
	}

	for _, room := range rooms {
		if err := s.roomStore.DeactivateRoom(ctx, room.ID); err != nil {
			logrus.WithError(err).WithField("room_id", room.ID).
				Error("Falha ao desativar sala expirada")
			continue
		}
		logrus.WithField("room_id", room.ID).Info("Sala expirada desativada")
	}
}

// sweepOrphanedAreas remove do armazenamento qualquer área que não
// corresponda a uma transferência conhecida (sobras de purgas interrompidas
// ou de registros removidos)
func (s *CleanupService) sweepOrphanedAreas(ctx context.Context) {
	ids, err := s.transferStore.ListTransferIDs(ctx)
	if err != nil {
		logrus.WithError(err).Error("Falha ao listar IDs de transferências")
		return
	}

	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id.String()] = struct{}{}
	}

	areas, err := s.chunks.ListAreas(ctx)
	if err != nil {
		logrus.WithError(err).Error("Falha ao listar áreas de armazenamento")
		return
	}

	for _, name := range areas {
		if _, ok := known[name]; ok {
			continue
		}
		if err := s.chunks.DeleteArea(ctx, name); err != nil {
			logrus.WithError(err).WithField("area", name).Error("Falha ao remover área órfã")
			continue
		}
		logrus.WithField("area", name).Info("Área órfã removida do armazenamento")
	}
}

// PurgeRoom apaga de vez os dados de uma sala que ficou vazia: chunks de
// todas as transferências e depois, de uma vez, transferências, mensagens e
// membros. É o único caminho que remove linhas de mensagem e de membro.
// Chunks que falharem ao apagar viram órfãos e caem na varredura periódica.
func (s *CleanupService) PurgeRoom(ctx context.Context, roomID uuid.UUID) error {
	transfers, err := s.transferStore.ListRoomTransfers(ctx, roomID)
	if err != nil {
		return fmt.Errorf("erro ao listar transferências da sala: %w", err)
	}

	for _, transfer := range transfers {
		if transfer.Mode != models.ModeRelay {
			continue
		}
		if err := s.chunks.DeleteTransfer(ctx, transfer.ID); err != nil {
			logrus.WithError(err).WithField("transfer_id", transfer.ID).
				Warn("Falha ao apagar chunks durante purga da sala")
		}
	}

	if err := s.roomStore.PurgeRoomData(ctx, roomID); err != nil {
		return fmt.Errorf("erro ao purgar dados da sala: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"room_id":   roomID,
		"transfers": len(transfers),
	}).Info("Sala vazia purgada")

	return nil
}
