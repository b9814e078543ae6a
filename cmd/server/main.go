package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cipherroom-backend/internal/api"
	"cipherroom-backend/internal/auth"
	"cipherroom-backend/internal/config"
	"cipherroom-backend/internal/repository"
	"cipherroom-backend/internal/service"
	"cipherroom-backend/internal/storage"
	"cipherroom-backend/internal/ws"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// 1. Carregar o arquivo .env ANTES da configuração
	if err := godotenv.Load(); err != nil {
		logrus.Warnf("Não foi possível carregar o arquivo .env: %v. (Usando variáveis de ambiente existentes)", err)
	}

	var cfg config.Config
	if err := config.Load(&cfg); err != nil {
		logrus.Fatalf("Falha ao carregar configuração: %v", err)
	}

	// 2. Configurar o logger global
	if cfg.Debug {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	// 3. Inicializar camada de repositório (PostgreSQL)
	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelInit()

	store, err := repository.NewPostgresStore(initCtx, cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("Falha ao conectar ao banco de dados: %v", err)
	}
	defer store.Close()
	logrus.Info("Conectado ao PostgreSQL!")

	// 4. Rodar migrations
	migrationSQL, err := os.ReadFile("./migrations/001_init.sql")
	if err != nil {
		logrus.Fatalf("Falha ao ler arquivo de migração: %v", err)
	}
	if err := store.RunMigrations(initCtx, string(migrationSQL)); err != nil {
		logrus.Warnf("Aviso ao rodar migrações: %v. (Continuando...)", err)
	} else {
		logrus.Info("Migrações do banco de dados aplicadas com sucesso.")
	}

	// 5. Armazenamento dos chunks cifrados (disco local ou S3)
	chunkStore, err := buildChunkStore(initCtx, &cfg)
	if err != nil {
		logrus.Fatalf("Falha ao iniciar armazenamento de chunks: %v", err)
	}
	logrus.Infof("Armazenamento de chunks: %s", cfg.StorageBackend)

	// 6. Inicializar camada de autenticação
	tokenService, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		logrus.Fatalf("Falha ao iniciar TokenService: %v", err)
	}

	// 7. Inicializar camada de serviço. O hub de WebSocket entra como
	// notificador de salas do serviço de transferências e aciona a purga
	// de salas vazias via serviço de limpeza.
	fileTTL := time.Duration(cfg.FileExpiryHours) * time.Hour

	userService := service.NewUserService(store, store, tokenService)
	roomService := service.NewRoomService(store)
	cleanupService := service.NewCleanupService(store, store, chunkStore, cfg.CleanupInterval, fileTTL)
	hub := ws.NewHub(store, store, cleanupService, cfg.RoomPurgeGrace)
	transferService := service.NewTransferService(
		store, store, store,
		chunkStore, hub,
		int64(cfg.ChunkSize), cfg.MaxFileSizeBytes(), fileTTL,
	)

	// 8. Usuário administrador inicial (só na primeira subida)
	if err := userService.EnsureAdmin(initCtx); err != nil {
		logrus.Fatalf("Falha ao garantir usuário administrador: %v", err)
	}

	// 9. Varredura de expiração em segundo plano
	cleanupService.Start()

	// 10. Inicializar camada de API
	handler := api.NewHandler(userService, roomService, transferService, tokenService, store, hub, &cfg)

	// 11. Configurar servidor HTTP. O WriteTimeout é folgado porque o
	// download devolve o arquivo remontado inteiro numa única resposta.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// 12. Iniciar servidor
	go func() {
		logrus.Infof("Servidor iniciado em http://localhost:%d/api", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Erro ao iniciar servidor: %v", err)
		}
	}()

	// Aguardar sinal de interrupção
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Recebido sinal de desligamento, encerrando servidor...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("Erro no graceful shutdown: %v", err)
	}

	// As conexões WebSocket são sequestradas do http.Server, então o
	// Shutdown acima não espera por elas; o hub as derruba na mão.
	hub.Shutdown()
	cleanupService.Stop()

	logrus.Info("Servidor encerrado.")
}

// buildChunkStore escolhe o backend de armazenamento dos chunks conforme
// a configuração: S3 para produção, disco local para desenvolvimento.
func buildChunkStore(ctx context.Context, cfg *config.Config) (storage.ChunkStore, error) {
	if cfg.StorageBackend == "s3" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("falha ao carregar configuração AWS: %w", err)
		}
		remote, err := storage.NewS3Store(s3.NewFromConfig(awsCfg), cfg.AWSBucketName)
		if err != nil {
			return nil, err
		}
		return remote, nil
	}
	local, err := storage.NewLocalStore(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	return local, nil
}
