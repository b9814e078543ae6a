package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config armazena a configuração da aplicação
type Config struct {
	ServerPort  int    `envconfig:"SERVER_PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	JWTSecret   string `envconfig:"JWT_SECRET" required:"true"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// Armazenamento de chunks cifrados
	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"local"` // local | s3
	UploadDir      string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	AWSBucketName  string `envconfig:"AWS_BUCKET_NAME"`
	AWSRegion      string `envconfig:"AWS_REGION"`

	// Transferências
	MaxFileSizeMB int `envconfig:"MAX_FILE_SIZE_MB" default:"1024"`
	ChunkSize     int `envconfig:"CHUNK_SIZE" default:"65536"`

	// Limpeza e expiração
	FileExpiryHours int           `envconfig:"FILE_EXPIRY_HOURS" default:"24"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	RoomPurgeGrace  time.Duration `envconfig:"ROOM_PURGE_GRACE" default:"60s"`

	// Rate limit por IP (janela deslizante)
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"300"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`

	// CORS
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`
}

// Load carrega a configuração das variáveis de ambiente
func Load(cfg *Config) error {
	return envconfig.Process("", cfg)
}

// MaxFileSizeBytes retorna o tamanho máximo de arquivo em bytes
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}
