package config

import "time"

type AppConfig struct {
	APIPort     string `env:"PORT,required" envDefault:"12222"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	// postgres or memory
	DraftStore string `env:"DRAFT_STORE" envDefault:"postgres"`
	// bytes, per uploaded attachment
	MaxAttachmentSize int64 `env:"MAX_ATTACHMENT_SIZE" envDefault:"26214400"`
}

type DatabaseConfig struct {
	Host            string `env:"DRAFTSYNC_POSTGRES_HOST"`
	Port            string `env:"DRAFTSYNC_POSTGRES_PORT" envDefault:"5432"`
	User            string `env:"DRAFTSYNC_POSTGRES_USER"`
	DBName          string `env:"DRAFTSYNC_POSTGRES_DB_NAME"`
	Password        string `env:"DRAFTSYNC_POSTGRES_PASSWORD"`
	MaxConn         int    `env:"DRAFTSYNC_POSTGRES_DB_MAX_CONN" envDefault:"25"`
	MaxIdleConn     int    `env:"DRAFTSYNC_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"DRAFTSYNC_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"DRAFTSYNC_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"DRAFTSYNC_POSTGRES_SSL_MODE" envDefault:"require"`
}

type R2StorageConfig struct {
	AccountID        string `env:"CLOUDFLARE_R2_ACCOUNT_ID"`
	AccessKeyID      string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	AccessKeySecret  string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET"`
	AttachmentBucket string `env:"BUCKET_NAME_DRAFT_ATTACHMENT" envDefault:"draft-attachments"`
	// used when no R2 account is configured
	LocalDir string `env:"ATTACHMENT_STORAGE_DIR" envDefault:"./data/attachments"`
}

type OutboxConfig struct {
	QueueDSN        string        `env:"OUTBOX_QUEUE_DSN" envDefault:"memory://"`
	Workers         int           `env:"OUTBOX_WORKERS" envDefault:"4"`
	MaxAttempts     int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"8"`
	BackoffMin      time.Duration `env:"OUTBOX_BACKOFF_MIN" envDefault:"2s"`
	BackoffMax      time.Duration `env:"OUTBOX_BACKOFF_MAX" envDefault:"5m"`
	DependencyDelay time.Duration `env:"OUTBOX_DEPENDENCY_DELAY" envDefault:"3s"`
	LeaseTimeout    time.Duration `env:"OUTBOX_LEASE_TIMEOUT" envDefault:"10m"`
	PollInterval    time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
}

type MailAPIConfig struct {
	URL     string        `env:"MAIL_API_URL"`
	Token   string        `env:"MAIL_API_TOKEN"`
	Timeout time.Duration `env:"MAIL_API_TIMEOUT" envDefault:"30s"`
	// code:SendingError pairs, comma separated
	SendingErrorCodes string `env:"MAIL_API_SENDING_ERROR_CODES" envDefault:"2500:MessageAlreadySent,2024:MessageSizeExceeded,2011:AttachmentTooLarge,2028:ExternalAddressSendDisabled"`
}

type CryptoConfig struct {
	EncryptionSecret string `env:"DRAFTSYNC_ENCRYPTION_SECRET"`
}
