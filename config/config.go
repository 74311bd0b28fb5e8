package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	MailTransportSMTP  = "smtp"
	MailTransportQueue = "queue"

	MQBackendRabbitMQ = "rabbitmq"
	MQBackendPubSub   = "pubsub"

	StorageBackendMinio = "minio"
	StorageBackendGCS   = "gcs"
)

// Config is loaded once at startup and passed explicitly to every component
// that needs it. Nothing reads the environment after LoadConfig returns.
type Config struct {
	Env          string
	ServerPort   int
	ClientOrigin string
	Log          LogConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Auth         AuthConfig
	OTP          OTPConfig
	Policy       PolicyConfig
	Mail         MailConfig
	MQ           MQConfig
	Storage      StorageConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool

	MongoURI string
	MongoDB  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type AuthConfig struct {
	AccessSecret      string
	RefreshSecret     string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	RefreshCookieName string
	RefreshCookiePath string
	CookieSecure      bool
	BcryptCost        int
	LoginMaxAttempts  int
	LoginCooldown     time.Duration
}

type OTPConfig struct {
	TTL time.Duration
	// VerifyCode makes activation and password reset compare the submitted
	// code against the stored hash. When false only the user id is checked.
	VerifyCode bool
	// MaxAttempts wrong codes invalidate a challenge.
	MaxAttempts int
	MaxSends    int
	SendWindow  time.Duration
	// MaxConfirms bounds code submissions per (user, task) per SendWindow,
	// across resends.
	MaxConfirms int
}

type PolicyConfig struct {
	PasswordMinLength int
	PhonePattern      string
}

type MailConfig struct {
	Transport string
	Channel   string
	SMTP      SMTPConfig
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type MQConfig struct {
	Backend  string
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

type StorageConfig struct {
	Backend       string
	PublicBaseURL string
	Minio         MinioConfig
	GCS           GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Driver:   strings.ToLower(getEnv("DB_DRIVER", DriverMongo)),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "taskhub"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "taskhub_db"),
		UseSSL:   getEnvBool("DB_SSL", false),
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  getEnv("MONGO_DB", "taskhub"),
	}

	authConfig := AuthConfig{
		AccessSecret:      strings.TrimSpace(os.Getenv("ACCESS_TOKEN_SECRET")),
		RefreshSecret:     strings.TrimSpace(os.Getenv("REFRESH_TOKEN_SECRET")),
		AccessTTL:         getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTTL:        getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		RefreshCookieName: getEnv("REFRESH_COOKIE_NAME", "refreshtoken"),
		RefreshCookiePath: getEnv("REFRESH_COOKIE_PATH", "/account/refresh_token"),
		CookieSecure:      getEnvBool("COOKIE_SECURE", false),
		BcryptCost:        getEnvInt("BCRYPT_COST", 8),
		LoginMaxAttempts:  getEnvInt("LOGIN_MAX_ATTEMPTS", 5),
		LoginCooldown:     getEnvDuration("LOGIN_COOLDOWN", 15*time.Minute),
	}

	return Config{
		Env:          getEnv("ENV", "production"),
		ServerPort:   getEnvInt("SERVER_PORT", 8080),
		ClientOrigin: getEnv("CLIENT_ORIGIN", ""),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Database: dbConfig,
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: authConfig,
		OTP: OTPConfig{
			TTL:         getEnvDuration("OTP_TTL", 5*time.Minute),
			VerifyCode:  getEnvBool("OTP_VERIFY_CODE", true),
			MaxAttempts: getEnvInt("OTP_MAX_ATTEMPTS", 5),
			MaxSends:    getEnvInt("OTP_MAX_SENDS", 5),
			SendWindow:  getEnvDuration("OTP_SEND_WINDOW", 15*time.Minute),
			MaxConfirms: getEnvInt("OTP_MAX_CONFIRMS", 10),
		},
		Policy: PolicyConfig{
			PasswordMinLength: getEnvInt("PASSWORD_MIN_LENGTH", 8),
			PhonePattern:      getEnv("PHONE_PATTERN", `^(\+?84|0)[35789][0-9]{8}$`),
		},
		Mail: MailConfig{
			Transport: strings.ToLower(getEnv("MAIL_TRANSPORT", MailTransportSMTP)),
			Channel:   getEnv("MAIL_CHANNEL", "otp-email"),
			SMTP: SMTPConfig{
				Host:     getEnv("SMTP_HOST", "localhost"),
				Port:     getEnvInt("SMTP_PORT", 587),
				Username: getEnv("SMTP_USER", ""),
				Password: getEnv("SMTP_PASS", ""),
				From:     getEnv("SMTP_FROM", "TaskHub <no-reply@taskhub.local>"),
			},
		},
		MQ: MQConfig{
			Backend: strings.ToLower(getEnv("MQ_BACKEND", "")),
			RabbitMQ: RabbitMQConfig{
				URL:             getEnv("RABBITMQ_URL", ""),
				QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
				QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
				PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH", 10),
			},
			PubSub: PubSubConfig{
				ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
				CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
				SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
			},
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(getEnv("STORAGE_BACKEND", "")),
			PublicBaseURL: strings.TrimRight(getEnv("STORAGE_PUBLIC_URL", ""), "/"),
			Minio: MinioConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", "avatars"),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			GCS: GCSConfig{
				Bucket:          getEnv("GCS_BUCKET", ""),
				ProjectID:       getEnv("GCS_PROJECT_ID", ""),
				CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
			},
		},
	}
}

// Validate reports configuration that would prevent the server from starting.
func (c Config) Validate() error {
	var errs []error
	if c.Auth.AccessSecret == "" {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET is required"))
	}
	if c.Auth.RefreshSecret == "" {
		errs = append(errs, errors.New("REFRESH_TOKEN_SECRET is required"))
	}
	switch c.Database.Driver {
	case DriverMongo, DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver))
	}
	switch c.Mail.Transport {
	case MailTransportSMTP:
	case MailTransportQueue:
		if c.MQ.Backend == "" {
			errs = append(errs, errors.New("MQ_BACKEND is required when MAIL_TRANSPORT=queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported MAIL_TRANSPORT %q", c.Mail.Transport))
	}
	switch c.MQ.Backend {
	case "", MQBackendRabbitMQ, MQBackendPubSub:
	default:
		errs = append(errs, fmt.Errorf("unsupported MQ_BACKEND %q", c.MQ.Backend))
	}
	switch c.Storage.Backend {
	case "", StorageBackendMinio, StorageBackendGCS:
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST %d out of range", c.Auth.BcryptCost))
	}
	if c.OTP.TTL <= 0 {
		errs = append(errs, errors.New("OTP_TTL must be positive"))
	}
	if c.OTP.VerifyCode && c.OTP.MaxAttempts <= 0 {
		errs = append(errs, errors.New("OTP_MAX_ATTEMPTS must be positive when OTP_VERIFY_CODE is set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}
