package config

import (
	"fmt"
	"time"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/adapters/carrier"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/adapters/gateway"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/adapters/mailer"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/kafka"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/postgres"
	"github.com/ilyakaznacheev/cleanenv"
)

// StoreConfig is named after the storefront service, not a struct!
type StoreConfig struct {
	HTTPPort          int           `yaml:"http_port" env:"HTTP_PORT" env-default:"8080"`
	AdminToken        string        `yaml:"admin_token" env:"ADMIN_TOKEN"`
	JWTSecret         string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTExpiry         time.Duration `yaml:"jwt_expiry" env:"JWT_EXPIRY" env-default:"24h"`
	FrontendBaseURL   string        `yaml:"frontend_base_url" env:"FRONTEND_BASE_URL"`
	NotificationTopic string        `yaml:"notification_topic" env:"NOTIFICATION_TOPIC" env-default:"order-notifications"`
	NotificationGroup string        `yaml:"notification_group" env:"NOTIFICATION_GROUP" env-default:"notification-dispatcher"`
	CacheCapacity     int           `yaml:"cache_capacity" env:"CACHE_CAPACITY" env-default:"1024"`
	AdminListLimit    int           `yaml:"admin_list_limit" env:"ADMIN_LIST_LIMIT" env-default:"100"`
}

type Config struct {
	Store    StoreConfig     `yaml:"store" env-prefix:"STORE_"`
	Gateway  gateway.Config  `yaml:"gateway" env-prefix:"RAZORPAY_"`
	Carrier  carrier.Config  `yaml:"carrier" env-prefix:"SHIPROCKET_"`
	Mail     mailer.Config   `yaml:"mail" env-prefix:"MAIL_"`
	Kafka    kafka.Config    `yaml:"kafka" env-prefix:"KAFKA_"`
	Postgres postgres.Config `yaml:"postgres" env-prefix:"POSTGRES_"`
}

func TryRead() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{},
			fmt.Errorf("failed to read env variables: %w", err)
	}
	return cfg, nil
}
