package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Auth struct {
		TokenSecret string `envconfig:"AUTH_TOKEN_SECRET"`
	} `envconfig:""`

	YouTube struct {
		APIKey     string `envconfig:"YOUTUBE_API_KEY"`
		BaseURL    string `envconfig:"YOUTUBE_API_BASE_URL"`
		MaxResults int    `envconfig:"YOUTUBE_MAX_RESULTS" default:"50"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Telegram struct {
		Token string `envconfig:"TG_BOT_TOKEN"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	AMQPURL string `envconfig:"AMQP_URL"`

	Limits struct {
		WindowDays  int `envconfig:"STATS_WINDOW_DAYS" default:"7"`
		TopChannels int `envconfig:"STATS_TOP_CHANNELS" default:"5"`
		HabitsMax   int `envconfig:"HABITS_MAX_ITEMS" default:"5"`
	} `envconfig:""`

	Queues struct {
		Habits string `envconfig:"HABIT_QUEUE_KEY" default:"habit_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
