package config

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Redis       *Redis        `yaml:"redis"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Stream      Stream        `yaml:"stream"`
}

type App struct {
	Environment string `yaml:"environment"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Stream holds the supervisor tunables. Zero values are replaced by
// the defaults below so a minimal config file still works.
type Stream struct {
	FfmpegBin     string        `yaml:"ffmpeg_bin"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	PidTTL        time.Duration `yaml:"pid_ttl"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
	WorkDir       string        `yaml:"work_dir"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host:         viper.GetString("rabbitmq_host"),
		Port:         viper.GetInt("rabbitmq_port"),
		User:         viper.GetString("rabbitmq_user"),
		Pass:         viper.GetString("rabbitmq_pass"),
		Kind:         viper.GetString("rabbitmq_kind"),
		ExchangeName: viper.GetString("rabbitmq_exchange"),
	}

	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}

	stream := Stream{
		FfmpegBin:     viper.GetString("stream.ffmpeg_bin"),
		PollInterval:  viper.GetDuration("stream.poll_interval"),
		PidTTL:        viper.GetDuration("stream.pid_ttl"),
		ProbeTimeout:  viper.GetDuration("stream.probe_timeout"),
		MaxRetryDelay: viper.GetDuration("stream.max_retry_delay"),
		WorkDir:       viper.GetString("stream.work_dir"),
	}
	applyStreamDefaults(&stream)

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		DB: db,
		Redis: &Redis{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Queue:   rabbitmq,
		Storage: minioClient,
		Stream:  stream,
	}, nil
}

func applyStreamDefaults(s *Stream) {
	if s.PollInterval <= 0 {
		s.PollInterval = 2 * time.Second
	}
	if s.PidTTL <= 0 {
		s.PidTTL = 24 * time.Hour
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = 30 * time.Second
	}
	if s.MaxRetryDelay <= 0 {
		s.MaxRetryDelay = 30 * time.Second
	}
	if s.WorkDir == "" {
		s.WorkDir = "temp"
	}
}
