package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"parking-sensor-service/internal/domain/parking"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
}

type SensorConfig struct {
	Thresholds    parking.Thresholds
	Scoring       parking.ScoringStrategy
	PenaltyAmount float64
}

type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	Timeout         time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Sensor      SensorConfig
	Push        PushConfig
	Kafka       KafkaConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Sensor: SensorConfig{
			Thresholds: parking.Thresholds{
				UnoccupiedDistanceCm:      v.GetFloat64("SENSOR_UNOCCUPIED_DISTANCE_CM"),
				UnoccupiedToleranceCm:     v.GetFloat64("SENSOR_UNOCCUPIED_TOLERANCE_CM"),
				OccupiedThresholdCm:       v.GetFloat64("SENSOR_OCCUPIED_THRESHOLD_CM"),
				AlignmentThresholdCm:      v.GetFloat64("SENSOR_ALIGNMENT_THRESHOLD_CM"),
				MisparkThresholdCm:        v.GetFloat64("SENSOR_MISPARK_THRESHOLD_CM"),
				SevereMisalignThresholdCm: v.GetFloat64("SENSOR_SEVERE_MISALIGN_THRESHOLD_CM"),
			},
			Scoring:       parking.ScoringStrategy(v.GetString("SENSOR_SCORING_STRATEGY")),
			PenaltyAmount: v.GetFloat64("PENALTY_AMOUNT"),
		},
		Push: PushConfig{
			VAPIDPublicKey:  v.GetString("VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: v.GetString("VAPID_PRIVATE_KEY"),
			Subscriber:      v.GetString("VAPID_SUBSCRIBER"),
			Timeout:         v.GetDuration("PUSH_TIMEOUT"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
		},
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	defaults := parking.DefaultThresholds()
	t := &cfg.Sensor.Thresholds
	if t.UnoccupiedDistanceCm == 0 {
		t.UnoccupiedDistanceCm = defaults.UnoccupiedDistanceCm
	}
	if t.UnoccupiedToleranceCm == 0 {
		t.UnoccupiedToleranceCm = defaults.UnoccupiedToleranceCm
	}
	if t.OccupiedThresholdCm == 0 {
		t.OccupiedThresholdCm = defaults.OccupiedThresholdCm
	}
	if t.AlignmentThresholdCm == 0 {
		t.AlignmentThresholdCm = defaults.AlignmentThresholdCm
	}
	if t.MisparkThresholdCm == 0 {
		t.MisparkThresholdCm = defaults.MisparkThresholdCm
	}
	if t.SevereMisalignThresholdCm == 0 {
		t.SevereMisalignThresholdCm = defaults.SevereMisalignThresholdCm
	}
	if cfg.Sensor.Scoring == "" {
		cfg.Sensor.Scoring = parking.ScoringBinary
	}
	if cfg.Sensor.PenaltyAmount == 0 {
		cfg.Sensor.PenaltyAmount = 50.0
	}
	if cfg.Push.Timeout == 0 {
		cfg.Push.Timeout = 10 * time.Second
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "parking-events"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	switch cfg.Sensor.Scoring {
	case parking.ScoringBinary, parking.ScoringDeduction:
	default:
		return fmt.Errorf("SENSOR_SCORING_STRATEGY must be %q or %q", parking.ScoringBinary, parking.ScoringDeduction)
	}
	return nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
