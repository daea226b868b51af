package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Simulation  SimulationConfig  `yaml:"simulation"`
	Character   CharacterConfig   `yaml:"character"`
	Replication ReplicationConfig `yaml:"replication"`
	Transport   TransportConfig   `yaml:"transport"`
	Arena       ArenaConfig       `yaml:"arena"`
	Auth        AuthConfig        `yaml:"auth"`
	Presence    PresenceConfig    `yaml:"presence"`
	EventBus    EventBusConfig    `yaml:"eventbus"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type ServerConfig struct {
	KCPPort  int `yaml:"kcp_port"`
	RESTPort int `yaml:"rest_port"`
}

// GetKCPPort возвращает игровой порт с поддержкой fallback значений
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "GAME_KCP_PORT", 7777)
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "GAME_REST_PORT", 8088)
}

type SimulationConfig struct {
	TickRate  int     `yaml:"tick_rate"`
	WorldMinX float64 `yaml:"world_min_x"`
	WorldMinY float64 `yaml:"world_min_y"`
	WorldMaxX float64 `yaml:"world_max_x"`
	WorldMaxY float64 `yaml:"world_max_y"`
	CellSize  float64 `yaml:"cell_size"`
}

// TickInterval возвращает длительность одного тика
func (s *SimulationConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(s.TickRate)
}

// CharacterConfig задает тюнинг персонажей. Длительности выражены в тиках
// симуляции, скорости — в мировых единицах в секунду.
type CharacterConfig struct {
	MoveSpeed           float64 `yaml:"move_speed"`
	DashSpeed           float64 `yaml:"dash_speed"`
	DashTicks           int     `yaml:"dash_ticks"`
	AttackActiveTicks   int     `yaml:"attack_active_ticks"`
	AttackRecoveryTicks int     `yaml:"attack_recovery_ticks"`
	JumpTicks           int     `yaml:"jump_ticks"`
	FallTicks           int     `yaml:"fall_ticks"`
	HurtTicks           int     `yaml:"hurt_ticks"`
	InvulnTicks         int     `yaml:"invuln_ticks"`
	BufferTicks         int     `yaml:"buffer_ticks"`
	MaxHealth           int     `yaml:"max_health"`
	HazardDamage        int     `yaml:"hazard_damage"`
	RespawnTicks        int     `yaml:"respawn_ticks"`
}

type ReplicationConfig struct {
	SnapshotHistory   int     `yaml:"snapshot_history"`
	FullSnapshotEvery int     `yaml:"full_snapshot_every"`
	ReconcileEpsilon  float64 `yaml:"reconcile_epsilon"`
	InterpDelayMs     int     `yaml:"interp_delay_ms"`
	InputRedundancy   int     `yaml:"input_redundancy"`
	MaxPendingInputs  int     `yaml:"max_pending_inputs"`
	PredictionHistory int     `yaml:"prediction_history"`
	MalformedLimit    int     `yaml:"malformed_limit"`
	GraceMs           int     `yaml:"grace_ms"`
}

// InterpDelay возвращает задержку интерполяции
func (r *ReplicationConfig) InterpDelay() time.Duration {
	return time.Duration(r.InterpDelayMs) * time.Millisecond
}

// Grace возвращает период ожидания молчащего клиента до отключения
func (r *ReplicationConfig) Grace() time.Duration {
	return time.Duration(r.GraceMs) * time.Millisecond
}

type TransportConfig struct {
	CompressThreshold int `yaml:"compress_threshold"`
	BufferSize        int `yaml:"buffer_size"`
	IdleTimeoutMs     int `yaml:"idle_timeout_ms"`
}

// IdleTimeout возвращает таймаут неактивности соединения
func (t *TransportConfig) IdleTimeout() time.Duration {
	return time.Duration(t.IdleTimeoutMs) * time.Millisecond
}

// ArenaConfig управляет процедурной генерацией препятствий арены.
type ArenaConfig struct {
	Seed             int64   `yaml:"seed"`
	CellStep         float64 `yaml:"cell_step"`
	SpawnClearRadius float64 `yaml:"spawn_clear_radius"`
	SpawnPoints      int     `yaml:"spawn_points"`
}

type AuthConfig struct {
	Backend       string `yaml:"backend"` // memory | maria | mongo
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLMin   int    `yaml:"token_ttl_minutes"`
	AllowGuests   bool   `yaml:"allow_guests"`
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`
	MariaHost     string `yaml:"maria_host"`
	MariaPort     int    `yaml:"maria_port"`
	MariaDatabase string `yaml:"maria_database"`
	MariaUser     string `yaml:"maria_user"`
	MariaPassword string `yaml:"maria_password"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

// TokenTTL возвращает время жизни JWT токена
func (a *AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMin) * time.Minute
}

type PresenceConfig struct {
	Backend       string `yaml:"backend"` // memory | redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
}

// TTL возвращает время жизни записи присутствия
func (p *PresenceConfig) TTL() time.Duration {
	return time.Duration(p.TTLSeconds) * time.Second
}

type EventBusConfig struct {
	Backend string `yaml:"backend"` // memory | nats
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default возвращает конфигурацию с рабочими значениями по умолчанию.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			KCPPort:  7777,
			RESTPort: 8088,
		},
		Simulation: SimulationConfig{
			TickRate:  60,
			WorldMinX: -64,
			WorldMinY: -64,
			WorldMaxX: 64,
			WorldMaxY: 64,
			CellSize:  4.0,
		},
		Character: CharacterConfig{
			MoveSpeed:           6.0,
			DashSpeed:           18.0,
			DashTicks:           12,
			AttackActiveTicks:   18,
			AttackRecoveryTicks: 12,
			JumpTicks:           20,
			FallTicks:           16,
			HurtTicks:           20,
			InvulnTicks:         45,
			BufferTicks:         15,
			MaxHealth:           100,
			HazardDamage:        10,
			RespawnTicks:        180,
		},
		Replication: ReplicationConfig{
			SnapshotHistory:   64,
			FullSnapshotEvery: 30,
			ReconcileEpsilon:  0.01,
			InterpDelayMs:     100,
			InputRedundancy:   3,
			MaxPendingInputs:  8,
			PredictionHistory: 128,
			MalformedLimit:    8,
			GraceMs:           5000,
		},
		Transport: TransportConfig{
			CompressThreshold: 512,
			BufferSize:        256,
			IdleTimeoutMs:     30000,
		},
		Arena: ArenaConfig{
			Seed:             1337,
			CellStep:         6.0,
			SpawnClearRadius: 9.0,
			SpawnPoints:      8,
		},
		Auth: AuthConfig{
			Backend:       "memory",
			TokenTTLMin:   60,
			AllowGuests:   true,
			AdminUser:     "admin",
			AdminPassword: "admin",
			MariaHost:     "localhost",
			MariaPort:     3306,
			MariaDatabase: "pixelsahur",
			MongoDatabase: "pixelsahur",
		},
		Presence: PresenceConfig{
			Backend:    "memory",
			RedisAddr:  "localhost:6379",
			TTLSeconds: 30,
		},
		EventBus: EventBusConfig{
			Backend: "memory",
			URL:     "nats://localhost:4222",
			Stream:  "GAME_EVENTS",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "pixel-sahur",
			SampleRatio: 1.0,
		},
	}
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать путь из ENV GAME_CONFIG;
// без файла возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("GAME_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}

	return cfg, nil
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}
