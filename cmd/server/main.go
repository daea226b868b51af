package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sha1d/pixel-sahur/internal/api"
	"github.com/sha1d/pixel-sahur/internal/auth"
	"github.com/sha1d/pixel-sahur/internal/character"
	"github.com/sha1d/pixel-sahur/internal/config"
	"github.com/sha1d/pixel-sahur/internal/eventbus"
	"github.com/sha1d/pixel-sahur/internal/game"
	"github.com/sha1d/pixel-sahur/internal/logging"
	"github.com/sha1d/pixel-sahur/internal/metrics"
	"github.com/sha1d/pixel-sahur/internal/observability"
	"github.com/sha1d/pixel-sahur/internal/physics"
	"github.com/sha1d/pixel-sahur/internal/presence"
	"github.com/sha1d/pixel-sahur/internal/replication"
	"github.com/sha1d/pixel-sahur/internal/transport"
	"github.com/sha1d/pixel-sahur/internal/worldgen"
)

// version подставляется при сборке: -ldflags "-X main.version=v1.2.3"
var version = "dev"

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию ENV GAME_CONFIG)")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger(); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logging.Info("🎮 Запуск игрового сервера pixel-sahur (%s)...", version)
	logging.Info("📡 Конфигурация: KCP=:%d, REST=:%d, тикрейт=%d Гц",
		cfg.Server.GetKCPPort(), cfg.Server.GetRESTPort(), cfg.Simulation.TickRate)

	// === АУТЕНТИФИКАЦИЯ ===
	if cfg.Auth.JWTSecret != "" {
		if err := auth.SetJWTSecret(cfg.Auth.JWTSecret); err != nil {
			logging.Warn("⚠️ JWT секрет из конфигурации отклонен (%v) — используется случайный", err)
		}
	}
	auth.SetTokenTTL(cfg.Auth.TokenTTL())

	userRepo, err := buildUserRepo(&cfg.Auth)
	if err != nil {
		log.Fatalf("❌ Ошибка инициализации хранилища пользователей: %v", err)
	}
	seedAdmin(userRepo, &cfg.Auth)
	authenticator := auth.NewGameAuthenticator(userRepo, cfg.Auth.AllowGuests)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === ТЕЛЕМЕТРИЯ ===
	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx,
			cfg.Telemetry.ServiceName, version, cfg.Telemetry.Endpoint)
		if err != nil {
			logging.Warn("⚠️ Телеметрия не инициализирована: %v", err)
		} else {
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				if err := shutdown(shutdownCtx); err != nil {
					logging.Warn("⚠️ Остановка телеметрии: %v", err)
				}
			}()
			logging.Info("🔭 OTLP трассировка включена: %s", cfg.Telemetry.Endpoint)
		}
	}

	// === ШИНА СОБЫТИЙ И ПРИСУТСТВИЕ ===
	bus, err := buildBus(&cfg.EventBus)
	if err != nil {
		log.Fatalf("❌ Ошибка инициализации шины событий: %v", err)
	}

	busMetrics := eventbus.NewMetricsExporter(bus)
	busMetrics.Start()

	if err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("⚠️ Лог-подписчик шины не запущен: %v", err)
	}

	registry, err := buildPresence(&cfg.Presence)
	if err != nil {
		log.Fatalf("❌ Ошибка инициализации реестра присутствия: %v", err)
	}

	// === МИР ===
	world := game.NewWorld(game.Options{
		Bounds: physics.NewRect(cfg.Simulation.WorldMinX, cfg.Simulation.WorldMinY,
			cfg.Simulation.WorldMaxX, cfg.Simulation.WorldMaxY),
		CellSize:     cfg.Simulation.CellSize,
		Tuning:       tuningFromConfig(&cfg.Character),
		HazardDamage: int32(cfg.Character.HazardDamage),
		RespawnTicks: uint32(cfg.Character.RespawnTicks),
	})

	gen := worldgen.NewArenaGenerator(cfg.Arena.Seed)
	gen.CellStep = cfg.Arena.CellStep
	gen.SpawnRadius = cfg.Arena.SpawnClearRadius
	gen.SpawnCount = cfg.Arena.SpawnPoints
	if err := world.Populate(gen); err != nil {
		log.Fatalf("❌ Ошибка генерации арены: %v", err)
	}
	logging.Info("🗺️ Арена сгенерирована: seed=%d, сущностей=%d",
		cfg.Arena.Seed, world.Store().Alive())

	// === ТРАНСПОРТ И РЕПЛИКАЦИЯ ===
	sim := metrics.NewSimMetrics(nil)

	tcfg := transport.DefaultConfig()
	tcfg.CompressThreshold = cfg.Transport.CompressThreshold
	if cfg.Transport.BufferSize > 0 {
		tcfg.BufferSize = cfg.Transport.BufferSize
	}
	tcfg.IdleTimeout = cfg.Transport.IdleTimeout()

	kcpAddr := fmt.Sprintf(":%d", cfg.Server.GetKCPPort())
	server := transport.NewKCPServer(kcpAddr, tcfg)

	hub := replication.NewHub(world, server, authenticator, registry, bus, sim,
		replication.HubOptions{
			TickRate:          cfg.Simulation.TickRate,
			SnapshotHistory:   cfg.Replication.SnapshotHistory,
			FullSnapshotEvery: cfg.Replication.FullSnapshotEvery,
			MaxPendingInputs:  cfg.Replication.MaxPendingInputs,
			MalformedLimit:    cfg.Replication.MalformedLimit,
			Grace:             cfg.Replication.Grace(),
			PresenceTTL:       cfg.Presence.TTL(),
		})

	if err := server.Start(); err != nil {
		log.Fatalf("❌ Ошибка запуска KCP транспорта: %v", err)
	}

	// === REST API ===
	restServer := api.NewRestServer(api.Config{
		Port:     fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		Version:  version,
		UserRepo: userRepo,
		Auth:     authenticator,
		Stats:    hub,
		Presence: registry,
	})
	if err := restServer.Start(); err != nil {
		log.Fatalf("❌ Ошибка запуска REST API: %v", err)
	}

	// === ЦИКЛ СИМУЛЯЦИИ ===
	loop := game.NewLoop(cfg.Simulation.TickInterval(), hub.Tick)
	loop.SetOverrunHook(hub.HandleOverrun)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info("📡 Получен сигнал %v, завершение работы...", sig)
		cancel()
	}()

	logging.Info("✅ Все сервисы запущены и готовы принимать соединения")
	logging.Info("   🎮 Игровой трафик: KCP %s", kcpAddr)
	logging.Info("   🌐 REST API: http://localhost:%d", cfg.Server.GetRESTPort())
	logging.Info("   ❤️ Health check: http://localhost:%d/healthz", cfg.Server.GetRESTPort())
	logging.Info("   📈 Метрики: http://localhost:%d/metrics", cfg.Server.GetRESTPort())

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("❌ Цикл симуляции: %v", err)
	}

	// === GRACEFUL SHUTDOWN ===
	if err := server.Stop(); err != nil {
		logging.Error("❌ Остановка KCP транспорта: %v", err)
	}
	if err := restServer.Stop(); err != nil {
		logging.Error("❌ Остановка REST API: %v", err)
	}
	busMetrics.Stop()
	if err := bus.Close(); err != nil {
		logging.Error("❌ Остановка шины событий: %v", err)
	}
	if err := registry.Close(); err != nil {
		logging.Error("❌ Остановка реестра присутствия: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}

// buildUserRepo выбирает хранилище пользователей по конфигурации.
func buildUserRepo(cfg *config.AuthConfig) (auth.UserRepository, error) {
	switch cfg.Backend {
	case "", "memory":
		logging.Warn("⚠️ Используется in-memory хранилище пользователей")
		return auth.NewMemoryUserRepo()
	case "maria":
		repo, err := auth.NewMariaUserRepo(auth.MariaConfig{
			Host:     cfg.MariaHost,
			Port:     cfg.MariaPort,
			Database: cfg.MariaDatabase,
			Username: cfg.MariaUser,
			Password: cfg.MariaPassword,
		})
		if err != nil {
			return nil, err
		}
		logging.Info("✅ MariaDB подключена: %s:%d/%s", cfg.MariaHost, cfg.MariaPort, cfg.MariaDatabase)
		return repo, nil
	case "mongo":
		repo, err := auth.NewMongoUserRepo(auth.MongoConfig{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
		})
		if err != nil {
			return nil, err
		}
		logging.Info("✅ MongoDB подключена: %s", cfg.MongoDatabase)
		return repo, nil
	default:
		return nil, fmt.Errorf("неизвестный backend аутентификации: %q", cfg.Backend)
	}
}

// buildBus выбирает шину событий по конфигурации.
func buildBus(cfg *config.EventBusConfig) (eventbus.Bus, error) {
	switch cfg.Backend {
	case "", "memory":
		return eventbus.NewMemoryBus(256), nil
	case "nats":
		bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, 24*time.Hour)
		if err != nil {
			return nil, err
		}
		logging.Info("🪵 NATS JetStream подключен: %s (стрим %s)", cfg.URL, cfg.Stream)
		return bus, nil
	default:
		return nil, fmt.Errorf("неизвестный backend шины событий: %q", cfg.Backend)
	}
}

// buildPresence выбирает реестр присутствия по конфигурации.
func buildPresence(cfg *config.PresenceConfig) (presence.Registry, error) {
	switch cfg.Backend {
	case "", "memory":
		return presence.NewMemoryRegistry(), nil
	case "redis":
		return presence.NewRedisRegistry(&presence.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("неизвестный backend присутствия: %q", cfg.Backend)
	}
}

// seedAdmin создает административную учетку из конфигурации, если ее еще нет.
func seedAdmin(repo auth.UserRepository, cfg *config.AuthConfig) {
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return
	}

	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		logging.Warn("⚠️ Хеширование пароля администратора: %v", err)
		return
	}

	if _, err := repo.CreateUser(cfg.AdminUser, hash, true); err != nil && err != auth.ErrUserExists {
		logging.Warn("⚠️ Создание администратора %s: %v", cfg.AdminUser, err)
	}
}

// tuningFromConfig переводит конфигурацию персонажа в тюнинг автомата.
func tuningFromConfig(cfg *config.CharacterConfig) character.Tuning {
	return character.Tuning{
		MoveSpeed:           cfg.MoveSpeed,
		DashSpeed:           cfg.DashSpeed,
		DashTicks:           uint32(cfg.DashTicks),
		AttackActiveTicks:   uint32(cfg.AttackActiveTicks),
		AttackRecoveryTicks: uint32(cfg.AttackRecoveryTicks),
		JumpTicks:           uint32(cfg.JumpTicks),
		FallTicks:           uint32(cfg.FallTicks),
		HurtTicks:           uint32(cfg.HurtTicks),
		InvulnTicks:         uint32(cfg.InvulnTicks),
		BufferTicks:         uint32(cfg.BufferTicks),
		MaxHealth:           int32(cfg.MaxHealth),
	}
}
