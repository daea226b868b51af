package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sha1d/pixel-sahur/internal/logging"
)

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Addr      string // Адрес Redis сервера
	Password  string // Пароль (пустой если не требуется)
	DB        int    // Номер базы данных
	KeyPrefix string // Префикс для ключей
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		KeyPrefix: "presence:",
	}
}

// RedisRegistry хранит записи сессий в Redis под ключами
// <prefix><clientID>. TTL записей поддерживает сам Redis,
// ленивой чистки как в памяти не требуется.
type RedisRegistry struct {
	client    *redis.Client
	keyPrefix string
	logger    *logging.Logger
}

// NewRedisRegistry подключается к Redis и проверяет соединение.
func NewRedisRegistry(cfg *RedisConfig) (*RedisRegistry, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "presence:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
	}

	logger := logging.NewLogger("presence")
	logger.Info("🔴 Redis presence подключен: %s", cfg.Addr)

	return &RedisRegistry{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger,
	}, nil
}

// key строит ключ Redis для клиента.
func (r *RedisRegistry) key(clientID uint64) string {
	return r.keyPrefix + strconv.FormatUint(clientID, 10)
}

// Set создаёт или обновляет запись и её TTL.
func (r *RedisRegistry) Set(ctx context.Context, info Info, ttl time.Duration) error {
	if info.UpdatedAt.IsZero() {
		info.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	if err := r.client.Set(ctx, r.key(info.ClientID), data, ttl).Err(); err != nil {
		return fmt.Errorf("ошибка записи в Redis: %w", err)
	}
	return nil
}

// Get возвращает запись клиента или ErrNotFound.
func (r *RedisRegistry) Get(ctx context.Context, clientID uint64) (Info, error) {
	data, err := r.client.Get(ctx, r.key(clientID)).Bytes()
	if err == redis.Nil {
		return Info{}, ErrNotFound
	} else if err != nil {
		return Info{}, fmt.Errorf("ошибка чтения из Redis: %w", err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("ошибка разбора записи: %w", err)
	}
	return info, nil
}

// Delete удаляет запись клиента.
func (r *RedisRegistry) Delete(ctx context.Context, clientID uint64) error {
	if err := r.client.Del(ctx, r.key(clientID)).Err(); err != nil {
		return fmt.Errorf("ошибка удаления из Redis: %w", err)
	}
	return nil
}

// List сканирует все ключи с префиксом и читает записи пайплайном.
// Повреждённые записи пропускаются с предупреждением в лог.
func (r *RedisRegistry) List(ctx context.Context) ([]Info, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("ошибка сканирования ключей: %w", err)
	}

	if len(keys) == 0 {
		return []Info{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("ошибка чтения записей: %w", err)
	}

	result := make([]Info, 0, len(keys))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue // ключ истёк между Scan и Get
		} else if err != nil {
			r.logger.Warn("⚠️ Не удалось прочитать %s: %v", keys[i], err)
			continue
		}

		var info Info
		if err := json.Unmarshal(data, &info); err != nil {
			r.logger.Warn("⚠️ Повреждённая запись %s: %v", keys[i], err)
			continue
		}
		result = append(result, info)
	}

	sortInfos(result)
	return result, nil
}

// Close закрывает соединение с Redis.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
