package auth

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sha1d/pixel-sahur/internal/logging"
)

// guestIDBase отделяет идентификаторы гостей от идентификаторов аккаунтов
const guestIDBase uint64 = 1 << 32

// Identity — результат аутентификации игрового рукопожатия
type Identity struct {
	UserID   uint64
	Username string
	IsAdmin  bool
	Guest    bool
}

// GameAuthenticator проверяет токены игрового рукопожатия и выдает токены
// через REST-вход. Гостевой доступ (пустой токен) включается конфигурацией.
type GameAuthenticator struct {
	users       UserRepository
	allowGuests bool
	guestSeq    uint64
	logger      *logging.Logger
}

// NewGameAuthenticator создает аутентификатор поверх репозитория пользователей
func NewGameAuthenticator(repo UserRepository, allowGuests bool) *GameAuthenticator {
	return &GameAuthenticator{
		users:       repo,
		allowGuests: allowGuests,
		logger:      logging.NewLogger("auth"),
	}
}

// Login проверяет пару логин/пароль и выдает JWT. Используется REST-входом.
func (ga *GameAuthenticator) Login(username, password string) (*User, string, int64, error) {
	user, err := ga.users.ValidateCredentials(username, password)
	if err != nil {
		ga.logger.Warn("❌ Неудачный вход: user=%s", username)
		return nil, "", 0, ErrInvalidCredentials
	}

	token, err := GenerateJWT(user)
	if err != nil {
		return nil, "", 0, fmt.Errorf("ошибка подписи JWT токена: %w", err)
	}

	expiresAt := time.Now().Add(TokenTTL()).Unix()
	ga.logger.Info("✅ Вход: user=%s (ID: %d), токен до %s",
		user.Username, user.ID, time.Unix(expiresAt, 0).Format("2006-01-02 15:04:05"))
	return user, token, expiresAt, nil
}

// AuthenticateHello проверяет рукопожатие игрового клиента. Пустой токен
// означает гостевой вход, если он разрешен конфигурацией.
func (ga *GameAuthenticator) AuthenticateHello(token, name string) (*Identity, error) {
	if token == "" {
		return ga.guestIdentity(name)
	}

	claims, err := ParseClaims(token)
	if err != nil {
		ga.logger.Warn("❌ Недействительный токен рукопожатия: %v", err)
		return nil, ErrInvalidToken
	}

	// Аккаунт мог быть удален после выдачи токена
	user, err := ga.users.GetUserByID(claims.UserID)
	if err != nil {
		ga.logger.Warn("❌ Пользователь из токена не найден: ID=%d", claims.UserID)
		return nil, ErrInvalidToken
	}

	ga.logger.Info("✅ Рукопожатие: user=%s (ID: %d)", user.Username, user.ID)
	return &Identity{
		UserID:   user.ID,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
	}, nil
}

// guestIdentity выдает гостевую личность с уникальным ID вне диапазона аккаунтов
func (ga *GameAuthenticator) guestIdentity(name string) (*Identity, error) {
	if !ga.allowGuests {
		return nil, ErrGuestsDisabled
	}

	seq := atomic.AddUint64(&ga.guestSeq, 1)
	username := strings.TrimSpace(name)
	if username == "" {
		username = fmt.Sprintf("guest-%d", seq)
	}

	ga.logger.Info("👤 Гостевой вход: name=%s (ID: %d)", username, guestIDBase+seq)
	return &Identity{
		UserID:   guestIDBase + seq,
		Username: username,
		Guest:    true,
	}, nil
}
