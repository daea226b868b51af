// Package api — операционный HTTP-интерфейс сервера: вход и выдача JWT,
// статус симуляции, список подключенных клиентов, системные метрики
// и эндпоинт Prometheus.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/sha1d/pixel-sahur/internal/auth"
	"github.com/sha1d/pixel-sahur/internal/logging"
	"github.com/sha1d/pixel-sahur/internal/middleware"
	"github.com/sha1d/pixel-sahur/internal/presence"
	"github.com/sha1d/pixel-sahur/internal/replication"
)

// StatsSource отдаёт счётчики симуляции для /api/status.
// Реализуется replication.Hub.
type StatsSource interface {
	Stats() replication.HubStats
}

// Config содержит конфигурацию REST-сервера.
type Config struct {
	Port     string // адрес вида ":8080"
	Version  string
	UserRepo auth.UserRepository
	Auth     *auth.GameAuthenticator
	Stats    StatsSource
	Presence presence.Registry

	// Registry — регистр Prometheus для HTTP-метрик. nil означает
	// дефолтный регистр; тесты передают свой.
	Registry prometheus.Registerer
}

// RestServer обслуживает операционные HTTP-эндпоинты поверх Gin.
type RestServer struct {
	router   *gin.Engine
	httpSrv  *http.Server
	userRepo auth.UserRepository
	auth     *auth.GameAuthenticator
	stats    StatsSource
	presence presence.Registry
	port     string
	version  string
	metrics  *ServerMetrics
	logger   *logging.Logger
}

// NewRestServer создает REST-сервер с подключенными middleware
// (recovery, логирование запросов, otelgin, Prometheus).
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8080"
	}
	if config.Version == "" {
		config.Version = "dev"
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	router.Use(otelgin.Middleware("rest_api"))

	promMw := middleware.NewPrometheusMiddleware("rest_api", config.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:   router,
		userRepo: config.UserRepo,
		auth:     config.Auth,
		stats:    config.Stats,
		presence: config.Presence,
		port:     config.Port,
		version:  config.Version,
		metrics:  NewServerMetrics(),
		logger:   logging.GetComponentLogger("rest"),
	}

	server.setupRoutes()
	return server
}

// setupRoutes настраивает маршруты REST API.
func (rs *RestServer) setupRoutes() {
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := rs.router.Group("/api")

	api.POST("/auth/login", rs.handleLogin)
	api.GET("/status", rs.handleStatus)
	api.GET("/clients", rs.handleClients)
	api.GET("/server/metrics", rs.handleServerMetrics)

	// Административные эндпоинты требуют JWT с правами админа
	admin := api.Group("/admin")
	admin.Use(rs.jwtMiddleware(), rs.adminMiddleware())
	{
		admin.POST("/register", rs.handleRegister)
	}

	rs.router.GET("/healthz", rs.handleHealthz)
}

// LoginRequest представляет запрос на вход.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse представляет ответ на вход.
type LoginResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token,omitempty"`
	Message   string `json:"message"`
	UserID    uint64 `json:"user_id,omitempty"`
	IsAdmin   bool   `json:"is_admin,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// RegisterRequest представляет запрос на регистрацию.
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	IsAdmin  bool   `json:"is_admin"`
}

// GenericResponse представляет общий ответ API.
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// handleLogin проверяет учетные данные и выдает JWT для игрового рукопожатия.
func (rs *RestServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	user, token, expiresAt, err := rs.auth.Login(req.Username, req.Password)
	if err == auth.ErrInvalidCredentials {
		c.JSON(http.StatusUnauthorized, LoginResponse{
			Success: false,
			Message: "Неверное имя пользователя или пароль",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{
			Success: false,
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	// Обновляем время последнего входа (если хранилище это поддерживает)
	if mariaRepo, ok := rs.userRepo.(*auth.MariaUserRepo); ok {
		_ = mariaRepo.UpdateUserLastLogin(user.ID)
	}

	c.JSON(http.StatusOK, LoginResponse{
		Success:   true,
		Token:     token,
		Message:   "Успешная авторизация",
		UserID:    user.ID,
		IsAdmin:   user.IsAdmin,
		ExpiresAt: expiresAt,
	})
}

// handleRegister создает нового пользователя (только для админов).
func (rs *RestServer) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	if len(req.Username) < 3 || len(req.Username) > 30 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Имя пользователя должно быть от 3 до 30 символов",
		})
		return
	}

	if len(req.Password) < 6 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Пароль должен быть минимум 6 символов",
		})
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка обработки пароля",
		})
		return
	}

	user, err := rs.userRepo.CreateUser(req.Username, passwordHash, req.IsAdmin)
	if err == auth.ErrUserExists {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: "Пользователь уже существует",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка создания пользователя",
		})
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Пользователь успешно создан",
		Data: map[string]interface{}{
			"user_id":  user.ID,
			"username": user.Username,
			"is_admin": user.IsAdmin,
		},
	})
}

// handleStatus возвращает счетчики симуляции: тик, сущности, клиенты.
func (rs *RestServer) handleStatus(c *gin.Context) {
	var stats replication.HubStats
	if rs.stats != nil {
		stats = rs.stats.Stats()
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статус сервера",
		Data: map[string]interface{}{
			"version":        rs.version,
			"tick":           stats.Tick,
			"entities":       stats.Entities,
			"clients":        stats.Clients,
			"uptime":         rs.metrics.UptimeHuman(),
			"uptime_seconds": int64(rs.metrics.Uptime().Seconds()),
			"server_time":    time.Now().Unix(),
		},
	})
}

// handleClients возвращает список активных сессий из реестра присутствия.
func (rs *RestServer) handleClients(c *gin.Context) {
	if rs.presence == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{
			Success: false,
			Message: "Реестр присутствия недоступен",
		})
		return
	}

	list, err := rs.presence.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка чтения реестра присутствия",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список клиентов",
		Data: map[string]interface{}{
			"clients": list,
			"total":   len(list),
		},
	})
}

// handleServerMetrics возвращает системные метрики процесса (CPU, память).
func (rs *RestServer) handleServerMetrics(c *gin.Context) {
	memoryMB := rs.metrics.MemoryMB()
	cpuPercent, _ := rs.metrics.ProcessCPU()
	systemCPU, _ := rs.metrics.SystemCPU()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Метрики сервера",
		Data: map[string]interface{}{
			"uptime":      rs.metrics.UptimeHuman(),
			"memory_mb":   fmt.Sprintf("%.2f", memoryMB),
			"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
			"system_cpu":  fmt.Sprintf("%.2f", systemCPU),
			"memory":      rs.metrics.MemoryDetails(),
		},
	})
}

// handleHealthz — проверка живости для оркестраторов и балансировщиков.
func (rs *RestServer) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Start запускает HTTP-сервер в фоновой горутине и возвращает управление.
func (rs *RestServer) Start() error {
	rs.httpSrv = &http.Server{
		Addr:    rs.port,
		Handler: rs.router,
	}

	go func() {
		if err := rs.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rs.logger.Error("❌ REST-сервер: %v", err)
		}
	}()

	rs.logger.Info("🚀 REST API запущен на http://localhost%s", rs.port)
	return nil
}

// Stop останавливает HTTP-сервер, дожидаясь завершения активных запросов.
func (rs *RestServer) Stop() error {
	if rs.httpSrv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rs.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("остановка REST-сервера: %w", err)
	}

	rs.logger.Info("🛑 REST API остановлен")
	return nil
}
