package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/mmo-replay/internal/logging"
	"github.com/annel0/mmo-replay/internal/middleware"
	"github.com/annel0/mmo-replay/internal/replay"
)

// Commander выполняет команды в горутине тика движка
type Commander interface {
	Do(ctx context.Context, fn func(*replay.Engine) error) error
	Dropped() int64
}

// Server REST API оператора записи и воспроизведения
type Server struct {
	router  *gin.Engine
	driver  Commander
	addr    string
	timeout time.Duration
	log     *logging.Logger
	metrics *ProcessMetrics
	httpSrv *http.Server
}

// Config параметры REST сервера
type Config struct {
	Addr        string // ":8089"
	Driver      Commander
	Logger      *logging.Logger
	Registerer  prometheus.Registerer // nil - дефолтный регистр
	Gatherer    prometheus.Gatherer   // nil - дефолтный регистр
	ServiceName string
	Timeout     time.Duration // ожидание ответа движка
}

// GenericResponse общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewServer создаёт сервер и настраивает маршруты
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8089"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetAPILogger()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "replay_admin"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.NewRequestLogger(cfg.Logger).Handler())

	promMw := middleware.NewPrometheusMiddleware(cfg.ServiceName, cfg.Registerer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, cfg.Gatherer)

	s := &Server{
		router:  router,
		driver:  cfg.Driver,
		addr:    cfg.Addr,
		timeout: cfg.Timeout,
		log:     cfg.Logger,
		metrics: NewProcessMetrics(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.Use(s.jwtMiddleware())
	api.GET("/stats", s.handleStats)

	admin := api.Group("/admin")
	admin.Use(s.adminMiddleware())

	record := admin.Group("/record")
	{
		record.POST("/start", s.handleRecordStart)
		record.POST("/stop", s.handleRecordStop)
		record.POST("/size", s.handleRecordSize)
		record.POST("/rate", s.handleRecordRate)
		record.POST("/file", s.handleRecordFile)
		record.POST("/buffer", s.handleRecordBuffer)
		record.GET("/stats", s.handleRecordStats)
	}

	rp := admin.Group("/replay")
	{
		rp.GET("/files", s.handleReplayFiles)
		rp.POST("/load", s.handleReplayLoad)
		rp.POST("/unload", s.handleReplayUnload)
		rp.POST("/play", s.handleReplayPlay)
		rp.POST("/loop", s.handleReplayLoop)
		rp.POST("/pause", s.handleReplayPause)
		rp.POST("/skip", s.handleReplaySkip)
		rp.POST("/size", s.handleReplaySize)
		rp.GET("/stats", s.handleReplayStats)
	}
}

// Handler для httptest и встраивания
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start блокирует до Shutdown
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("🌐 REST API оператора слушает %s", s.addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown дожидается активных запросов
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// do выполняет fn в тике с таймаутом запроса
func (s *Server) do(c *gin.Context, fn func(*replay.Engine) error) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()
	return s.driver.Do(ctx, fn)
}

// statusFor переводит ошибки движка в HTTP статусы
func statusFor(err error) int {
	switch {
	case errors.Is(err, replay.ErrNoSuchFile):
		return http.StatusNotFound
	case errors.Is(err, replay.ErrBadFilename):
		return http.StatusBadRequest
	case errors.Is(err, replay.ErrBadMagic), errors.Is(err, replay.ErrBadVersion),
		errors.Is(err, replay.ErrCorruptHeader), errors.Is(err, replay.ErrEmptyFile),
		errors.Is(err, replay.ErrNoVariables), errors.Is(err, replay.ErrPacketTooLarge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, replay.ErrReplayActive), errors.Is(err, replay.ErrRecordingActive),
		errors.Is(err, replay.ErrNotRecording), errors.Is(err, replay.ErrNoBuffer),
		errors.Is(err, replay.ErrNotReplayMode), errors.Is(err, replay.ErrNotLoaded):
		return http.StatusConflict
	case errors.Is(err, replay.ErrDriverStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error("❌ %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, GenericResponse{Message: err.Error()})
}

func (s *Server) ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: message, Data: data})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleStats процесс, запись и воспроизведение одним ответом
func (s *Server) handleStats(c *gin.Context) {
	var rec replay.RecordStats
	var rep replay.ReplayStats
	var replayMode bool
	err := s.do(c, func(e *replay.Engine) error {
		rec = e.Recorder().Stats()
		rep = e.Replayer().Stats()
		replayMode = e.ReplayMode()
		return nil
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, "Статистика получена", gin.H{
		"server":           s.metrics.Snapshot(),
		"replay_mode":      replayMode,
		"record":           rec,
		"replay":           rep,
		"dropped_commands": s.driver.Dropped(),
	})
}
