// Package api отладочный HTTP API узла: здоровье процесса, снимок сущностей,
// владельцы и враги рядом с точкой. Все данные читаются из неизменяемого снимка тика.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/npc-authority/internal/core"
	"github.com/annel0/npc-authority/internal/logging"
	"github.com/annel0/npc-authority/internal/metrics"
	"github.com/annel0/npc-authority/internal/middleware"
	"github.com/annel0/npc-authority/internal/vec"
)

// Source источник данных API (реализует *core.Simulation)
type Source interface {
	Snapshot() *core.Snapshot
	OwnedCount(owner string) int
	CountsByOwner() map[string]int
	HostileNear(point vec.Vec2Float, radius float64) []core.EntityView
}

// Config содержит конфигурацию HTTP сервера
type Config struct {
	Addr string `yaml:"addr"`
	// MaxHostileRadius предел радиуса запроса /hostiles
	MaxHostileRadius float64       `yaml:"max_hostile_radius"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`

	Registerer prometheus.Registerer `yaml:"-"`
	Gatherer   prometheus.Gatherer   `yaml:"-"`
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		Addr:             ":8088",
		MaxHostileRadius: 500,
		ShutdownTimeout:  5 * time.Second,
	}
}

// GenericResponse общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Server HTTP API узла
type Server struct {
	cfg     Config
	router  *gin.Engine
	http    *http.Server
	src     Source
	sampler *metrics.ProcessSampler
	log     *logging.Logger
}

// NewServer создаёт сервер. sampler может быть nil: тогда /health без метрик процесса.
func NewServer(cfg Config, src Source, sampler *metrics.ProcessSampler) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.MaxHostileRadius <= 0 {
		cfg.MaxHostileRadius = def.MaxHostileRadius
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// === Observability middleware ===
	router.Use(otelgin.Middleware("npc_api"))
	router.Use(middleware.NewRequestLogger().Handler())

	promMw := middleware.NewPrometheusMiddleware("npc_api", cfg.Registerer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, cfg.Gatherer)

	s := &Server{
		cfg:     cfg,
		router:  router,
		src:     src,
		sampler: sampler,
		log:     logging.GetComponentLogger("api"),
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/entities", s.handleEntities)
	s.router.GET("/owners", s.handleOwners)
	s.router.GET("/owners/:id/count", s.handleOwnerCount)
	s.router.GET("/hostiles", s.handleHostiles)
}

// Handler корневой http.Handler (для тестов и встраивания)
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth состояние процесса и номер последнего тика
func (s *Server) handleHealth(c *gin.Context) {
	snap := s.src.Snapshot()
	data := gin.H{
		"status":       "ok",
		"participant":  snap.Participant,
		"tick":         snap.Tick,
		"participants": snap.Participants,
		"entities":     len(snap.Entities),
		"time":         time.Now().Unix(),
	}
	if s.sampler != nil {
		info := s.sampler.Last()
		data["uptime"] = s.sampler.Uptime()
		data["process"] = info
	}
	c.JSON(http.StatusOK, data)
}

// handleEntities снимок сущностей; ?family= и ?local=true фильтруют
func (s *Server) handleEntities(c *gin.Context) {
	snap := s.src.Snapshot()
	family := c.Query("family")
	localOnly := c.Query("local") == "true"

	out := make([]core.EntityView, 0, len(snap.Entities))
	for _, v := range snap.Entities {
		if family != "" && v.Family != family {
			continue
		}
		if localOnly && !v.Local {
			continue
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Снимок сущностей",
		Data: gin.H{
			"tick":     snap.Tick,
			"entities": out,
		},
	})
}

func (s *Server) handleOwners(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Сущности по владельцам",
		Data:    s.src.CountsByOwner(),
	})
}

func (s *Server) handleOwnerCount(c *gin.Context) {
	owner := c.Param("id")
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Число сущностей владельца",
		Data:    gin.H{"owner": owner, "count": s.src.OwnedCount(owner)},
	})
}

// handleHostiles живые налётчики в радиусе r от точки (x, y)
func (s *Server) handleHostiles(c *gin.Context) {
	x, errX := strconv.ParseFloat(c.Query("x"), 64)
	y, errY := strconv.ParseFloat(c.Query("y"), 64)
	r, errR := strconv.ParseFloat(c.DefaultQuery("r", "50"), 64)
	if errX != nil || errY != nil || errR != nil || r < 0 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверные параметры x, y, r",
		})
		return
	}
	if r > s.cfg.MaxHostileRadius {
		r = s.cfg.MaxHostileRadius
	}
	hostiles := s.src.HostileNear(vec.Vec2Float{X: x, Y: y}, r)
	if hostiles == nil {
		hostiles = []core.EntityView{}
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Враги рядом",
		Data:    hostiles,
	})
}

// Start запускает HTTP сервер; блокирует до остановки
func (s *Server) Start() error {
	s.log.Info("🌐 HTTP API слушает %s", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop корректно останавливает сервер
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
