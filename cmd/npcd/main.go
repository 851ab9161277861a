package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/npc-authority/internal/api"
	"github.com/annel0/npc-authority/internal/config"
	"github.com/annel0/npc-authority/internal/cooldown"
	"github.com/annel0/npc-authority/internal/core"
	"github.com/annel0/npc-authority/internal/eventbus"
	"github.com/annel0/npc-authority/internal/logging"
	"github.com/annel0/npc-authority/internal/metrics"
	"github.com/annel0/npc-authority/internal/observability"
	"github.com/annel0/npc-authority/internal/pathfind"
	"github.com/annel0/npc-authority/internal/presence"
	"github.com/annel0/npc-authority/internal/replication"
	"github.com/annel0/npc-authority/internal/spawn"
	"github.com/annel0/npc-authority/internal/terrain"
	"github.com/annel0/npc-authority/internal/vec"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $NPC_CONFIG)")
	peers := flag.String("peer", "", "адреса KCP пиров через запятую")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logging.LogDir = cfg.Logging.Dir
	if err := logging.InitDefaultLogger("npcd"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	logging.SetDefaultLevel(logging.ParseLevel(cfg.Logging.Level))

	if cfg.Node.ID == "" {
		cfg.Node.ID = uuid.NewString()
	}
	if *peers != "" {
		for _, addr := range strings.Split(*peers, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				cfg.EventBus.KCP.Peers = append(cfg.EventBus.KCP.Peers, addr)
			}
		}
	}
	id := cfg.Node.ID
	logging.Info("🎮 Запуск узла NPC %s (шина=%s, тик=%s)", id, cfg.EventBus.Backend, cfg.Node.TickRate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		log.Fatalf("❌ %v", err)
	}
	logging.Info("👋 Узел %s остановлен", id)
}

func run(ctx context.Context, cfg *config.Config) error {
	id := cfg.Node.ID

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry, id)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logging.Warn("⚠️ Остановка телеметрии: %v", err)
		}
	}()

	// === ТРАНСПОРТ ===
	bus, err := openBus(cfg.EventBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	busMetrics := eventbus.NewMetricsExporter(bus, nil)
	busMetrics.Start()
	defer busMetrics.Stop()

	if sub, err := eventbus.StartLoggingListener(ctx, bus); err != nil {
		logging.Warn("⚠️ LoggingListener не запущен: %v", err)
	} else {
		defer sub.Unsubscribe()
	}

	channel, err := replication.NewChannel(cfg.Replication, id, bus)
	if err != nil {
		return err
	}
	if err := channel.Start(ctx); err != nil {
		return err
	}
	defer channel.Close()

	// === КОЛЛАБОРАТОРЫ ЯДРА ===
	directory := presence.NewDirectory(cfg.Presence, id)

	store, err := cooldown.Open(cfg.Cooldown)
	if err != nil {
		return err
	}
	defer store.Close()

	sampler := terrain.NewPerlinSampler(cfg.Terrain)
	worker := pathfind.NewWorker(pathfind.NewGrid(cfg.NavGrid, sampler), cfg.Pathfind)
	worker.Start(ctx)
	defer worker.Wait()

	structures, err := cfg.SpawnStructures()
	if err != nil {
		return err
	}

	sim, err := core.New(id, cfg.Core, core.Deps{
		Terrain:    sampler,
		Paths:      worker,
		Presence:   directory,
		Players:    directory,
		Factions:   directory,
		Outbound:   channel,
		Inbound:    channel,
		Cooldowns:  store,
		Structures: spawn.NewStaticSource(cfg.Core.Spawn.CellSize, structures),
		Metrics:    metrics.NewSimMetrics(nil),
		Tracer:     observability.Tracer(),
	})
	if err != nil {
		return err
	}
	logging.Info("🏕️ Построек в конфигурации: %d", len(structures))

	// === API ===
	proc, err := metrics.NewProcessSampler(nil, cfg.Metrics.ProcessInterval)
	if err != nil {
		logging.Warn("⚠️ Метрики процесса недоступны: %v", err)
	} else {
		proc.Start()
		defer proc.Stop()
	}

	server := api.NewServer(cfg.API, sim, proc)
	go func() {
		if err := server.Start(); err != nil {
			logging.Error("❌ Ошибка HTTP API: %v", err)
		}
	}()
	defer func() {
		if err := server.Stop(context.Background()); err != nil {
			logging.Warn("⚠️ Остановка HTTP API: %v", err)
		}
	}()

	// === ЦИКЛ ТИКОВ ===
	local := vec.Vec2Float{X: cfg.Node.X, Y: cfg.Node.Y}
	ticker := time.NewTicker(cfg.Node.TickRate)
	defer ticker.Stop()

	logging.Info("✅ Узел %s готов: API %s", id, cfg.API.Addr)
	for {
		select {
		case <-ctx.Done():
			logging.Info("📡 Получен сигнал завершения, останавливаем узел...")
			return nil
		case now := <-ticker.C:
			directory.UpdateLocal(presence.Heartbeat{Position: local}, now)
			sim.Tick(ctx, now)
		}
	}
}

// openBus создаёт транспорт между пирами по конфигурации
func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	switch cfg.Backend {
	case "nats":
		bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("eventbus nats: %w", err)
		}
		return bus, nil
	case "kcp":
		bus, err := eventbus.NewKCPBus(cfg.KCP)
		if err != nil {
			return nil, fmt.Errorf("eventbus kcp: %w", err)
		}
		return bus, nil
	default:
		logging.Warn("⚠️ Шина в памяти: пиры других процессов не видны")
		return eventbus.NewMemoryBus(cfg.Capacity), nil
	}
}
