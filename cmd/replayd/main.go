package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/mmo-replay/internal/api"
	"github.com/annel0/mmo-replay/internal/auth"
	"github.com/annel0/mmo-replay/internal/cache"
	"github.com/annel0/mmo-replay/internal/config"
	"github.com/annel0/mmo-replay/internal/eventbus"
	"github.com/annel0/mmo-replay/internal/game"
	"github.com/annel0/mmo-replay/internal/logging"
	"github.com/annel0/mmo-replay/internal/network"
	"github.com/annel0/mmo-replay/internal/observability"
	"github.com/annel0/mmo-replay/internal/protocol"
	"github.com/annel0/mmo-replay/internal/replay"
	"github.com/annel0/mmo-replay/internal/storage"
)

const appVersion = "mmo-replay 1.0"

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигу (по умолчанию REPLAY_CONFIG)")
	replayMode := flag.Bool("replay", false, "стартовать в режиме воспроизведения")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	if *replayMode {
		cfg.Replay.Enabled = true
	}

	if cfg.Logging.ToFiles {
		if err := logging.InitDefaultLogger("replayd"); err != nil {
			log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
		}
		logging.GetLoggerManager().EnableFiles(true)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	level := logging.ParseLevel(cfg.Logging.Level)
	logging.Default().SetLevels(level, logging.TRACE)
	recordLog := logging.GetRecordLogger()
	replayLog := logging.GetReplayLogger()
	netLog := logging.GetNetworkLogger()
	apiLog := logging.GetAPILogger()
	busLog := logging.GetComponentLogger("eventbus")
	for _, l := range []*logging.Logger{recordLog, replayLog, netLog, apiLog, busLog} {
		l.SetLevels(level, logging.TRACE)
	}

	logging.Info("🎬 Запуск сервера записи и воспроизведения %s", appVersion)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === АВТОРИЗАЦИЯ ===
	if cfg.Auth.JWTSecret != "" {
		if err := auth.SetJWTSecret(cfg.Auth.JWTSecret); err != nil {
			log.Fatalf("❌ Неверный auth.jwt_secret: %v", err)
		}
	} else {
		logging.Warn("🔐 auth.jwt_secret не задан, токены действительны до перезапуска")
		token, err := auth.GenerateJWT(auth.Operator{Name: "admin", IsAdmin: true})
		if err != nil {
			log.Fatalf("❌ Ошибка выдачи токена: %v", err)
		}
		logging.Info("🔐 Токен оператора admin: %s", token)
	}

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry, apiLog)
	if err != nil {
		logging.Error("❌ OpenTelemetry не инициализирован: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	// === КАТАЛОГ ЗАПИСЕЙ ===
	if err := replay.EnsureDir(cfg.Record.Dir); err != nil {
		log.Fatalf("❌ Директория записей %s: %v", cfg.Record.Dir, err)
	}
	catalog, err := storage.NewCatalogStorage(cfg.Catalog.Path, cfg.Catalog.InMemory)
	if err != nil {
		log.Fatalf("❌ Ошибка открытия каталога: %v", err)
	}
	if files, err := replay.ListFiles(cfg.Record.Dir, replay.ListOptions{}, catalog); err == nil {
		if removed, err := catalog.Prune(files); err == nil && removed > 0 {
			logging.Info("🗂️ Из каталога удалено %d устаревших записей", removed)
		}
		logging.Info("🗂️ Записей в %s: %d", cfg.Record.Dir, len(files))
	}
	var summaries replay.Catalog = catalog
	var hot *cache.SummaryCache
	if cfg.Catalog.RedisURL != "" {
		hot, err = cache.NewSummaryCache(cache.Config{
			RedisURL:      cfg.Catalog.RedisURL,
			RedisPassword: cfg.Catalog.RedisPassword,
			TTL:           time.Duration(cfg.Catalog.RedisTTLSeconds) * time.Second,
		}, catalog, logging.Default())
		if err != nil {
			logging.Warn("⚠️ Redis недоступен, каталог только локальный: %v", err)
		} else {
			summaries = hot
		}
	}

	// === ШИНА СОБЫТИЙ ===
	bus := newEventBus(cfg.EventBus, busLog)
	if _, err := eventbus.StartLoggingListener(bus, busLog); err != nil {
		busLog.Warn("LoggingListener не запущен: %v", err)
	}
	exporter := eventbus.NewMetricsExporter(bus, nil)
	exporter.Start()
	publisher := eventbus.NewSessionPublisher(bus, "replayd", busLog)

	// === ДВИЖОК ===
	world := game.NewWorld(defaultSettings(), loadWorld(cfg.Server.WorldFile), nil)
	vars := game.NewVarStore()
	hub := game.NewHub()

	gap := time.Duration(cfg.Replay.GapNoticeSeconds) * time.Second
	if cfg.Replay.GapNoticeSeconds < 0 {
		gap = -1
	}
	engine := replay.NewEngine(replay.Options{
		Dir:           cfg.Record.Dir,
		MaxBytes:      cfg.Record.MaxBytes(),
		UpdateRate:    cfg.Record.UpdateRate(),
		GapNotice:     gap,
		ServerVersion: cfg.Server.Version,
		AppVersion:    appVersion,
		Metrics:       replay.NewMetrics(nil),
	}, replay.Deps{
		State:   world,
		Vars:    vars,
		World:   world,
		Viewers: hub,
		Catalog: summaries,
		Events:  publisher,
	})
	if cfg.Replay.Enabled {
		if err := engine.EnterReplayMode(); err != nil {
			log.Fatalf("❌ Режим воспроизведения: %v", err)
		}
	}

	driver := replay.NewDriver(engine, cfg.Server.TickInterval(), 4096)
	driverDone := make(chan struct{})
	driverCtx, stopDriver := context.WithCancel(context.Background())
	go func() {
		defer close(driverDone)
		_ = driver.Run(driverCtx)
	}()

	// === СЕТЬ ===
	netMetrics := network.NewNetworkMetrics(nil)
	feed, err := network.NewFeedServer(fmt.Sprintf(":%d", cfg.Server.GetFeedPort()), driver, world, vars, netLog, netMetrics)
	if err != nil {
		log.Fatalf("❌ Ошибка запуска приёма трафика: %v", err)
	}
	feed.Start()

	spectators, err := network.NewSpectatorServer(fmt.Sprintf(":%d", cfg.Server.GetSpectatorPort()), hub, 512, netLog, netMetrics)
	if err != nil {
		log.Fatalf("❌ Ошибка запуска сервера зрителей: %v", err)
	}
	spectators.Start()

	// === REST API и /metrics ===
	apiServer := api.NewServer(api.Config{
		Addr:        fmt.Sprintf(":%d", cfg.Server.GetAdminPort()),
		Driver:      driver,
		Logger:      apiLog,
		ServiceName: "replay_admin",
	})
	go func() {
		if err := apiServer.Start(); err != nil {
			apiLog.Error("❌ REST API остановлен с ошибкой: %v", err)
			stop()
		}
	}()

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("❌ Сервер метрик: %v", err)
		}
	}()

	mode := "запись"
	if cfg.Replay.Enabled {
		mode = "воспроизведение"
	}
	logging.Info("✅ Все сервисы запущены (режим: %s)", mode)
	logging.Info("   📡 Живой трафик: TCP :%d", cfg.Server.GetFeedPort())
	logging.Info("   👀 Зрители: TCP :%d", cfg.Server.GetSpectatorPort())
	logging.Info("   🌐 REST API: http://localhost:%d", cfg.Server.GetAdminPort())
	logging.Info("   📈 Метрики: http://localhost:%d/metrics", cfg.Server.GetMetricsPort())

	<-ctx.Done()
	logging.Info("📡 Получен сигнал завершения, останавливаем сервисы...")

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		apiLog.Error("❌ Ошибка остановки REST API: %v", err)
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	feed.Stop()
	spectators.Stop()

	stopDriver()
	<-driverDone

	exporter.Stop()
	if err := bus.Close(); err != nil {
		busLog.Error("❌ Ошибка закрытия шины: %v", err)
	}
	if hot != nil {
		m := hot.GetMetrics()
		logging.Info("🗂️ Redis каталог: %d запросов, попаданий %.0f%%", m.TotalRequests, m.HitRatio*100)
		_ = hot.Close()
	}
	if err := catalog.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия каталога: %v", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки OpenTelemetry: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}

// newEventBus JetStream, если задан URL, иначе шина в памяти
func newEventBus(cfg config.EventBusConfig, log *logging.Logger) eventbus.EventBus {
	if cfg.URL == "" {
		log.Info("🚌 Шина событий в памяти")
		return eventbus.NewMemoryBus(1024)
	}
	bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	if err != nil {
		log.Warn("🚌 JetStream недоступен (%v), используется шина в памяти", err)
		return eventbus.NewMemoryBus(1024)
	}
	log.Info("🚌 JetStream %s, стрим %s", cfg.URL, cfg.Stream)
	return bus
}

func defaultSettings() protocol.Settings {
	return protocol.Settings{
		WorldSize:    800,
		GameType:     protocol.TeamFFA,
		MaxPlayers:   200,
		MaxShots:     1,
		LinearAccel:  50,
		AngularAccel: 38,
		ShakeTimeout: 0,
		SyncTime:     0,
	}
}

func loadWorld(path string) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logging.Warn("🗺️ Файл мира %s не прочитан: %v", path, err)
		return nil
	}
	return data
}
