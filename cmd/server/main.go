package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradebot/internal/api"
	"tradebot/internal/config"
	"tradebot/internal/engine"
	"tradebot/internal/exchange"
	"tradebot/internal/killswitch"
	"tradebot/internal/ledger"
	"tradebot/internal/models"
	"tradebot/internal/portfolio"
	"tradebot/internal/repository"
	"tradebot/internal/strategy"
	"tradebot/internal/websocket"
	"tradebot/pkg/clock"
	"tradebot/pkg/crypto"
	"tradebot/pkg/utils"

	"go.uber.org/zap"

	_ "github.com/lib/pq"
)

// Таймфрейм и глубина истории для прогрева движков при старте
const (
	warmupTimeframe = "1m"
	warmupCandles   = 200
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Инициализация базы данных (журнал ордеров и истории equity)
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("connected to database",
		zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	orderRepo := repository.NewOrderRepository(db)
	equityRepo := repository.NewEquityRepository(db)

	clk := clock.System()

	// Коннектор площадки. Учётные данные хранятся зашифрованными;
	// без них работаем на paper коннекторе.
	conn := buildConnector(cfg, clk, logger)
	defer conn.Close()

	// Реестр ордеров и позиций
	led := ledger.New(conn, orderRepo, clk, logger, ledger.Config{
		PollInterval: cfg.Ledger.PollInterval,
		OrderTimeout: cfg.Ledger.OrderTimeout,
		VenueRate:    cfg.Ledger.VenueRate,
		VenueBurst:   cfg.Ledger.VenueBurst,
	})

	// WebSocket hub для real-time обновлений
	hub := websocket.NewHub(logger)
	led.SetFillCallback(func(fill *models.Fill) {
		hub.BroadcastFill(&websocket.FillMessage{Fill: fill})
	})

	// Стратегии: закрытый набор, ключ - тег режима рынка
	registry, err := strategy.NewRegistry(
		strategy.NewTrendProvider(12, 26, cfg.Engine.AtrPeriod, 0.1),
		strategy.NewMeanReversionProvider(14, cfg.Engine.AtrPeriod, 30, 70, 0.1),
		strategy.NewRangeProvider(20, 2.0, 0.1),
	)
	if err != nil {
		logger.Fatal("failed to build strategy registry", zap.Error(err))
	}
	analyzer := strategy.NewRegimeAnalyzer(14, 20, 25, 20)

	// По движку на инструмент
	engines := make(map[string]*engine.Engine, len(cfg.Portfolio.Symbols))
	for _, symbol := range cfg.Portfolio.Symbols {
		engines[symbol] = engine.New(symbol, cfg.Engine, led, registry, analyzer, clk, logger)
	}

	alloc := portfolio.NewAllocationManager(cfg.Engine.AtrPeriod, cfg.Portfolio.CustomWeights, logger)
	risk := portfolio.NewRiskAnalyzer(clk, logger)
	ks := killswitch.New(cfg.Portfolio.KillSwitchFile, clk, logger)

	coordinator := portfolio.NewCoordinator(cfg.Portfolio, engines, led, alloc, risk, conn, ks, clk, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coordinator.Init(ctx, warmupTimeframe, warmupCandles); err != nil {
		logger.Fatal("failed to init coordinator", zap.Error(err))
	}

	go hub.Run()
	go led.StartPolling(ctx)
	go ks.Watch(ctx, cfg.Portfolio.KillSwitchPoll)
	go coordinator.Run(ctx)
	go monitorLoop(ctx, clk, coordinator, equityRepo, hub, logger)

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		Coordinator: coordinator,
		Orders:      orderRepo,
		KillSwitch:  ks,
		Hub:         hub,
		Log:         logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr))
		if cfg.Server.UseHTTPS {
			if err := server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal("server failed", zap.Error(err))
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("server failed", zap.Error(err))
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	hub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// buildConnector выбирает коннектор площадки.
//
// Учётные данные лежат в окружении зашифрованными (AES-GCM, ключ
// ENCRYPTION_KEY). Пока поддерживается только paper исполнение:
// расшифровка выполняется для валидации ключа, чтобы ошибка
// конфигурации всплыла на старте, а не при переходе на live.
func buildConnector(cfg *config.Config, clk clock.Clock, logger *zap.Logger) exchange.Connector {
	if cfg.Security.ExchangeKey != "" {
		key := []byte(cfg.Security.EncryptionKey)
		if _, err := crypto.DecryptCredential(cfg.Security.ExchangeKey, key); err != nil {
			logger.Fatal("failed to decrypt exchange API key", zap.Error(err))
		}
		if _, err := crypto.DecryptCredential(cfg.Security.ExchangeSecret, key); err != nil {
			logger.Fatal("failed to decrypt exchange API secret", zap.Error(err))
		}
		logger.Warn("live venue connector not configured, falling back to paper execution")
	}

	logger.Info("using paper connector", zap.Float64("balance", cfg.Engine.InitialBalance))
	return exchange.NewPaperConnector(clk, cfg.Engine.InitialBalance)
}

// monitorLoop раз в минуту пишет точку equity в БД и рассылает
// по WebSocket equity, режимы движков и последний снимок риска
func monitorLoop(ctx context.Context, clk clock.Clock, coordinator *portfolio.Coordinator,
	repo *repository.EquityRepository, hub *websocket.Hub, logger *zap.Logger) {

	ticker := clk.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			equity := coordinator.PortfolioEquity()
			if err := repo.Record(ctx, clk.Now(), equity); err != nil {
				logger.Warn("failed to persist equity", zap.Error(err))
			}
			hub.BroadcastEquity(equity)

			for _, status := range coordinator.GetStatus() {
				hub.BroadcastModeChange(status.Symbol, status.ActiveMode)
			}

			if snapshot := coordinator.GetPortfolioRiskAnalysis(); snapshot != nil {
				hub.Broadcast(&websocket.RiskUpdateMessage{
					BaseMessage: websocket.BaseMessage{
						Type:      websocket.MessageTypeRiskUpdate,
						Timestamp: time.Now(),
					},
					Snapshot: snapshot,
				})
			}
		}
	}
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
