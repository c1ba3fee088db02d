package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения.
//
// Глобального синглтона нет: каждый компонент получает свой
// sub-struct при конструировании.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	Ledger    LedgerConfig
	Engine    EngineConfig
	Portfolio PortfolioConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД (журнал ордеров)
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	EncryptionKey  string // 32 байта, AES-256 для API ключей коннектора
	ExchangeKey    string // зашифрованный API ключ (base64)
	ExchangeSecret string // зашифрованный API секрет (base64)
}

// LedgerConfig - настройки реестра ордеров
type LedgerConfig struct {
	PollInterval time.Duration // период reconciliation поллера
	OrderTimeout time.Duration // таймаут вызова коннектора при создании ордера
	VenueRate    float64       // лимит запросов к площадке в секунду
	VenueBurst   float64       // ёмкость всплеска limiter'а
}

// EngineConfig - настройки движка инструмента
type EngineConfig struct {
	// Аварийный режим
	EmergencyThreshold float64       // |Δ24h| для входа в emergency (например 0.15)
	RecoveryThreshold  float64       // порог выхода (ниже входного - гистерезис)
	EmergencyDwell     time.Duration // минимальное время в emergency

	// Риск-фильтр
	MaxRiskPerTrade float64 // доля баланса под риском на сделку (например 0.02)
	MaxRiskAmount   float64 // абсолютный лимит риска; нотионал капится 10×
	AtrPeriod       int     // период ATR для stop distance
	AtrStopMultiple float64 // множитель ATR когда нет парного стопа
	LotStep         float64 // шаг объёма площадки, 0 - без округления

	// Хеджирование
	HedgeDeltaThreshold float64 // |netDelta| для запуска хеджа (0.15)
	HedgeRatio          float64 // доля дисбаланса для закрытия (0.4)
	HedgeVwapWindow     int     // окно VWAP для цены хеджа (20 свечей)

	// Рыночные данные
	MaxCandles     int // глубина хранимой истории свечей
	InitialBalance float64
}

// PortfolioConfig - настройки координатора портфеля
type PortfolioConfig struct {
	Symbols []string

	CycleInterval        time.Duration // период decision cycle
	RiskLimit            float64       // лимит риска на символ (доля equity)
	CorrelationThreshold float64       // порог вето коррелированных сигналов
	CorrelationRefresh   time.Duration // период пересчёта матрицы корреляций
	RiskRefresh          time.Duration // период пересчёта RiskSnapshot
	EquityHistoryLen     int           // ёмкость ring buffer истории equity

	AllocationStrategy string             // equal, custom, volatility, market_cap
	CustomWeights      map[string]float64 // для strategy=custom

	KillSwitchFile string        // путь к control-файлу
	KillSwitchPoll time.Duration // период проверки kill switch
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "tradebot"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
			ExchangeKey:    getEnv("EXCHANGE_API_KEY", ""),
			ExchangeSecret: getEnv("EXCHANGE_API_SECRET", ""),
		},
		Ledger: LedgerConfig{
			PollInterval: getEnvAsDuration("LEDGER_POLL_INTERVAL", 1*time.Minute),
			OrderTimeout: getEnvAsDuration("ORDER_TIMEOUT", 5*time.Second),
			VenueRate:    getEnvAsFloat("VENUE_RATE_LIMIT", 10),
			VenueBurst:   getEnvAsFloat("VENUE_RATE_BURST", 20),
		},
		Engine: EngineConfig{
			EmergencyThreshold: getEnvAsFloat("EMERGENCY_THRESHOLD", 0.15),
			RecoveryThreshold:  getEnvAsFloat("RECOVERY_THRESHOLD", 0.075),
			EmergencyDwell:     getEnvAsDuration("EMERGENCY_DWELL", 30*time.Minute),

			MaxRiskPerTrade: getEnvAsFloat("MAX_RISK_PER_TRADE", 0.02),
			MaxRiskAmount:   getEnvAsFloat("MAX_RISK_AMOUNT", 500),
			AtrPeriod:       getEnvAsInt("ATR_PERIOD", 14),
			AtrStopMultiple: getEnvAsFloat("ATR_STOP_MULTIPLE", 1.5),
			LotStep:         getEnvAsFloat("LOT_STEP", 0),

			HedgeDeltaThreshold: getEnvAsFloat("HEDGE_DELTA_THRESHOLD", 0.15),
			HedgeRatio:          getEnvAsFloat("HEDGE_RATIO", 0.4),
			HedgeVwapWindow:     getEnvAsInt("HEDGE_VWAP_WINDOW", 20),

			MaxCandles:     getEnvAsInt("MAX_CANDLES", 500),
			InitialBalance: getEnvAsFloat("INITIAL_BALANCE", 10000),
		},
		Portfolio: PortfolioConfig{
			Symbols: getEnvAsList("SYMBOLS", []string{"BTCUSDT"}),

			CycleInterval:        getEnvAsDuration("CYCLE_INTERVAL", 15*time.Second),
			RiskLimit:            getEnvAsFloat("PORTFOLIO_RISK_LIMIT", 0.10),
			CorrelationThreshold: getEnvAsFloat("CORRELATION_THRESHOLD", 0.8),
			CorrelationRefresh:   getEnvAsDuration("CORRELATION_REFRESH", 15*time.Minute),
			RiskRefresh:          getEnvAsDuration("RISK_REFRESH", 5*time.Minute),
			EquityHistoryLen:     getEnvAsInt("EQUITY_HISTORY_LEN", 1440),

			AllocationStrategy: getEnv("ALLOCATION_STRATEGY", "equal"),
			CustomWeights:      getEnvAsWeights("CUSTOM_WEIGHTS"),

			KillSwitchFile: getEnv("KILL_SWITCH_FILE", "/tmp/tradebot.kill"),
			KillSwitchPoll: getEnvAsDuration("KILL_SWITCH_POLL", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен: API ключи коннектора хранятся шифрованными
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting exchange API keys")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if len(c.Portfolio.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must list at least one instrument")
	}

	if c.Engine.EmergencyThreshold <= 0 || c.Engine.EmergencyThreshold >= 1 {
		return fmt.Errorf("EMERGENCY_THRESHOLD must be in (0, 1), got %v", c.Engine.EmergencyThreshold)
	}

	// гистерезис: порог восстановления строго ниже порога входа
	if c.Engine.RecoveryThreshold <= 0 || c.Engine.RecoveryThreshold >= c.Engine.EmergencyThreshold {
		return fmt.Errorf("RECOVERY_THRESHOLD must be in (0, EMERGENCY_THRESHOLD), got %v", c.Engine.RecoveryThreshold)
	}

	if c.Engine.MaxRiskPerTrade <= 0 || c.Engine.MaxRiskPerTrade > 0.5 {
		return fmt.Errorf("MAX_RISK_PER_TRADE must be in (0, 0.5], got %v", c.Engine.MaxRiskPerTrade)
	}

	if c.Portfolio.RiskLimit <= 0 || c.Portfolio.RiskLimit > 1 {
		return fmt.Errorf("PORTFOLIO_RISK_LIMIT must be in (0, 1], got %v", c.Portfolio.RiskLimit)
	}

	if c.Portfolio.CorrelationThreshold <= 0 || c.Portfolio.CorrelationThreshold > 1 {
		return fmt.Errorf("CORRELATION_THRESHOLD must be in (0, 1], got %v", c.Portfolio.CorrelationThreshold)
	}

	if c.Ledger.PollInterval <= 0 {
		return fmt.Errorf("LEDGER_POLL_INTERVAL must be positive, got %v", c.Ledger.PollInterval)
	}

	if c.Ledger.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive, got %v", c.Ledger.OrderTimeout)
	}

	if c.Portfolio.CycleInterval <= 0 {
		return fmt.Errorf("CYCLE_INTERVAL must be positive, got %v", c.Portfolio.CycleInterval)
	}

	if c.Portfolio.EquityHistoryLen < 1 {
		return fmt.Errorf("EQUITY_HISTORY_LEN must be at least 1, got %d", c.Portfolio.EquityHistoryLen)
	}

	switch c.Portfolio.AllocationStrategy {
	case "equal", "custom", "volatility", "market_cap":
	default:
		return fmt.Errorf("ALLOCATION_STRATEGY must be one of equal|custom|volatility|market_cap, got %q",
			c.Portfolio.AllocationStrategy)
	}

	if c.Portfolio.AllocationStrategy == "custom" && len(c.Portfolio.CustomWeights) == 0 {
		return fmt.Errorf("CUSTOM_WEIGHTS is required when ALLOCATION_STRATEGY=custom")
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList парсит список через запятую: "BTCUSDT,ETHUSDT"
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			result = append(result, p)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// getEnvAsWeights парсит веса: "BTCUSDT:0.6,ETHUSDT:0.4"
func getEnvAsWeights(key string) map[string]float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}

	weights := make(map[string]float64)
	for _, pair := range strings.Split(valueStr, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			continue
		}
		w, err := strconv.ParseFloat(parts[1], 64)
		if err != nil || w < 0 {
			continue
		}
		weights[strings.ToUpper(parts[0])] = w
	}

	if len(weights) == 0 {
		return nil
	}
	return weights
}
