package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del mercado.
type Config struct {
	Market  MarketConfig  `yaml:"market"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api"`
	Redis   RedisConfig   `yaml:"redis"`
	Log     LogConfig     `yaml:"log"`
}

// MarketConfig son los parámetros económicos. Los importes van en unidades
// decimales ("2.5"); un campo vacío o cero conserva el valor por defecto.
type MarketConfig struct {
	MinInitialPrice string `yaml:"min_initial_price"`
	MaxInitialPrice string `yaml:"max_initial_price"`
	MinPrice        string `yaml:"min_price"` // suelo absoluto de nextPrice

	PlatformFeeBps int64  `yaml:"platform_fee_bps"`
	CreatorFeeBps  int64  `yaml:"creator_fee_bps"`
	CreationFeeBps int64  `yaml:"creation_fee_bps"`
	MinCreationFee string `yaml:"min_creation_fee"`

	PoolCreationFee      string        `yaml:"pool_creation_fee"`
	PoolContributionFee  string        `yaml:"pool_contribution_fee"`
	MicroAmountThreshold string        `yaml:"micro_amount_threshold"`
	MinPoolDuration      time.Duration `yaml:"min_pool_duration"`
	MaxPoolDuration      time.Duration `yaml:"max_pool_duration"`

	MaxTradesPerBlock int           `yaml:"max_trades_per_block"`
	BlockDuration     time.Duration `yaml:"block_duration"`
	CompetitionWindow time.Duration `yaml:"competition_window"`

	CompetitiveMinBps int64                 `yaml:"competitive_min_bps"`
	CompetitiveMaxBps int64                 `yaml:"competitive_max_bps"`
	WarmTraders       int                   `yaml:"warm_traders"`
	HotTraders        int                   `yaml:"hot_traders"`
	Regimes           map[string]BandConfig `yaml:"regimes"` // consolidation | bullish | correction | parabolic
	Weights           map[string][]int      `yaml:"weights"` // cold | warm | hot → 4 pesos en orden de régimen

	MaxQuestionLen    int      `yaml:"max_question_len"`
	MaxAnswerLen      int      `yaml:"max_answer_len"`
	MaxDescriptionLen int      `yaml:"max_description_len"`
	MaxPoolNameLen    int      `yaml:"max_pool_name_len"`
	MinCategories     int      `yaml:"min_categories"`
	MaxCategories     int      `yaml:"max_categories"`
	Categories        []string `yaml:"categories"`

	Treasury   string   `yaml:"treasury"`
	Admins     []string `yaml:"admins"`
	Moderators []string `yaml:"moderators"`
	Treasurers []string `yaml:"treasurers"`
}

// BandConfig es un rango de variación en bps.
type BandConfig struct {
	MinBps int64 `yaml:"min_bps"`
	MaxBps int64 `yaml:"max_bps"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// APIConfig controla el servidor HTTP.
type APIConfig struct {
	Addr          string  `yaml:"addr"`
	JWTSecret     string  `yaml:"jwt_secret"`
	RatePerSecond float64 `yaml:"rate_per_second"` // por identidad
	Burst         int     `yaml:"burst"`
}

// RedisConfig controla la publicación de eventos en un stream de Redis.
type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TLSEnabled bool   `yaml:"tls_enabled"`
	Stream     string `yaml:"stream"`
	MaxLen     int64  `yaml:"max_len"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse interpreta un YAML ya leído, aplica el entorno y los defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Parse: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TREASURY_ADDRESS"); v != "" {
		cfg.Market.Treasury = v
	}
	if v := os.Getenv("ADMIN_ADDRESSES"); v != "" {
		cfg.Market.Admins = splitList(v)
	}
	if v := os.Getenv("MAX_TRADES_PER_BLOCK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Market.MaxTradesPerBlock = n
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
// Los parámetros económicos caen a domain.DefaultParams en Params().
func setDefaults(cfg *Config) {
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "opinionmarket.db"
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8080"
	}
	if cfg.API.Burst <= 0 {
		cfg.API.Burst = 20
	}
	if cfg.API.RatePerSecond == 0 {
		cfg.API.RatePerSecond = 10
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

var regimeNames = map[string]domain.Regime{
	"consolidation": domain.RegimeConsolidation,
	"bullish":       domain.RegimeBullish,
	"correction":    domain.RegimeCorrection,
	"parabolic":     domain.RegimeParabolic,
}

var activityNames = map[string]domain.ActivityLevel{
	"cold": domain.ActivityCold,
	"warm": domain.ActivityWarm,
	"hot":  domain.ActivityHot,
}

// Params convierte la sección market en domain.Params y la valida.
func (m MarketConfig) Params() (domain.Params, error) {
	p := domain.DefaultParams()

	amounts := []struct {
		name string
		src  string
		dst  *domain.Amount
	}{
		{"min_initial_price", m.MinInitialPrice, &p.MinInitialPrice},
		{"max_initial_price", m.MaxInitialPrice, &p.MaxInitialPrice},
		{"min_price", m.MinPrice, &p.Pricing.MinPrice},
		{"min_creation_fee", m.MinCreationFee, &p.Fees.MinCreationFee},
		{"pool_creation_fee", m.PoolCreationFee, &p.PoolCreationFee},
		{"pool_contribution_fee", m.PoolContributionFee, &p.PoolContributionFee},
		{"micro_amount_threshold", m.MicroAmountThreshold, &p.MicroAmountThreshold},
	}
	for _, a := range amounts {
		if a.src == "" {
			continue
		}
		v, err := domain.ParseAmount(a.src)
		if err != nil {
			return domain.Params{}, fmt.Errorf("config.Params: %s: %w", a.name, err)
		}
		*a.dst = v
	}

	setInt64(&p.Fees.PlatformBps, m.PlatformFeeBps)
	setInt64(&p.Fees.CreatorBps, m.CreatorFeeBps)
	setInt64(&p.Fees.CreationFeeBps, m.CreationFeeBps)
	setInt64(&p.Pricing.CompetitiveMinBps, m.CompetitiveMinBps)
	setInt64(&p.Pricing.CompetitiveMaxBps, m.CompetitiveMaxBps)
	setInt(&p.Pricing.WarmTraders, m.WarmTraders)
	setInt(&p.Pricing.HotTraders, m.HotTraders)
	setInt(&p.MaxTradesPerBlock, m.MaxTradesPerBlock)
	setInt(&p.MaxQuestionLen, m.MaxQuestionLen)
	setInt(&p.MaxAnswerLen, m.MaxAnswerLen)
	setInt(&p.MaxDescriptionLen, m.MaxDescriptionLen)
	setInt(&p.MaxPoolNameLen, m.MaxPoolNameLen)
	setInt(&p.MinCategories, m.MinCategories)
	setInt(&p.MaxCategories, m.MaxCategories)
	setDuration(&p.MinPoolDuration, m.MinPoolDuration)
	setDuration(&p.MaxPoolDuration, m.MaxPoolDuration)
	setDuration(&p.BlockDuration, m.BlockDuration)
	setDuration(&p.CompetitionWindow, m.CompetitionWindow)

	for name, band := range m.Regimes {
		r, ok := regimeNames[strings.ToLower(name)]
		if !ok {
			return domain.Params{}, fmt.Errorf("config.Params: %w: unknown regime %q", domain.ErrInvalidParams, name)
		}
		p.Pricing.Bands[r] = domain.RegimeBand{MinBps: band.MinBps, MaxBps: band.MaxBps}
	}
	for name, weights := range m.Weights {
		level, ok := activityNames[strings.ToLower(name)]
		if !ok {
			return domain.Params{}, fmt.Errorf("config.Params: %w: unknown activity level %q", domain.ErrInvalidParams, name)
		}
		if len(weights) != len(p.Pricing.Weights[level]) {
			return domain.Params{}, fmt.Errorf("config.Params: %w: %s needs %d weights, got %d",
				domain.ErrInvalidParams, name, len(p.Pricing.Weights[level]), len(weights))
		}
		copy(p.Pricing.Weights[level][:], weights)
	}

	if len(m.Categories) > 0 {
		p.Categories = m.Categories
	}
	if m.Treasury != "" {
		t, err := domain.ParseIdentity(m.Treasury)
		if err != nil {
			return domain.Params{}, fmt.Errorf("config.Params: treasury: %w", err)
		}
		p.Treasury = t
	}

	if err := p.Validate(); err != nil {
		return domain.Params{}, fmt.Errorf("config.Params: %w", err)
	}
	return p, nil
}

// Roles devuelve las identidades iniciales de cada permiso.
func (m MarketConfig) Roles() (map[domain.Capability][]domain.Identity, error) {
	out := make(map[domain.Capability][]domain.Identity)
	lists := []struct {
		c    domain.Capability
		list []string
	}{
		{domain.CapAdmin, m.Admins},
		{domain.CapModerator, m.Moderators},
		{domain.CapTreasury, m.Treasurers},
	}
	for _, l := range lists {
		for _, raw := range l.list {
			id, err := domain.ParseIdentity(raw)
			if err != nil {
				return nil, fmt.Errorf("config.Roles: %s: %w", l.c, err)
			}
			out[l.c] = append(out[l.c], id)
		}
	}
	return out, nil
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setInt64(dst *int64, v int64) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
