// Package redisbus publica los eventos del mercado en un stream de Redis.
package redisbus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/alejandrodnm/opinionmarket/internal/ports"
	"github.com/redis/go-redis/v9"
)

// DefaultStream es el stream usado si la config no indica otro.
const DefaultStream = "opinionmarket:events"

const defaultMaxLen int64 = 10000

// Config agrupa los parámetros de conexión y del stream.
type Config struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
	Stream     string
	MaxLen     int64 // aproximado, XADD MAXLEN ~
}

// StreamClient es el subconjunto de *redis.Client que usa el bus.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Bus implementa ports.EventPublisher con XADD, un mensaje por evento.
type Bus struct {
	rdb    StreamClient
	stream string
	maxLen int64
}

// Dial conecta con Redis y verifica la conexión con PING.
func Dial(ctx context.Context, cfg Config) (*Bus, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisbus.Dial: ping %s: %w", cfg.Addr, err)
	}
	return newBus(rdb, cfg), nil
}

// NewWithClient crea un bus sobre un cliente ya construido.
func NewWithClient(rdb StreamClient, cfg Config) *Bus {
	return newBus(rdb, cfg)
}

func newBus(rdb StreamClient, cfg Config) *Bus {
	b := &Bus{rdb: rdb, stream: cfg.Stream, maxLen: cfg.MaxLen}
	if b.stream == "" {
		b.stream = DefaultStream
	}
	if b.maxLen <= 0 {
		b.maxLen = defaultMaxLen
	}
	return b
}

// Stream devuelve el nombre del stream de destino.
func (b *Bus) Stream() string { return b.stream }

// Publish añade cada evento al stream, en orden. Se detiene en el primer fallo.
func (b *Bus) Publish(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("redisbus.Publish: marshal seq %d: %w", e.Seq, err)
		}
		args := &redis.XAddArgs{
			Stream: b.stream,
			MaxLen: b.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"seq":     strconv.FormatUint(e.Seq, 10),
				"type":    string(e.Type),
				"payload": payload,
			},
		}
		if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("redisbus.Publish: xadd %s seq %d: %w", b.stream, e.Seq, err)
		}
	}
	return nil
}

// Close cierra la conexión.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

var _ ports.EventPublisher = (*Bus)(nil)
