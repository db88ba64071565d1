// Package cache provee un cache key/value chico con soporte multi-backend.
//
// Soporta:
//   - Memory (in-process, patrickmn/go-cache)
//   - Redis (compartido entre réplicas)
//
// Se usa para los documentos de discovery OIDC y el JWKS de los providers.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client define las operaciones de cache.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe o expiró.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set guarda un valor. ttl 0 usa el TTL por defecto del backend.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete elimina una key. Es idempotente.
	Delete(ctx context.Context, key string) error

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close libera recursos.
	Close() error
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Kind       string        `yaml:"kind" env:"KIND"` // "memory" | "redis"
	DefaultTTL time.Duration `yaml:"ttl" env:"TTL"`
	Redis      RedisConfig   `yaml:"redis" envPrefix:"REDIS_"`
}

// RedisConfig configura el backend redis.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

// ErrNotFound indica que la key no existe.
var ErrNotFound = errors.New("cache: key not found")

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// New crea un cliente de cache según la configuración.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Kind {
	case "memory", "":
		return NewMemory(cfg.DefaultTTL), nil
	case "redis":
		return NewRedis(ctx, cfg.Redis, cfg.DefaultTTL)
	default:
		return nil, fmt.Errorf("cache: unknown kind %q", cfg.Kind)
	}
}
