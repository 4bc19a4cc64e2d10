// Package config loads typed configuration structs from the environment.
//
// Values come from process environment variables, optionally seeded from a
// .env file in the working directory, and are parsed into structs annotated
// with caarlos0/env tags. Each struct type is parsed once per process; later
// calls return the cached copy.
//
//	var cfg notifications.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
// Structs implementing Validator are checked right after parsing and a failed
// check is never cached.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Validator is implemented by config structs that need cross-field checks.
type Validator interface {
	Validate() error
}

var (
	dotenvOnce sync.Once

	cacheMu sync.Mutex
	cache   = make(map[reflect.Type]any)
)

// Load parses the environment into v, caching the result per type.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	dotenvOnce.Do(func() { _ = godotenv.Load() })

	typ := reflect.TypeFor[T]()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cached, ok := cache[typ]; ok {
		*v = cached.(T)
		return nil
	}

	var parsed T
	if err := env.Parse(&parsed); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	if vv, ok := any(&parsed).(Validator); ok {
		if err := vv.Validate(); err != nil {
			return errors.Join(ErrInvalidConfig, err)
		}
	}

	cache[typ] = parsed
	*v = parsed
	return nil
}

// MustLoad is Load that panics on failure. Use it in main only.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// Reset drops every cached config. Tests use it to reload after t.Setenv.
func Reset() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	clear(cache)
}
