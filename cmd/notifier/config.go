package main

import "fmt"

// Record store backends selectable with NOTIFY_STORE.
const (
	storePostgres = "postgres"
	storeMongo    = "mongo"
	storeMemory   = "memory"
)

type appConfig struct {
	Env   string `env:"APP_ENV" envDefault:"development"`
	Name  string `env:"APP_NAME" envDefault:"notifier"`
	Store string `env:"NOTIFY_STORE" envDefault:"postgres"`
}

func (c appConfig) Validate() error {
	switch c.Store {
	case storePostgres, storeMongo, storeMemory:
		return nil
	default:
		return fmt.Errorf("unknown NOTIFY_STORE %q", c.Store)
	}
}

// needsPostgres reports whether a pool is required, either for the records
// or for the task queue.
func needsPostgres(app appConfig, queueStorage string) bool {
	return app.Store == storePostgres || queueStorage == storePostgres
}
