package logger

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	initOnce sync.Once
	root     atomic.Pointer[zap.Logger]
)

// Init construye el logger global a partir de la config. Idempotente:
// llamadas posteriores no tienen efecto. Llamar temprano en main.
func Init(cfg Config) {
	initOnce.Do(func() {
		root.Store(build(cfg))
	})
}

// L devuelve el logger global. Antes de Init devuelve uno de desarrollo
// (consola, nivel info) para que los tests no necesiten bootstrapping.
func L() *zap.Logger {
	if l := root.Load(); l != nil {
		return l
	}
	Init(Config{Env: "dev", Level: "info"})
	return root.Load()
}

// Named devuelve un logger con nombre de componente para services de vida
// larga: refresher, flow, etc.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// Sync descarga buffers pendientes; con defer en main.
func Sync() error {
	if l := root.Load(); l != nil {
		return l.Sync()
	}
	return nil
}
