// Package logger expone el logger Zap del servicio: un singleton global más
// scoping por contexto.
//
// El middleware de logging inyecta un logger con request_id vía ToContext;
// handlers y services lo recuperan con From(ctx) sin conocer el middleware.
// "dev" loguea a consola con colores, "prod" emite JSON.
//
//	logger.Init(logger.Config{Env: cfg.Env, Level: cfg.LogLevel})
//	defer logger.Sync()
//
//	logger.From(ctx).Info("callback processed", logger.Provider(name))
package logger
