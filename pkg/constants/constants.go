package constants

type contextKey string

const (
	PoolKey      contextKey = "pool"
	TxKey        contextKey = "tx"
	LoggerKey    contextKey = "logger"
	ActorKey     contextKey = "actor"
	RequestIDKey contextKey = "request-id"
)
