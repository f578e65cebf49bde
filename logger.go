package offsync

import "github.com/unkn0wn-root/offsync/obs"

// Fields is a minimal structured field map for logs.
type Fields = obs.Fields

// Logger is a tiny leveled logger. Provide an adapter around logging stack
// (log/zap, log/logrus, log/slog). If Logger is nil in Options, logging is disabled.
type Logger = obs.Logger

type NopLogger = obs.NopLogger
