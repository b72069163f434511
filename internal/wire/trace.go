package wire

import "log/slog"

// LevelTrace is a custom log level below slog.LevelDebug, reserved for
// per-frame wire forensics (one log line per Send/Recv): noisy enough
// that it stays off even under log_level: debug, but available when an
// operator needs to see exactly what crossed the wire.
const LevelTrace = slog.Level(-8)
