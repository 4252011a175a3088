package utils

import (
  "os"
  "strconv"
  "time"

  "github.com/planforge/planforge-backend/internal/logger"
)

func GetEnv(key, defaultVal string, log *logger.Logger) string {
  val, ok := os.LookupEnv(key)
  if !ok {
    logDefault(log, key, defaultVal)
    return defaultVal
  }
  logFound(log, key, val)
  return val
}

func GetEnvAsInt(key string, defaultVal int, log *logger.Logger) int {
  valStr, ok := os.LookupEnv(key)
  if !ok {
    logDefault(log, key, defaultVal)
    return defaultVal
  }
  i, err := strconv.Atoi(valStr)
  if err != nil {
    if log != nil {
      log.Warn("Environment variable is not an int, using default", "env_var", key, "value", valStr, "default", defaultVal)
    }
    return defaultVal
  }
  logFound(log, key, i)
  return i
}

// GetEnvAsDuration accepts either a time.ParseDuration string ("30s", "24h")
// or a bare integer, which is read as seconds.
func GetEnvAsDuration(key string, defaultVal time.Duration, log *logger.Logger) time.Duration {
  valStr, ok := os.LookupEnv(key)
  if !ok {
    logDefault(log, key, defaultVal)
    return defaultVal
  }
  if d, err := time.ParseDuration(valStr); err == nil {
    logFound(log, key, d)
    return d
  }
  if secs, err := strconv.Atoi(valStr); err == nil {
    d := time.Duration(secs) * time.Second
    logFound(log, key, d)
    return d
  }
  if log != nil {
    log.Warn("Environment variable is not a duration, using default", "env_var", key, "value", valStr, "default", defaultVal)
  }
  return defaultVal
}

func logDefault(log *logger.Logger, key string, defaultVal any) {
  if log != nil {
    log.Debug("Environment variable not set, using default", "env_var", key, "default", defaultVal)
  }
}

func logFound(log *logger.Logger, key string, val any) {
  if log != nil {
    log.Debug("Environment variable set", "env_var", key, "value", val)
  }
}
