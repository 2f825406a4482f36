package bootstrap

import (
	"io"

	"nukeguard/internal/logging"
)

// Shutdown releases what Run does not stop through its context: the
// gateway session, the shared recent index and the database.
func Shutdown(c *Components) {
	logging.Info("Starting graceful shutdown...")

	if c.Session != nil {
		logging.Info("Closing gateway session...")
		if err := c.Session.Close(); err != nil {
			logging.Warn("Gateway close failed: %v", err)
		}
	}

	if closer, ok := c.Recent.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logging.Warn("Recent index close failed: %v", err)
		}
	}

	if c.DB != nil {
		logging.Info("Closing database...")
		if err := c.DB.Close(); err != nil {
			logging.Error("Database close failed: %v", err)
		}
	}

	logging.Info("Graceful shutdown complete")
	if logging.GlobalLogger != nil {
		logging.GlobalLogger.Close()
	}
}
