// Package logger provides structured logging functionality for the ytcipher project.
//
// Features:
//   - Multiple log levels (TRACE, DEBUG, INFO, WARN, ERROR)
//   - Component-based filtering
//   - Multiple output formats (text, JSON, color)
//   - Thread-safe operations
//   - Configuration from environment variables or a JSON file
//
// Usage:
//
//	log := logger.WithComponent(logger.ComponentCipher)
//
//	log.Info("Decompiled signature routine", map[string]any{
//		"release": "19834",
//		"program": "s3 r w49",
//	})
//
//	config := logger.DefaultConfig()
//	config.Level = logger.DEBUG
//	config.Format = logger.FormatJSON
//	logger.SetGlobalLogger(logger.New(config))
//
// Components:
//   - ComponentApp: CLI and top-level engine logs
//   - ComponentCipher: Decompile, verify and resolve logs
//   - ComponentStore: Cipher store reads and writes
//   - ComponentClient: HTTP transport logs
//   - ComponentPlayer: Player reference extraction
//   - ComponentFormat: Stream URL assembly
package logger
