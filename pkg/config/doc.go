// Package config loads the audit service configuration.
//
// # Overview
//
// Configuration is built in three layers: built-in defaults, an optional
// YAML file (named by ISOTRACK_CONFIG or passed to Load) and ISOTRACK_*
// environment variables. Later layers win.
//
// # Configuration File
//
//	server:
//	  port: "8080"
//	  health_port: "9090"
//	storage:
//	  type: redis            # memory, file, redis, sqlite, postgres, s3
//	  redis_url: redis://localhost:6379/0
//	audit:
//	  max_logs: 1000
//	  storage_key: audit_logs
//	journal:
//	  enabled: true
//	  path: /var/log/isotrack/audit
//	retention:
//	  enabled: true
//	  days: 30
//	  schedule: "0 3 * * *"
//	observability:
//	  log_level: info        # debug, info, warn, error
//	  log_format: json       # json, text
//
// # Environment
//
//	ISOTRACK_PORT="8080"
//	ISOTRACK_STORAGE_TYPE="postgres"
//	ISOTRACK_POSTGRES_URL="postgres://localhost/isotrack"
//	ISOTRACK_AUDIT_MAX_LOGS="1000"
//	ISOTRACK_RETENTION_ENABLED="true"
//	ISOTRACK_LOG_LEVEL="debug"
//	ISOTRACK_OTEL_ENABLED="true"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	store, err := kvstore.Open(ctx, cfg.Storage.ToKVStore())
//	trail, err := audit.Open(ctx, store, cfg.Audit.Options()...)
package config
