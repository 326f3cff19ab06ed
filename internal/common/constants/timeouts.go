// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for operations that are not user-configurable.
const (
	// ShutdownTimeout bounds graceful HTTP shutdown in serve.
	ShutdownTimeout = 15 * time.Second

	// NotificationTimeout bounds a single alert delivery.
	NotificationTimeout = 10 * time.Second

	// MonitorEvaluationTimeout bounds one Health Monitor evaluation pass.
	MonitorEvaluationTimeout = 30 * time.Second

	// UsageRecordTimeout bounds the usage write performed inside a webhook request.
	UsageRecordTimeout = 10 * time.Second

	// SignalRetention is how long health signals are kept after they fall out of every window.
	SignalRetention = 7 * 24 * time.Hour
)

// Upload limits.
const (
	// MaxBatchUploadBytes caps the multipart upload accepted by POST /api/v1/batches.
	MaxBatchUploadBytes = 32 << 20
)
