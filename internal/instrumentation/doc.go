// Package instrumentation provides OpenTelemetry metrics and tracing for inboxhook.
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, route, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//   - active_sessions: Gauge of accounts with a stored token
//
// Microsoft Graph Metrics:
//   - graph_api_operations_total: Counter of Graph calls by operation and status
//   - graph_api_operation_duration_seconds: Histogram of Graph call durations
//
// OAuth Metrics:
//   - oauth_auth_total: Counter of authorization code exchanges by result
//   - oauth_token_refresh_total: Counter of token refresh attempts by result
//
// Webhook Metrics:
//   - webhook_notifications_total: Counter of change notifications by result
//   - subscription_operations_total: Counter of subscription operations by operation and status
//
// # Configuration
//
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP collector endpoint
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (default: 0.1)
//   - METRICS_DETAILED_LABELS: Add account labels to subscription metrics (default: false)
//
// Prometheus metrics are served by the dedicated metrics server (default :9090),
// not on the public listener.
package instrumentation
