// Package instrumentation provides OpenTelemetry instrumentation for the employee
// directory MCP server and its embedded authorization server.
//
// Metrics are collected by the OTel SDK and exported through a Prometheus
// registry private to each Instrumentation; traces are produced by an SDK tracer
// provider with caller-supplied span processors.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "employee-mcp-server",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", inst.MetricsHandler())
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint}
//
// OAuth Flows:
//   - oauth.code.issued{client_id}
//   - oauth.code.exchanged{client_id, pkce_method}
//   - oauth.token.refreshed{client_id}
//   - oauth.client.registered{client_type}
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type}
//   - oauth.pkce.validation_failed{method}
//   - oauth.code.reuse_detected
//   - oauth.token.validation_failed{reason}
//   - oauth.audit.events.total{event_type}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.size.{clients,codes,access_tokens,refresh_tokens}
//
// MCP:
//   - mcp.tool.calls.total{tool, result}
//
// # Disabled Mode
//
// With Enabled=false every instrument is backed by a no-op provider, so callers
// can record unconditionally.
package instrumentation
