package security

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/giantswarm/employee-mcp-server/instrumentation"
)

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{"enabled with logger", slog.Default(), true},
		{"disabled with logger", slog.Default(), false},
		{"enabled with nil logger", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			if auditor.enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", auditor.enabled, tt.enabled)
			}
			if auditor.logger == nil {
				t.Error("logger should not be nil")
			}
		})
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	tests := []struct {
		name    string
		enabled bool
		wantLog bool
	}{
		{"enabled", true, true},
		{"disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			auditor := NewAuditor(logger, tt.enabled)

			auditor.LogEvent(Event{
				Type:      "test_event",
				ClientID:  "client-456",
				IPAddress: "192.168.1.1",
				Details:   map[string]any{"key": "value"},
			})

			if hasLog := buf.Len() > 0; hasLog != tt.wantLog {
				t.Errorf("LogEvent() logged = %v, want %v", hasLog, tt.wantLog)
			}
		})
	}
}

func TestAuditor_EventTypes(t *testing.T) {
	tests := []struct {
		name      string
		log       func(a *Auditor)
		eventType string
	}{
		{"code issued", func(a *Auditor) { a.LogCodeIssued("c", "ip", "mcp:read") }, EventAuthorizationCodeIssued},
		{"auto approved", func(a *Auditor) { a.LogAutoApproved("c", "ip", "https://app/cb", "mcp:read") }, EventAuthorizationAutoApproved},
		{"token issued", func(a *Auditor) { a.LogTokenIssued("c", "ip", "mcp:read", "tok") }, EventTokenIssued},
		{"token refreshed", func(a *Auditor) { a.LogTokenRefreshed("c", "ip", "rt") }, EventTokenRefreshed},
		{"auth failure", func(a *Auditor) { a.LogAuthFailure("c", "ip", "unknown_client") }, EventAuthFailure},
		{"code reuse", func(a *Auditor) { a.LogCodeReuse("c", "ip") }, EventAuthorizationCodeReuseDetected},
		{"pkce failure", func(a *Auditor) { a.LogPKCEFailure("c", "ip") }, EventPKCEValidationFailed},
		{"pkce missing", func(a *Auditor) { a.LogPKCEMissing("c", "ip", "plain") }, EventPKCEMissing},
		{"invalid redirect", func(a *Auditor) { a.LogInvalidRedirect("c", "ip", "https://evil/cb") }, EventInvalidRedirect},
		{"rate limit", func(a *Auditor) { a.LogRateLimitExceeded("ip", "registration") }, EventRateLimitExceeded},
		{"client registered", func(a *Auditor) { a.LogClientRegistered("c", "public", "ip") }, EventClientRegistered},
		{"registration rejected", func(a *Auditor) { a.LogClientRegistrationRejected("ip", "missing token") }, EventClientRegistrationRejected},
		{"forwarded for rejected", func(a *Auditor) { a.LogForwardedForRejected("ip", "not-an-ip") }, EventForwardedForRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

			tt.log(auditor)

			out := buf.String()
			if !strings.Contains(out, "security_audit") {
				t.Errorf("log output missing security_audit message: %s", out)
			}
			if !strings.Contains(out, "event_type="+tt.eventType) {
				t.Errorf("log output missing event_type=%s: %s", tt.eventType, out)
			}
		})
	}
}

func TestAuditor_NeverLogsRawTokens(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

	auditor.LogTokenIssued("client", "ip", "mcp:read", "very-secret-access-token")
	auditor.LogTokenRefreshed("client", "ip", "very-secret-refresh-token")
	auditor.LogForwardedForRejected("10.0.0.1", "very-secret-looking<script>, 10.0.0.2")

	out := buf.String()
	if strings.Contains(out, "very-secret") {
		t.Errorf("audit log leaked a token: %s", out)
	}
	if !strings.Contains(out, "forwarded_for_hash:"+hashForLogging("very-secret-looking<script>, 10.0.0.2")) {
		t.Errorf("audit log missing forwarded_for_hash: %s", out)
	}
}

func TestAuditor_SetInstrumentation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, MetricReaders: []sdkmetric.Reader{reader}})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	auditor := NewAuditor(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), true)
	auditor.SetInstrumentation(inst)
	auditor.LogCodeReuse("client", "ip")
	auditor.LogPKCEFailure("client", "ip")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "oauth.audit.events.total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 2 {
		t.Errorf("oauth.audit.events.total = %d, want 2", total)
	}
}

func Test_hashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}

	got := hashForLogging("sensitive-data")
	if len(got) != 16 {
		t.Errorf("hash length = %d, want 16", len(got))
	}
	if got != hashForLogging("sensitive-data") {
		t.Error("hashForLogging() should be deterministic")
	}
	if got == hashForLogging("other-data") {
		t.Error("hashForLogging() should differ for different inputs")
	}
}
