package logger

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestConfigure(t *testing.T) {
	defer Configure(os.Stdout, "", "")

	tests := []struct {
		level     string
		format    string
		wantLevel logrus.Level
		wantJSON  bool
	}{
		{"debug", "", logrus.DebugLevel, true},
		{"WARN", "json", logrus.WarnLevel, true},
		{"error", "text", logrus.ErrorLevel, false},
		{"bogus", "", logrus.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			Configure(&buf, tt.level, tt.format)
			if Logger.GetLevel() != tt.wantLevel {
				t.Errorf("Expected level %v, got %v", tt.wantLevel, Logger.GetLevel())
			}
			_, isJSON := Logger.Formatter.(*logrus.JSONFormatter)
			if isJSON != tt.wantJSON {
				t.Errorf("Expected JSON formatter=%v, got %T", tt.wantJSON, Logger.Formatter)
			}
		})
	}
}

func TestFromContext_CarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "info", "json")
	defer Configure(os.Stdout, "", "")

	ctx := ContextWithRequestID(context.Background(), "abc-123")
	if got := RequestIDFromContext(ctx); got != "abc-123" {
		t.Errorf("Expected request ID abc-123, got %q", got)
	}

	FromContext(ctx).Info("hello")
	if !strings.Contains(buf.String(), `"request_id":"abc-123"`) {
		t.Errorf("Expected request_id in log output, got %s", buf.String())
	}
}

func TestRequestIDFromContext_Missing(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("Expected empty request ID, got %q", got)
	}
}
