package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
		enabled zap.AtomicLevel
	}{
		{name: "defaults", enabled: zap.NewAtomicLevelAt(zap.InfoLevel)},
		{name: "debug console", level: "debug", format: "console", enabled: zap.NewAtomicLevelAt(zap.DebugLevel)},
		{name: "warn json", level: "warn", format: "json", enabled: zap.NewAtomicLevelAt(zap.WarnLevel)},
		{name: "bad level", level: "loud", wantErr: true},
		{name: "bad format", format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			want := tt.enabled.Level()
			if !logger.Core().Enabled(want) {
				t.Errorf("level %s should be enabled", want)
			}
			if want > zap.DebugLevel && logger.Core().Enabled(want-1) {
				t.Errorf("level %s should be disabled", want-1)
			}
		})
	}
}
