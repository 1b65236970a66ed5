package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/iamgideonidoko/pulse/internal/models"
)

func validEvent() models.TelemetryEvent {
	return models.TelemetryEvent{
		SessionID:         "anonymous-1709294400000-1a2b3c4d5",
		DeviceFingerprint: strings.Repeat("ab", 32),
		DeviceType:        models.DeviceDesktop,
		PageURL:           "https://example.com/",
		TimeSpent:         1000,
		ScrollDepth:       40,
		PageViews:         1,
	}
}

func TestValidateEvent(t *testing.T) {
	tooLong := strings.Repeat("u", 129)
	score := 120.0

	tests := []struct {
		name   string
		mutate func(*models.TelemetryEvent)
		field  string
	}{
		{"valid", func(*models.TelemetryEvent) {}, ""},
		{"missing session", func(e *models.TelemetryEvent) { e.SessionID = "" }, "sessionId"},
		{"short fingerprint", func(e *models.TelemetryEvent) { e.DeviceFingerprint = "abc" }, "deviceFingerprint"},
		{"non-hex fingerprint", func(e *models.TelemetryEvent) { e.DeviceFingerprint = strings.Repeat("zz", 32) }, "deviceFingerprint"},
		{"scroll above 100", func(e *models.TelemetryEvent) { e.ScrollDepth = 100.5 }, "scrollDepth"},
		{"negative time", func(e *models.TelemetryEvent) { e.TimeSpent = -1 }, "timeSpent"},
		{"unknown device type", func(e *models.TelemetryEvent) { e.DeviceType = "watch" }, "deviceType"},
		{"long user id", func(e *models.TelemetryEvent) { e.UserID = &tooLong }, "userId"},
		{"score out of range", func(e *models.TelemetryEvent) { e.EngagementScore = &score }, "engagementScore"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(&e)
			err := ValidateEvent(&e)

			if tt.field == "" {
				if err != nil {
					t.Fatalf("Expected valid event, got %v", err)
				}
				return
			}
			var errs Errors
			if !errors.As(err, &errs) {
				t.Fatalf("Expected validation Errors, got %v", err)
			}
			if _, ok := errs.ErrorMap()[tt.field]; !ok {
				t.Errorf("Expected failure on %s, got %v", tt.field, errs.ErrorMap())
			}
		})
	}
}

func TestValidateEvent_Sanitizes(t *testing.T) {
	e := validEvent()
	e.PageTitle = "Pricing\x00\x07 page"

	if err := ValidateEvent(&e); err != nil {
		t.Fatalf("ValidateEvent() failed: %v", err)
	}
	if e.PageTitle != "Pricing page" {
		t.Errorf("Expected control characters stripped, got %q", e.PageTitle)
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"tab\tand\nnewline", "tab\tand\nnewline"},
		{"bell\x07", "bell"},
		{"nul\x00byte", "nulbyte"},
	}
	for _, tt := range tests {
		if got := SanitizeString(tt.in); got != tt.want {
			t.Errorf("SanitizeString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
