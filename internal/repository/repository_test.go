package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/iamgideonidoko/pulse/internal/models"
)

var fastRetry = RetryConfig{
	MaxAttempts: 3,
	InitialWait: time.Millisecond,
	MaxWait:     2 * time.Millisecond,
	Multiplier:  2,
}

func TestWithRetry(t *testing.T) {
	transient := &pq.Error{Code: "08006"}
	permanent := &pq.Error{Code: "23505"}

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
		maxErr    bool
	}{
		{"success first try", []error{nil}, 1, false, false},
		{"recovers after transient", []error{transient, nil}, 2, false, false},
		{"permanent error stops", []error{permanent}, 1, true, false},
		{"exhausts attempts", []error{transient, transient, transient}, 3, true, true},
		{"plain errors are retried", []error{errors.New("reset"), nil}, 2, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := WithRetry(context.Background(), fastRetry, func() error {
				err := tt.errs[min(calls, len(tt.errs)-1)]
				calls++
				return err
			})

			if calls != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, calls)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("WithRetry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrMaxRetries) != tt.maxErr {
				t.Errorf("Expected ErrMaxRetries = %v, got %v", tt.maxErr, err)
			}
		})
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slow := RetryConfig{MaxAttempts: 5, InitialWait: time.Hour, MaxWait: time.Hour, Multiplier: 1}
	err := WithRetry(ctx, slow, func() error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestEventRowRoundTrip(t *testing.T) {
	uid := "user-7"
	score := 42.5
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	event := &models.TelemetryEvent{
		SessionID:         "user-7-1709294400000-abc123def",
		UserID:            &uid,
		DeviceFingerprint: "f00d",
		DeviceType:        models.DeviceMobile,
		DeviceBrand:       "Apple",
		DeviceModel:       "iPhone",
		TimeSpent:         45000,
		ScrollDepth:       50,
		Clicks:            3,
		PageViews:         2,
		ConsentGiven:      true,
		Geolocation:       &models.Geolocation{Country: "Portugal", City: "Lisbon", Latitude: 38.72, Longitude: -9.14},
		EngagementScore:   &score,
		SessionEnded:      true,
		Timestamp:         ts,
	}

	row, err := toRow(event)
	if err != nil {
		t.Fatalf("toRow() failed: %v", err)
	}
	if !row.UserID.Valid || !row.EngagementScore.Valid || len(row.Geolocation) == 0 {
		t.Fatalf("Expected nullable columns to be populated, got %+v", row)
	}

	got, err := row.toEvent()
	if err != nil {
		t.Fatalf("toEvent() failed: %v", err)
	}
	if *got.UserID != uid || *got.EngagementScore != score {
		t.Errorf("Nullable fields lost: %+v", got)
	}
	if got.Geolocation == nil || got.Geolocation.City != "Lisbon" {
		t.Errorf("Expected geolocation to survive, got %+v", got.Geolocation)
	}
	if !got.Timestamp.Equal(ts) || !got.SessionEnded || got.DeviceType != models.DeviceMobile {
		t.Errorf("Unexpected event %+v", got)
	}
}

func TestEventRow_Anonymous(t *testing.T) {
	row, err := toRow(&models.TelemetryEvent{SessionID: "anonymous-1-abc"})
	if err != nil {
		t.Fatalf("toRow() failed: %v", err)
	}
	if row.UserID.Valid || row.EngagementScore.Valid || row.Geolocation != nil {
		t.Errorf("Expected NULL columns for anonymous event, got %+v", row)
	}
	if row.CreatedAt.IsZero() {
		t.Error("Expected created_at to be stamped")
	}

	got, err := row.toEvent()
	if err != nil {
		t.Fatalf("toEvent() failed: %v", err)
	}
	if got.UserID != nil || got.Geolocation != nil || got.EngagementScore != nil {
		t.Errorf("Expected nil pointers, got %+v", got)
	}
}
