package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTierLimit(t *testing.T) {
	tests := []struct {
		name          string
		tier          SubscriptionTier
		wantLimit     int64
		wantUnlimited bool
	}{
		{"free tier", SubscriptionTierFree, 3, false},
		{"pro tier", SubscriptionTierPro, 30, false},
		{"unlimited tier", SubscriptionTierUnlimited, 0, true},
		{"unknown tier falls back to free", SubscriptionTier("enterprise"), 3, false},
		{"empty tier falls back to free", SubscriptionTier(""), 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, unlimited := TierLimit(tt.tier)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantUnlimited, unlimited)
		})
	}
}

func TestNextPeriodStart(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "mid month",
			now:  time.Date(2026, time.March, 15, 10, 30, 0, 0, time.UTC),
			want: time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "first instant of a month",
			now:  time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "last nanosecond of a month",
			now:  time.Date(2026, time.March, 31, 23, 59, 59, 999999999, time.UTC),
			want: time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "december rolls over the year",
			now:  time.Date(2026, time.December, 20, 8, 0, 0, 0, time.UTC),
			want: time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "non-UTC input normalized to UTC",
			now:  time.Date(2026, time.June, 30, 23, 0, 0, 0, time.FixedZone("UTC-5", -5*3600)),
			want: time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextPeriodStart(tt.now)
			assert.True(t, got.Equal(tt.want), "expected %v, got %v", tt.want, got)
		})
	}
}

func TestAccount_HasReferrer(t *testing.T) {
	a := &Account{}
	assert.False(t, a.HasReferrer())

	id := uuid.New()
	a.ReferrerID = &id
	assert.True(t, a.HasReferrer())
}
