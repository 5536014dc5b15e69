package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kemonod/pkg/timer"
)

func TestBuildFilterSpec(t *testing.T) {
	spec, err := buildFilterSpec(
		[]string{"wallpaper", "psd"}, []string{"wip"},
		"2026-01-01", "", false, false, true, false)
	require.NoError(t, err)
	require.NotNil(t, spec)

	assert.Equal(t, []string{"wallpaper", "psd"}, spec.Keywords)
	assert.Equal(t, []string{"wip"}, spec.ExcludeKeywords)
	assert.Equal(t, "2026-01-01", spec.DateAfter)
	assert.True(t, spec.RequireVideos)
	assert.False(t, spec.RequireImages)
}

func TestBuildFilterSpecEmptyClears(t *testing.T) {
	spec, err := buildFilterSpec(nil, nil, "", "", false, false, false, false)
	require.NoError(t, err)
	assert.Nil(t, spec, "no flags means the filter is cleared")
}

func TestBuildFilterSpecRejectsBadDate(t *testing.T) {
	_, err := buildFilterSpec(nil, nil, "01/01/2026", "", false, false, false, false)
	assert.Error(t, err)
}

func TestParseTimerSpec(t *testing.T) {
	tests := []struct {
		spec     string
		wantType timer.Type
		wantTime string
		wantDay  int
		wantErr  bool
	}{
		{spec: "daily@02:00", wantType: timer.Daily, wantTime: "02:00"},
		{spec: "weekly@14:30,5", wantType: timer.Weekly, wantTime: "14:30", wantDay: 5},
		{spec: "monthly@09:00,15", wantType: timer.Monthly, wantTime: "09:00", wantDay: 15},
		{spec: "daily@02:00,3", wantErr: true},
		{spec: "weekly@14:30", wantErr: true},
		{spec: "hourly@02:00", wantErr: true},
		{spec: "daily", wantErr: true},
		{spec: "weekly@14:30,seven", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.spec, func(t *testing.T) {
			schedule, err := parseTimerSpec(test.spec)
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.wantType, schedule.Type)
			assert.Equal(t, test.wantTime, schedule.Time)
			assert.Equal(t, test.wantDay, schedule.Day)
		})
	}
}
