package core_test

import (
	"testing"
	"time"

	"github.com/dagu-org/rangeload/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGranularity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    core.Granularity
		wantErr bool
	}{
		{"", core.Daily, false},
		{"daily", core.Daily, false},
		{"Day", core.Daily, false},
		{" HOURLY ", core.Hourly, false},
		{"hour", core.Hourly, false},
		{"weekly", core.Daily, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := core.ParseGranularity(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGranularity_Strings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "daily", core.Daily.String())
	assert.Equal(t, "hourly", core.Hourly.String())
	assert.Equal(t, "date", core.Daily.ParamName())
	assert.Equal(t, "hour", core.Hourly.ParamName())
	assert.Equal(t, time.DateOnly, core.Daily.Layout())
	assert.Equal(t, "2006-01-02T15", core.Hourly.Layout())
}

func TestGranularity_TruncateCeilNext(t *testing.T) {
	t.Parallel()
	at := time.Date(2015, 1, 2, 15, 30, 0, 0, time.UTC)
	midnight := time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, midnight, core.Daily.Truncate(at, nil))
	assert.Equal(t, midnight.AddDate(0, 0, 1), core.Daily.Ceil(at, time.UTC))
	assert.Equal(t, midnight, core.Daily.Ceil(midnight, time.UTC))
	assert.Equal(t, midnight.AddDate(0, 0, 1), core.Daily.Next(midnight))

	hour := time.Date(2015, 1, 2, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, hour, core.Hourly.Truncate(at, time.UTC))
	assert.Equal(t, hour.Add(time.Hour), core.Hourly.Ceil(at, time.UTC))
	assert.Equal(t, hour.Add(time.Hour), core.Hourly.Next(hour))
}

func TestGranularity_NonHourOffset(t *testing.T) {
	t.Parallel()
	kolkata := time.FixedZone("IST", 5*60*60+30*60)

	got := core.Hourly.Truncate(time.Date(2015, 1, 2, 10, 0, 0, 0, time.UTC), kolkata)
	assert.True(t, got.Equal(time.Date(2015, 1, 2, 15, 0, 0, 0, kolkata)), got)
}

func TestGranularity_Parse(t *testing.T) {
	t.Parallel()

	got, err := core.Daily.Parse("2015-01-02", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC), got)

	got, err = core.Hourly.Parse("2015-01-02T15", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2015, 1, 2, 15, 0, 0, 0, time.UTC), got)

	_, err = core.Daily.Parse("01/02/2015", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid date value")
}
