package mapper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBilledDate(t *testing.T) {
	fallback := time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		in      any
		want    string
		wantErr bool
	}{
		{"yyyymmdd number", float64(20240305), "2024-03-05", false},
		{"yyyymmdd int", 20240305, "2024-03-05", false},
		{"yyyymmdd string", "20240305", "2024-03-05", false},
		{"m/d/yyyy", "3/5/2024", "2024-03-05", false},
		{"mm/dd/yyyy", "03/05/2024", "2024-03-05", false},
		{"iso date", "2024-03-05", "2024-03-05", false},
		{"rfc3339", "2024-03-05T00:00:00Z", "2024-03-05", false},
		{"nil uses fallback", nil, "2024-03-31", false},
		{"empty uses fallback", "", "2024-03-31", false},
		{"garbage", "March 5th", "", true},
		{"fractional number", 20240305.5, "", true},
		{"invalid month", "20241305", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BilledDate(tt.in, fallback)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBilledDate_NoFallback(t *testing.T) {
	_, err := BilledDate(nil, time.Time{})
	assert.ErrorIs(t, err, ErrNoBilledDate)
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    map[string]string
		wantErr bool
	}{
		{"nil", nil, map[string]string{}, false},
		{"empty", "", map[string]string{}, false},
		{"braced json", `{"env":"prod"}`, map[string]string{"env": "prod"}, false},
		{"vendor encoding without braces", `"env": "prod", "team": "core"`, map[string]string{"env": "prod", "team": "core"}, false},
		{"non string values", `{"replicas": 3, "public": true, "owner": null}`, map[string]string{"replicas": "3", "public": "true", "owner": ""}, false},
		{"colon pair is malformed", "env:prod", map[string]string{}, true},
		{"truncated", `{"env":`, map[string]string{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTags(tt.in)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeRegion(t *testing.T) {
	inputs := []string{"EastUS", "East US", "kr central", "KR Central", "Global", "westeurope", " Some New Region ", "", "unknown"}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			once := NormalizeRegion(in)
			assert.Equal(t, once, NormalizeRegion(once), "idempotent")
		})
	}

	assert.Equal(t, "eastus", NormalizeRegion("East US"))
	assert.Equal(t, "koreacentral", NormalizeRegion("KR Central"))
	assert.Equal(t, "brand new", NormalizeRegion("Brand New"))
}

func TestRegionMapValuesAreFixedPoints(t *testing.T) {
	for key, code := range regionMap {
		assert.Equal(t, code, NormalizeRegion(code), "value of %q must normalize to itself", key)
	}
}

func TestSavedCost(t *testing.T) {
	assert.Equal(t, 0.0, SavedCost(0, 100, 1, 50))
	assert.Equal(t, 0.0, SavedCost(1, 0, 1, 50))
	assert.InDelta(t, 15.0, SavedCost(0.25, 100, 1, 10), 1e-9)
	assert.InDelta(t, 20.0, SavedCost(0.25, 100, 1.2, 10), 1e-9)
}
