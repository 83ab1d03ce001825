package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/reconradar/internal/records"
)

func TestFreqToChannel(t *testing.T) {
	tests := []struct {
		mhz     int
		channel int
		ok      bool
	}{
		{2412, 1, true},
		{2437, 6, true},
		{2472, 13, true},
		{2477, 14, true},
		{2482, 15, true},
		{2484, 14, true},
		{5175, 0, false},
		{5170, 0, false},
		{5180, 36, true},
		{5825, 165, true},
		{5830, 0, false},
		{2400, 0, false},
		{5900, 0, false},
		{60480, 0, false},
	}
	for _, tt := range tests {
		ch, ok := FreqToChannel(tt.mhz)
		assert.Equal(t, tt.ok, ok, "mhz %d", tt.mhz)
		assert.Equal(t, tt.channel, ch, "mhz %d", tt.mhz)
	}
}

func TestChannelFrequencyRoundTrip(t *testing.T) {
	var channels []int
	for c := 1; c <= 14; c++ {
		channels = append(channels, c)
	}
	for c := 36; c <= 165; c++ {
		channels = append(channels, c)
	}

	for _, c := range channels {
		mhz, ok := ChannelToFreq(c)
		require.True(t, ok, "channel %d", c)
		back, ok := FreqToChannel(mhz)
		require.True(t, ok, "channel %d -> %d MHz", c, mhz)
		assert.Equal(t, c, back, "channel %d -> %d MHz", c, mhz)
	}

	_, ok := ChannelToFreq(0)
	assert.False(t, ok)
	_, ok = ChannelToFreq(200)
	assert.False(t, ok)
}

func TestDBMToQuality(t *testing.T) {
	assert.Equal(t, 0, DBMToQuality(-95))
	assert.Equal(t, 0, DBMToQuality(-90))
	assert.Equal(t, 50, DBMToQuality(-60))
	assert.Equal(t, 100, DBMToQuality(-30))
	assert.Equal(t, 100, DBMToQuality(-10))
	assert.Equal(t, 100, DBMToQuality(0))

	prev := DBMToQuality(-120)
	for dbm := -120.0; dbm <= 10; dbm += 0.5 {
		q := DBMToQuality(dbm)
		assert.GreaterOrEqual(t, q, prev, "quality must not decrease at %v dBm", dbm)
		assert.GreaterOrEqual(t, q, 0)
		assert.LessOrEqual(t, q, 100)
		prev = q
	}
}

func TestRatioToQuality(t *testing.T) {
	q, ok := RatioToQuality(35, 70)
	assert.True(t, ok)
	assert.Equal(t, 50, q)

	q, ok = RatioToQuality(100, 94)
	assert.True(t, ok)
	assert.Equal(t, 100, q)

	_, ok = RatioToQuality(1, 0)
	assert.False(t, ok)
}

func TestParseCapabilities(t *testing.T) {
	tests := []struct {
		caps string
		want []string
	}{
		{"[ESS]", []string{}},
		{"[WPA2-PSK-CCMP][RSN-PSK-CCMP][ESS]", []string{records.EncWPA2}},
		{"[WPA-PSK-TKIP][ESS]", []string{records.EncWPA}},
		{"[RSN-SAE-CCMP][ESS]", []string{records.EncWPA3}},
		{"[WPA2-PSK-CCMP][RSN-SAE-CCMP][ESS]", []string{records.EncWPA3, records.EncWPA2}},
		{"[WEP][ESS]", []string{records.EncWEP}},
	}
	for _, tt := range tests {
		t.Run(tt.caps, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCapabilities(tt.caps))
		})
	}
}

func TestClassifyBluetoothClass(t *testing.T) {
	tests := []struct {
		name string
		code int
		want string
	}{
		{"smartphone", 0x5A020C, "Smartphone"},
		{"laptop", 0x3A010C, "Laptop"},
		{"headphones", 0x240418, "Headphones"},
		{"keyboard", 0x002540, "Keyboard"},
		{"uncategorized phone", 0x000200, "Phone"},
		{"unknown minor falls back to major", 0x0001FC, "Computer"},
		{"unknown major", 0x001E00, UnknownClass},
		{"uncategorized", 0x001F00, "Uncategorized"},
		{"zero", 0, UnknownClass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyBluetoothClass(tt.code))
		})
	}
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "ssh", ServiceName(22))
	assert.Equal(t, "postgresql", ServiceName(5432))
	assert.Equal(t, UnknownService, ServiceName(31337))
}
