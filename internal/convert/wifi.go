// Package convert holds the unit conversions and lookup tables shared by the
// scanners: WiFi frequency and channel, signal quality, Bluetooth device
// classes and well-known TCP services.
package convert

import (
	"math"
	"strings"

	"github.com/anstrom/reconradar/internal/records"
)

// Band edges in MHz.
const (
	band24Low  = 2412
	band24High = 2484
	channel14  = 2484
	band5Low   = 5180
	band5High  = 5825
	band5Base  = 5000
	band24Base = 2407
)

// FreqToChannel maps a centre frequency in MHz to its 802.11 channel.
// Frequencies outside the 2.4 GHz and 5 GHz bands have no channel.
func FreqToChannel(mhz int) (int, bool) {
	switch {
	case mhz == channel14:
		return 14, true
	case mhz >= band24Low && mhz <= band24High:
		return (mhz - band24Base) / 5, true
	case mhz >= band5Low && mhz <= band5High:
		return (mhz - band5Base) / 5, true
	}
	return 0, false
}

// ChannelToFreq maps an 802.11 channel to its centre frequency in MHz.
func ChannelToFreq(channel int) (int, bool) {
	switch {
	case channel >= 1 && channel <= 13:
		return band24Base + 5*channel, true
	case channel == 14:
		return channel14, true
	case channel >= 36 && channel <= 165:
		return band5Base + 5*channel, true
	}
	return 0, false
}

// Signal quality saturation points in dBm.
const (
	qualityFloorDBM   = -90.0
	qualityCeilingDBM = -30.0
)

// DBMToQuality maps a signal level to a 0-100 quality percentage, linear
// between -90 dBm and -30 dBm and saturated outside that range.
func DBMToQuality(dbm float64) int {
	switch {
	case math.IsNaN(dbm) || dbm <= qualityFloorDBM:
		return 0
	case dbm >= qualityCeilingDBM:
		return 100
	}
	return int(100 - (qualityCeilingDBM-dbm)/(qualityCeilingDBM-qualityFloorDBM)*100)
}

// RatioToQuality converts an iwlist "Quality=a/b" reading to a percentage.
func RatioToQuality(num, den int) (int, bool) {
	if den <= 0 || num < 0 {
		return 0, false
	}
	q := num * 100 / den
	if q > 100 {
		q = 100
	}
	return q, true
}

// ParseCapabilities extracts encryption markers from an Android-style
// capability string such as "[WPA2-PSK-CCMP][RSN-SAE-CCMP][ESS]".
func ParseCapabilities(caps string) []string {
	upper := strings.ToUpper(caps)
	enc := []string{}
	if strings.Contains(upper, "WPA3") || strings.Contains(upper, "SAE") {
		enc = append(enc, records.EncWPA3)
	}
	if strings.Contains(upper, "WPA2") || strings.Contains(upper, "RSN-PSK") || strings.Contains(upper, "RSN-EAP") {
		enc = append(enc, records.EncWPA2)
	}
	if strings.Contains(upper, "WPA") && !strings.Contains(upper, "WPA2") && !strings.Contains(upper, "WPA3") {
		enc = append(enc, records.EncWPA)
	}
	if strings.Contains(upper, "WEP") {
		enc = append(enc, records.EncWEP)
	}
	return enc
}
