// Package netprofile classifies the client's network connection and device
// capability into the coarse buckets the streaming policy works with.
package netprofile

import "strings"

// NetworkQuality is the coarse network classification.
type NetworkQuality string

const (
	QualityPoor      NetworkQuality = "poor"
	QualityModerate  NetworkQuality = "moderate"
	QualityGood      NetworkQuality = "good"
	QualityExcellent NetworkQuality = "excellent"
)

// Effective connection types reported by the platform.
const (
	EffectiveSlow2G   = "slow-2g"
	Effective2G       = "2g"
	Effective3G       = "3g"
	Effective4G       = "4g"
	Effective5G       = "5g"
	EffectiveWiFi     = "wifi"
	EffectiveEthernet = "ethernet"
)

// Quality thresholds for top-tier connections.
const (
	excellentDownlinkMbps = 10
	excellentMaxRTTMillis = 100
	goodDownlinkMbps      = 5
)

// NetworkInfo is a snapshot of connection signals plus the derived quality.
type NetworkInfo struct {
	EffectiveType string         `json:"effective_type"`
	DownlinkMbps  float64        `json:"downlink_mbps"`
	RTTMillis     int            `json:"rtt_ms"`
	SaveData      bool           `json:"save_data"`
	Quality       NetworkQuality `json:"quality"`
}

// FallbackNetworkInfo is reported when no connection signals are available.
func FallbackNetworkInfo() NetworkInfo {
	return NetworkInfo{
		EffectiveType: Effective4G,
		DownlinkMbps:  goodDownlinkMbps,
		RTTMillis:     excellentMaxRTTMillis,
		SaveData:      false,
		Quality:       QualityModerate,
	}
}

func isTopTier(effectiveType string) bool {
	switch effectiveType {
	case Effective4G, Effective5G, EffectiveWiFi, EffectiveEthernet:
		return true
	}
	return false
}

// DeriveQuality maps raw connection signals to a NetworkQuality. Rules are
// evaluated in order and the first match wins. A top-tier connection with
// exactly 5 Mbps downlink classifies as moderate.
func DeriveQuality(effectiveType string, downlinkMbps float64, rttMillis int, saveData bool) NetworkQuality {
	if saveData {
		return QualityPoor
	}

	et := strings.ToLower(strings.TrimSpace(effectiveType))
	top := isTopTier(et)

	switch {
	case top && downlinkMbps > excellentDownlinkMbps && rttMillis < excellentMaxRTTMillis:
		return QualityExcellent
	case top && downlinkMbps > goodDownlinkMbps:
		return QualityGood
	case top, et == Effective3G:
		return QualityModerate
	default:
		return QualityPoor
	}
}
