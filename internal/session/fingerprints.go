package session

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mpharvester/internal/harvest"
)

// DefaultFingerprints returns the built-in mobile client profiles. Each
// pairs an in-app browser user agent with a viewport, locale, and timezone
// that are plausible together.
func DefaultFingerprints() []harvest.FingerprintProfile {
	return []harvest.FingerprintProfile{
		{
			Name:      "iphone-16",
			UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148 MicroMessenger/8.0.40(0x18002831) NetType/WIFI Language/zh_CN",
			Width:     375,
			Height:    812,
			Locale:    "zh-CN",
			Timezone:  "Asia/Shanghai",
		},
		{
			Name:      "galaxy-s21",
			UserAgent: "Mozilla/5.0 (Linux; Android 13; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Mobile Safari/537.36 MicroMessenger/8.0.40.2560(0x28002837) NetType/WIFI Language/zh_CN",
			Width:     384,
			Height:    854,
			Locale:    "zh-CN",
			Timezone:  "Asia/Shanghai",
		},
		{
			Name:      "pixel-6",
			UserAgent: "Mozilla/5.0 (Linux; Android 12; Pixel 6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Mobile Safari/537.36 MicroMessenger/8.0.40.2560(0x28002837) NetType/WIFI Language/zh_CN",
			Width:     412,
			Height:    915,
			Locale:    "zh-CN",
			Timezone:  "Asia/Shanghai",
		},
	}
}

type fingerprintFile struct {
	Fingerprints []harvest.FingerprintProfile `yaml:"fingerprints"`
}

// LoadFingerprints reads client profiles from a YAML file so deployments
// can rotate their own identities without a rebuild.
func LoadFingerprints(path string) ([]harvest.FingerprintProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fingerprints %s: %w", path, err)
	}
	var f fingerprintFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fingerprints %s: %w", path, err)
	}
	var out []harvest.FingerprintProfile
	for _, fp := range f.Fingerprints {
		if fp.UserAgent == "" {
			continue
		}
		if fp.Width <= 0 || fp.Height <= 0 {
			fp.Width, fp.Height = 375, 812
		}
		if fp.Locale == "" {
			fp.Locale = "zh-CN"
		}
		if fp.Timezone == "" {
			fp.Timezone = "Asia/Shanghai"
		}
		out = append(out, fp)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("fingerprint file %s lists no usable profiles", path)
	}
	return out, nil
}
