package proxy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"mpharvester/internal/harvest"
)

type proxyFile struct {
	Proxies []harvest.ProxyRecord `yaml:"proxies"`
}

// LoadFile reads the proxy inventory from a YAML file of the form:
//
//	proxies:
//	  - address: http://10.0.0.1:8080
//	    username: user
//	    password: pass
//	  - address: 10.0.0.2:3128
//
// Each record gets a stable ID derived from its address and starts healthy.
// A file listing no usable proxies yields an empty slice, which callers treat
// as running direct.
func LoadFile(path string) ([]harvest.ProxyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proxy file %s: %w", path, err)
	}
	var f proxyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse proxy file %s: %w", path, err)
	}

	records := make([]harvest.ProxyRecord, 0, len(f.Proxies))
	seen := map[string]struct{}{}
	for _, rec := range f.Proxies {
		rec.Address = strings.TrimSpace(rec.Address)
		if rec.Address == "" {
			continue
		}
		rec.ID = idFor(rec.Address)
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		rec.Health = harvest.ProxyHealthy
		records = append(records, rec)
	}
	return records, nil
}

func idFor(address string) string {
	if i := strings.Index(address, "://"); i >= 0 {
		address = address[i+3:]
	}
	return address
}
