package discover

import (
	"fmt"

	"go.uber.org/zap"

	"mpharvester/internal/harvest"
)

// ForStrategy returns the discoverer implementing the named strategy.
func ForStrategy(name harvest.StrategyName, logger *zap.Logger) (harvest.Discoverer, error) {
	switch name {
	case harvest.StrategySeries:
		return NewSeries(logger), nil
	case harvest.StrategyHistory:
		return NewHistory(logger), nil
	case harvest.StrategyDiscover:
		return NewDiscovery(logger), nil
	default:
		return nil, fmt.Errorf("unknown discovery strategy %q", name)
	}
}
