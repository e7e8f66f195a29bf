// Package validation provides filtering and selection mechanisms for yield pools.
package validation

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/hornet-cache/internal/model"
)

// FilterPools keeps a pool iff its chain matches one allow-list entry
// (case-insensitive), its symbol contains the token filter (case-insensitive),
// its TVL is at least the minimum, and its APY lies in (0, max]. Pools at
// exactly the APY ceiling are kept; zero and negative yields are rejected.
func FilterPools(pools []model.Pool, criteria model.Criteria) []model.Pool {
	filtered := make([]model.Pool, 0, len(pools))
	tokenFilter := strings.ToLower(criteria.TokenFilter)

	for _, pool := range pools {
		if !chainAllowed(pool.Chain, criteria.Chains) {
			continue
		}
		if tokenFilter != "" && !strings.Contains(strings.ToLower(pool.Symbol), tokenFilter) {
			continue
		}
		if pool.TVLUsd < criteria.MinTVL {
			continue
		}
		if pool.APY <= 0 || pool.APY > criteria.MaxAPY {
			logrus.WithFields(logrus.Fields{
				"pool": pool.ID,
				"apy":  pool.APY,
			}).Debug("Filtered pool with out-of-range APY")
			continue
		}
		filtered = append(filtered, pool)
	}

	logrus.WithFields(logrus.Fields{
		"total":    len(pools),
		"filtered": len(filtered),
	}).Info("Filtered pools")

	return filtered
}

// chainAllowed reports whether chain matches any allow-list entry, ignoring case.
func chainAllowed(chain string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(chain, a) {
			return true
		}
	}
	return false
}

// SortByTVLAndLimit sorts pools by TVL descending and truncates to limit.
// The sort is stable: pools with equal TVL keep their original relative order.
func SortByTVLAndLimit(pools []model.Pool, limit int) []model.Pool {
	sorted := make([]model.Pool, len(pools))
	copy(sorted, pools)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TVLUsd > sorted[j].TVLUsd
	})

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// Stats summarizes a pool set: count, total TVL and the APY spread.
func Stats(pools []model.Pool) model.PoolStats {
	if len(pools) == 0 {
		return model.PoolStats{}
	}

	stats := model.PoolStats{
		Count:  len(pools),
		MaxAPY: pools[0].APY,
		MinAPY: pools[0].APY,
	}

	var apySum float64
	for _, p := range pools {
		stats.TotalTVL += p.TVLUsd
		apySum += p.APY
		if p.APY > stats.MaxAPY {
			stats.MaxAPY = p.APY
		}
		if p.APY < stats.MinAPY {
			stats.MinAPY = p.APY
		}
	}
	stats.AvgAPY = apySum / float64(len(pools))

	return stats
}
