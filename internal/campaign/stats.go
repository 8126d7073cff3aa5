package campaign

import "github.com/sells-group/leadgen/internal/model"

// ComputeStats aggregates leads. The average score is rounded to one decimal.
func ComputeStats(leads []model.Lead) model.Stats {
	stats := model.Stats{TotalLeads: len(leads)}
	if len(leads) == 0 {
		return stats
	}
	var sum float64
	for _, l := range leads {
		sum += l.Score()
		if l.Priority() == model.PriorityHigh {
			stats.PriorityLeads++
		}
	}
	stats.AverageScore = round1(sum / float64(len(leads)))
	return stats
}
