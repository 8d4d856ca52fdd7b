package game

import "sort"

// Ranking is one row of the end-of-race summary.
type Ranking struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Rank     int     `json:"rank"`
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
	Finished bool    `json:"finished"`
}

// SummaryStats aggregates finished players only. Zero when none finished.
type SummaryStats struct {
	AvgWPM      float64 `json:"avgWpm"`
	AvgAccuracy float64 `json:"avgAccuracy"`
	FinishRate  float64 `json:"finishRate"`
}

// Summary is emitted with game_finished.
type Summary struct {
	TotalTime       int64        `json:"totalTime"`
	Rankings        []Ranking    `json:"rankings"`
	Stats           SummaryStats `json:"stats"`
	ReplayAvailable bool         `json:"replayAvailable"`
}

// RankPlayers orders non-spectator players: higher position first; ties
// broken by earlier finish time, a set finish time beating an unset one;
// otherwise the incoming (join) order is preserved. Ranks are 1-based.
// Disconnected racers stay in the ranking with their last observed
// progress. Ranking is a pure function of the player list.
func RankPlayers(players []Player) []Ranking {
	ranked := make([]Player, 0, len(players))
	for _, p := range players {
		if p.IsSpectator {
			continue
		}
		ranked = append(ranked, p)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Position != b.Position {
			return a.Position > b.Position
		}
		switch {
		case a.FinishTime != nil && b.FinishTime != nil:
			return *a.FinishTime < *b.FinishTime
		case a.FinishTime != nil:
			return true
		default:
			return false
		}
	})

	out := make([]Ranking, len(ranked))
	for i, p := range ranked {
		out[i] = Ranking{
			ID:       p.ID,
			Name:     p.Name,
			Rank:     i + 1,
			WPM:      p.WPM,
			Accuracy: p.Accuracy,
			Finished: p.Position >= 100,
		}
	}
	return out
}

// BuildSummary computes the end-of-race summary from a finished race view.
func BuildSummary(v View) Summary {
	rankings := RankPlayers(v.Players)

	var stats SummaryStats
	finished := 0
	for _, r := range rankings {
		if r.Finished {
			finished++
			stats.AvgWPM += r.WPM
			stats.AvgAccuracy += r.Accuracy
		}
	}
	if finished > 0 {
		stats.AvgWPM /= float64(finished)
		stats.AvgAccuracy /= float64(finished)
	}
	if len(rankings) > 0 {
		stats.FinishRate = float64(finished) / float64(len(rankings))
	}

	return Summary{
		TotalTime:       v.EndTime - v.StartTime,
		Rankings:        rankings,
		Stats:           stats,
		ReplayAvailable: true,
	}
}
