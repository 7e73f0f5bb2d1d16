package scanner

import (
	"math"
	"sort"
	"time"
)

// Quote is the minimal live input: today's open against the previous
// close. Snapshots carry no bar history, so the MA filter does not
// apply here.
type Quote struct {
	Symbol    string
	Open      float64
	PrevClose float64
}

// ScanQuotes filters live quotes the same way Scan filters history,
// ordered by gap magnitude descending.
func ScanQuotes(quotes []Quote, at time.Time, params Params) ([]Candidate, error) {
	params = params.withDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}

	var hits []Candidate
	for _, q := range quotes {
		if q.Open <= 0 || q.PrevClose <= 0 {
			continue
		}
		gap := GapPercent(q.Open, q.PrevClose)
		switch params.Direction {
		case GapUp:
			if gap <= params.GapPct {
				continue
			}
		case GapDown:
			if gap >= -params.GapPct {
				continue
			}
		}
		cand := Candidate{
			Symbol:    q.Symbol,
			Date:      at,
			Open:      q.Open,
			PrevClose: q.PrevClose,
			GapPct:    gap,
		}
		if params.OrderDollarSize > 0 {
			cand.SuggestedQty = math.Floor(params.OrderDollarSize / q.Open)
		}
		hits = append(hits, cand)
	}

	sort.Slice(hits, func(i, j int) bool {
		gi, gj := math.Abs(hits[i].GapPct), math.Abs(hits[j].GapPct)
		if gi != gj {
			return gi > gj
		}
		return hits[i].Symbol < hits[j].Symbol
	})
	return hits, nil
}
