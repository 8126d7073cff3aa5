package campaign

import (
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/zipcode"
)

// ExpandQueries turns a validated request into the queries to collect.
// Grid mode yields one query per zip code in the range; standard mode yields
// a single query scoped to the location.
func ExpandQueries(req model.CampaignRequest) ([]model.Query, error) {
	if req.Mode != model.ModeGrid {
		phrase := req.SearchQuery
		if req.Location != "" {
			phrase += " in " + req.Location
		}
		return []model.Query{{Phrase: phrase}}, nil
	}

	zips, err := zipcode.GenerateRange(req.ZipStart, req.ZipEnd)
	if err != nil {
		return nil, err
	}
	queries := make([]model.Query, len(zips))
	for i, z := range zips {
		queries[i] = model.Query{Phrase: req.SearchQuery, Zip: z}
	}
	return queries, nil
}

// partition splits queries into consecutive batches of at most size.
func partition(queries []model.Query, size int) [][]model.Query {
	size = max(size, 1)
	batches := make([][]model.Query, 0, (len(queries)+size-1)/size)
	for start := 0; start < len(queries); start += size {
		batches = append(batches, queries[start:min(start+size, len(queries))])
	}
	return batches
}
