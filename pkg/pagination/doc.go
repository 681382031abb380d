// Package pagination provides the two fetch loops of the harvester.
//
// The API pages search results (has_more flag, page counter starting at 1)
// and accepts at most 100 ids per vectorized request. This package walks
// both shapes strictly sequentially: one outstanding request at a time, so
// the per-key quota and per-second ceiling are respected without any
// cross-request coordination. Pacing itself is done by the client's
// ratelimit.Policy.
//
// Example usage:
//
//	paginator := pagination.NewPaginator(client, pagination.DefaultConfig(), logger)
//	result, err := paginator.FetchAll(ctx, "go", fromDate, "stackoverflow")
//
//	fetcher := pagination.NewBatchFetcher(client, pagination.DefaultConfig(), logger)
//	batch := fetcher.FetchAnswers(ctx, result.IDs(), "stackoverflow")
//
// Failure semantics:
//   - The paginator aborts on the first failed page and returns what it has,
//     with Complete=false.
//   - The batch fetcher records a failed group and moves on to the next one.
package pagination
