// Package pagination collects every record of a paginated endpoint and
// resolves id sets through chunked, concurrent lookups.
//
// Three strategies are supported:
//
//   - offset: start/limit parameters ("range_start"/"range_end"), advancing
//     by the server-reported page size until total <= start + pageSize
//   - cursor: an opaque continuation value echoed back as a query parameter
//   - single: one request, no paging
//
// Response fields are located with JMESPath expressions, so that a
// response shaped like
//
//	{"meta": {"result": {"total": 250, "range_end": 100}}, "data": [...]}
//
// is described by Paths{Items: "data", Total: "meta.result.total",
// PageSize: "meta.result.range_end"}.
//
// Example usage:
//
//	collector, err := pagination.NewCollector(httpClient, pagination.DefaultConfig())
//	for rec, err := range collector.Collect(ctx, "/sidejobs", nil) {
//	    if err != nil {
//	        return err
//	    }
//	    ...
//	}
//
//	mandates, err := collector.LookupByIDs(ctx, "/candidacies-mandates", ids, nil)
//
// LookupByIDs sorts the ids, splits them into chunks of ChunkSize and hands
// the chunks to a pool of MaxConcurrency workers. Results are concatenated
// in chunk order. The first failing chunk cancels the others and the error
// is returned without partial data.
package pagination
