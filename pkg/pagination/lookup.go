package pagination

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dataresearchcenter/datasets/pkg/record"
)

// Chunk splits ids into consecutive chunks of at most size ids.
func Chunk(ids []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[i:end])
	}
	return chunks
}

// SortIDs returns the distinct non-empty ids, numeric ids in numeric order
// before all others in lexical order.
func SortIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		a, aErr := strconv.ParseInt(out[i], 10, 64)
		b, bErr := strconv.ParseInt(out[j], 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// chunkResult is the outcome of one lookup chunk.
type chunkResult struct {
	index   int
	records []record.Record
	err     error
}

// LookupByIDs fetches the records with the given ids from endpoint. Ids are
// de-duplicated, sorted and chunked; chunks are collected by a bounded
// worker pool and concatenated in chunk order. The first error cancels the
// remaining chunks and is returned without partial data.
func (c *Collector) LookupByIDs(ctx context.Context, endpoint string, ids []string, query url.Values) ([]record.Record, error) {
	ids = SortIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() {
		lookupDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	chunks := Chunk(ids, c.config.ChunkSize)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunkQueue := make(chan int, len(chunks))
	for i := range chunks {
		chunkQueue <- i
	}
	close(chunkQueue)

	workers := c.config.MaxConcurrency
	if workers > len(chunks) {
		workers = len(chunks)
	}

	results := make(chan chunkResult, len(chunks))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go c.lookupWorker(ctx, endpoint, query, chunks, chunkQueue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([][]record.Record, len(chunks))
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			continue
		}
		ordered[res.index] = res.records
	}
	if firstErr != nil {
		c.logger.Warn().
			Err(firstErr).
			Str("endpoint", endpoint).
			Int("ids", len(ids)).
			Msg("Lookup failed")
		return nil, firstErr
	}

	var out []record.Record
	for _, recs := range ordered {
		out = append(out, recs...)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("ids", len(ids)).
		Int("chunks", len(chunks)).
		Int("records", len(out)).
		Dur("duration", time.Since(start)).
		Msg("Lookup complete")
	return out, nil
}

// lookupWorker processes chunks from the queue.
func (c *Collector) lookupWorker(ctx context.Context, endpoint string, query url.Values, chunks [][]string, queue <-chan int, results chan<- chunkResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for idx := range queue {
		if err := ctx.Err(); err != nil {
			results <- chunkResult{index: idx, err: err}
			return
		}

		q := cloneQuery(query)
		c.config.setIDs(q, chunks[idx])

		recs, err := c.CollectAll(ctx, endpoint, q)
		if err != nil {
			lookupChunks.WithLabelValues(endpoint, "error").Inc()
			results <- chunkResult{index: idx, err: err}
			return
		}
		lookupChunks.WithLabelValues(endpoint, "ok").Inc()
		results <- chunkResult{index: idx, records: recs}
		processed++
	}

	if processed > 0 {
		c.logger.Debug().
			Int("worker_id", workerID).
			Int("chunks_processed", processed).
			Msg("Worker completed")
	}
}

// Lookup binds endpoint and query into a lookup function for reference
// resolution.
func (c *Collector) Lookup(endpoint string, query url.Values) func(ctx context.Context, ids []string) ([]record.Record, error) {
	return func(ctx context.Context, ids []string) ([]record.Record, error) {
		return c.LookupByIDs(ctx, endpoint, ids, query)
	}
}
