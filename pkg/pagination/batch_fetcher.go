package pagination

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BatchConfig holds batch fetcher configuration
type BatchConfig struct {
	// MaxConcurrency is the maximum number of parallel page requests
	MaxConcurrency int
}

// DefaultBatchConfig returns the default batch configuration
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxConcurrency: 4,
	}
}

// PageResult represents the result of fetching a single page
type PageResult[T any] struct {
	PageNumber int
	Page       Page[T]
	Error      error
}

// BatchFetcher fetches a set of pages in parallel using a bounded worker pool.
// Every page handed to a worker is fetched to completion; there is no
// cancellation once a request is dispatched.
type BatchFetcher[T any] struct {
	fetch  FetchFunc[T]
	config BatchConfig
	logger zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher[T any](fetch FetchFunc[T], config BatchConfig, logger zerolog.Logger) *BatchFetcher[T] {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultBatchConfig().MaxConcurrency
	}

	return &BatchFetcher[T]{
		fetch:  fetch,
		config: config,
		logger: logger,
	}
}

// FetchPages fetches every page in pages with the page size and arguments of
// base. onResult is called once per completed page, sequentially, from the
// calling goroutine. The first error in page order is returned after all
// dispatched fetches have completed.
func (bf *BatchFetcher[T]) FetchPages(ctx context.Context, base FetchRequest, pages []int, onResult func(PageResult[T])) error {
	if len(pages) == 0 {
		return nil
	}
	start := time.Now()

	// Single page optimization
	if len(pages) == 1 {
		result := bf.fetchOne(ctx, base, pages[0])
		onResult(result)
		bf.logger.Debug().
			Int("page", pages[0]).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return result.Error
	}

	workers := min(bf.config.MaxConcurrency, len(pages))

	pageQueue := make(chan int, len(pages))
	for _, page := range pages {
		pageQueue <- page
	}
	close(pageQueue)

	pageResults := make(chan PageResult[T], len(pages))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, base, pageQueue, pageResults, &wg, i)
	}

	go func() {
		wg.Wait()
		close(pageResults)
	}()

	var firstErr error
	firstErrPage := 0
	fetched := 0
	for result := range pageResults {
		onResult(result)
		if result.Error != nil {
			if firstErr == nil || result.PageNumber < firstErrPage {
				firstErr = result.Error
				firstErrPage = result.PageNumber
			}
			continue
		}
		fetched++
	}

	if firstErr != nil {
		bf.logger.Warn().
			Err(firstErr).
			Int("fetched_pages", fetched).
			Int("total_pages", len(pages)).
			Msg("Batch finished with errors")
		return firstErr
	}

	bf.logger.Debug().
		Int("pages", fetched).
		Int("workers", workers).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return nil
}

// worker processes pages from the queue
func (bf *BatchFetcher[T]) worker(ctx context.Context, base FetchRequest, pageQueue <-chan int, results chan<- PageResult[T], wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for pageNum := range pageQueue {
		// Pages not yet dispatched are reported as cancelled.
		if err := ctx.Err(); err != nil {
			results <- PageResult[T]{PageNumber: pageNum, Error: err}
			continue
		}

		results <- bf.fetchOne(ctx, base, pageNum)
		pagesProcessed++
	}

	if pagesProcessed > 0 {
		bf.logger.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}

func (bf *BatchFetcher[T]) fetchOne(ctx context.Context, base FetchRequest, pageNum int) PageResult[T] {
	req := base
	req.Page = pageNum
	page, err := bf.fetch(ctx, req)
	return PageResult[T]{
		PageNumber: pageNum,
		Page:       page,
		Error:      err,
	}
}
