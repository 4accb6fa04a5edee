package agentmem

import (
	"context"
	"sync"

	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/ingestion"
	"github.com/agentmem/agentmem/pkg/retrieval"
)

// AsyncClient wraps Client, running each operation in its own goroutine and
// returning the result over a channel, with Wait blocking until every
// outstanding operation has reported back.
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsync builds an AsyncClient from cfg.
func NewAsync(cfg *Client) *AsyncClient {
	return &AsyncClient{Client: cfg}
}

// AddResult is the outcome of an AddAsync call.
type AddResult struct {
	Result *ingestion.Result
	Error  error
}

// AddAsync runs Add in a goroutine.
func (ac *AsyncClient) AddAsync(ctx context.Context, tenantID string, scope domain.MemoryScope, messages interface{}) <-chan *AddResult {
	ch := make(chan *AddResult, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		result, err := ac.Add(ctx, tenantID, scope, messages)
		ch <- &AddResult{Result: result, Error: err}
		close(ch)
	}()
	return ch
}

// SearchResult is the outcome of a SearchAsync call.
type SearchResult struct {
	Memories []*domain.Memory
	Error    error
}

// SearchAsync runs Search in a goroutine.
func (ac *AsyncClient) SearchAsync(ctx context.Context, tenantID string, scope domain.MemoryScope, q retrieval.SearchQuery) <-chan *SearchResult {
	ch := make(chan *SearchResult, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		memories, err := ac.Search(ctx, tenantID, scope, q)
		ch <- &SearchResult{Memories: memories, Error: err}
		close(ch)
	}()
	return ch
}

// MemoryResult is the outcome of a Get/UpdateAsync call.
type MemoryResult struct {
	Memory *domain.Memory
	Error  error
}

// GetAsync runs Get in a goroutine.
func (ac *AsyncClient) GetAsync(ctx context.Context, tenantID string, scope domain.MemoryScope, id string) <-chan *MemoryResult {
	ch := make(chan *MemoryResult, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		mem, err := ac.Get(ctx, tenantID, scope, id)
		ch <- &MemoryResult{Memory: mem, Error: err}
		close(ch)
	}()
	return ch
}

// UpdateAsync runs Update in a goroutine.
func (ac *AsyncClient) UpdateAsync(ctx context.Context, tenantID string, scope domain.MemoryScope, id, content string) <-chan *MemoryResult {
	ch := make(chan *MemoryResult, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		mem, err := ac.Update(ctx, tenantID, scope, id, content)
		ch <- &MemoryResult{Memory: mem, Error: err}
		close(ch)
	}()
	return ch
}

// DeleteAsync runs Delete in a goroutine.
func (ac *AsyncClient) DeleteAsync(ctx context.Context, tenantID string, scope domain.MemoryScope, id string) <-chan error {
	ch := make(chan error, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		ch <- ac.Delete(ctx, tenantID, scope, id)
		close(ch)
	}()
	return ch
}

// Wait blocks until every goroutine started by an *Async method finishes.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for outstanding async operations, then closes the underlying
// Client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}
