package agentmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmem/agentmem/pkg/agentmem"
	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/retrieval"
)

func TestSearchAsyncSurfacesAuthorizationErrors(t *testing.T) {
	client, err := agentmem.New(testConfig())
	require.NoError(t, err)
	async := agentmem.NewAsync(client)
	defer async.Close()

	scope := domain.UserScope{AgentID: "assistant", UserID: "u1"}
	ch := async.SearchAsync(context.Background(), "unregistered", scope, retrieval.SearchQuery{Text: "q"})
	result := <-ch
	assert.Error(t, result.Error, "searching against an unregistered tenant must surface the authorization error over the channel")
	assert.Nil(t, result.Memories)
}

func TestDeleteAsyncSurfacesAuthorizationErrors(t *testing.T) {
	client, err := agentmem.New(testConfig())
	require.NoError(t, err)
	async := agentmem.NewAsync(client)
	defer async.Close()

	scope := domain.UserScope{AgentID: "assistant", UserID: "u1"}
	ch := async.DeleteAsync(context.Background(), "unregistered", scope, "some-id")
	err = <-ch
	assert.Error(t, err)
}

func TestAsyncWaitBlocksUntilAllOutstandingOpsFinish(t *testing.T) {
	client, err := agentmem.New(testConfig())
	require.NoError(t, err)
	async := agentmem.NewAsync(client)
	defer async.Close()

	scope := domain.UserScope{AgentID: "assistant", UserID: "u1"}
	chans := make([]<-chan *agentmem.SearchResult, 5)
	for i := range chans {
		chans[i] = async.SearchAsync(context.Background(), "unregistered", scope, retrieval.SearchQuery{Text: "q"})
	}
	async.Wait()

	for _, ch := range chans {
		result := <-ch
		assert.Error(t, result.Error)
	}
}
