// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package turn

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halodesk/halodesk/internal/provider"
	"github.com/halodesk/halodesk/internal/store"
)

// blockingCompleter holds every Complete call until released, so tests can
// force true overlap between concurrent generations.
type blockingCompleter struct {
	release chan struct{}
	calls   atomic.Int64
	text    string
	err     error
}

func (c *blockingCompleter) Complete(ctx context.Context, _ provider.CompletionRequest) (*provider.Completion, error) {
	c.calls.Add(1)
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return &provider.Completion{Text: c.text}, nil
}

func draftReq() DraftRequest {
	return DraftRequest{
		BusinessID:      "1",
		ThreadID:        "t1",
		SourceMessageID: "m1",
		Subject:         "Order delay",
		Body:            "Where is my order?",
	}
}

func TestDraftService_GeneratesAndCompletes(t *testing.T) {
	locks := store.NewMemoryDraftLockStore()
	comp := &blockingCompleter{text: "We apologize for the delay..."}
	svc, err := NewDraftService(locks, comp, nil)
	require.NoError(t, err)

	res, err := svc.Generate(context.Background(), draftReq())
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	assert.NotEmpty(t, res.DraftID)
	assert.Equal(t, "We apologize for the delay...", res.Text)

	// A second request for the same key gets the prior result's ID.
	res2, err := svc.Generate(context.Background(), draftReq())
	require.NoError(t, err)
	assert.False(t, res2.Acquired)
	assert.Equal(t, store.DraftReasonAlreadyExists, res2.Reason)
	assert.Equal(t, res.DraftID, res2.ExistingID)
	assert.EqualValues(t, 1, comp.calls.Load(), "the expensive generation must run once")
}

func TestDraftService_ConcurrentRequestsExactlyOneWins(t *testing.T) {
	locks := store.NewMemoryDraftLockStore()
	release := make(chan struct{})
	comp := &blockingCompleter{text: "draft", release: release}
	svc, err := NewDraftService(locks, comp, nil)
	require.NoError(t, err)

	const n = 8
	results := make([]*DraftResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, gerr := svc.Generate(context.Background(), draftReq())
			if gerr == nil {
				results[i] = res
			}
		}(i)
	}

	// Let the single winner's generation finish while the rest have
	// already been declined with a still-running signal.
	close(release)
	wg.Wait()

	winners := 0
	for _, res := range results {
		require.NotNil(t, res)
		if res.Acquired {
			winners++
		} else {
			assert.Equal(t, store.DraftReasonInProgress, res.Reason)
		}
	}
	assert.Equal(t, 1, winners)
	assert.EqualValues(t, 1, comp.calls.Load())
}

func TestDraftService_FailedGenerationReleasesKey(t *testing.T) {
	locks := store.NewMemoryDraftLockStore()
	comp := &blockingCompleter{err: assertAnError}
	svc, err := NewDraftService(locks, comp, nil)
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), draftReq())
	require.Error(t, err)

	// The key is retryable after a failure.
	comp.err = nil
	comp.text = "second try"
	res, err := svc.Generate(context.Background(), draftReq())
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	assert.Equal(t, "second try", res.Text)
}

func TestDraftService_ValidatesKey(t *testing.T) {
	locks := store.NewMemoryDraftLockStore()
	svc, err := NewDraftService(locks, &blockingCompleter{text: "x"}, nil)
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), DraftRequest{BusinessID: "1", ThreadID: "t1"})
	require.Error(t, err)
}
