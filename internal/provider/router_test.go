// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hderr "github.com/halodesk/halodesk/pkg/errors"
)

type fakeCompleter struct {
	name      string
	available bool
	comp      *Completion
	err       error
	calls     int
}

func (f *fakeCompleter) Name() string                       { return f.name }
func (f *fakeCompleter) Available(context.Context) bool     { return f.available }
func (f *fakeCompleter) Close() error                       { return nil }
func (f *fakeCompleter) Complete(_ context.Context, _ CompletionRequest) (*Completion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.comp, nil
}

func TestRouter_RequiresAdapter(t *testing.T) {
	_, err := NewRouter(nil)
	require.Error(t, err)
	assert.Equal(t, hderr.CodeProviderNotFound, hderr.CodeOf(err))
}

func TestRouter_PrefersFirstAdapter(t *testing.T) {
	primary := &fakeCompleter{name: "primary", available: true, comp: &Completion{Text: "from primary"}}
	fallback := &fakeCompleter{name: "fallback", available: true, comp: &Completion{Text: "from fallback"}}

	r, err := NewRouter(nil, primary, fallback)
	require.NoError(t, err)

	comp, err := r.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from primary", comp.Text)
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, fallback.calls)
}

func TestRouter_FallsBackOnFailure(t *testing.T) {
	primary := &fakeCompleter{name: "primary", available: true, err: errors.New("boom")}
	fallback := &fakeCompleter{name: "fallback", available: true, comp: &Completion{Text: "from fallback"}}

	r, err := NewRouter(nil, primary, fallback)
	require.NoError(t, err)

	comp, err := r.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", comp.Text)

	// The failed primary is now inside its cooldown and skipped entirely.
	comp, err = r.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", comp.Text)
	assert.Equal(t, 1, primary.calls)
}

func TestRouter_AllFail(t *testing.T) {
	primary := &fakeCompleter{name: "primary", available: true, err: errors.New("boom")}
	fallback := &fakeCompleter{name: "fallback", available: true, err: errors.New("also boom")}

	r, err := NewRouter(nil, primary, fallback)
	require.NoError(t, err)

	_, err = r.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, hderr.CodeProviderUpstreamFailure, hderr.CodeOf(err))
}

func TestRouter_NoneAvailable(t *testing.T) {
	primary := &fakeCompleter{name: "primary", available: false}

	r, err := NewRouter(nil, primary)
	require.NoError(t, err)

	_, err = r.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, hderr.CodeProviderUnavailable, hderr.CodeOf(err))
	assert.Zero(t, primary.calls)
}

func TestRouter_SuccessRecoversHealth(t *testing.T) {
	primary := &fakeCompleter{name: "primary", available: true, err: errors.New("boom")}

	r, err := NewRouter(nil, primary)
	require.NoError(t, err)

	_, err = r.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.False(t, r.Tracker("primary").IsHealthy())

	r.Tracker("primary").RecordSuccess()
	primary.err = nil
	primary.comp = &Completion{Text: "recovered"}

	comp, err := r.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", comp.Text)
}
