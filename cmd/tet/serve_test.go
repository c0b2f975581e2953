// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tetgame/tet/internal/observability"
)

type mockObservabilityServer struct {
	mock.Mock
}

func (m *mockObservabilityServer) Start() (<-chan error, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan error), args.Error(1)
}

func (m *mockObservabilityServer) Stop(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockObservabilityServer) Addr() string {
	return m.Called().String(0)
}

func TestServe_ObservabilityLifecycle(t *testing.T) {
	g := testGlobals()
	g.cfg.Metrics.Addr = "127.0.0.1:0"

	obs := &mockObservabilityServer{}
	errCh := make(chan error)
	obs.On("Start").Return((<-chan error)(errCh), nil).Once()
	obs.On("Stop", mock.Anything).Return(nil).Once()

	statusCh := make(chan observability.SessionStatus, 1)
	deps := &ServeDeps{
		ObservabilityServerFactory: func(addr string, status observability.SessionStatus) ObservabilityServer {
			assert.Equal(t, "127.0.0.1:0", addr)
			statusCh <- status
			return obs
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, g, &serveOptions{}, nil, io.Discard, deps) }()

	var status observability.SessionStatus
	select {
	case status = <-statusCh:
	case <-time.After(5 * time.Second):
		t.Fatal("observability server was not created")
	}
	ready := func() bool {
		_, ok := status()
		return ok
	}
	require.Eventually(t, ready, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	state, ok := status()
	assert.False(t, ok)
	assert.Equal(t, "uninitialized", state)
	obs.AssertExpectations(t)
}

func TestServe_ObservabilityStartFailure(t *testing.T) {
	g := testGlobals()
	g.cfg.Metrics.Addr = "127.0.0.1:0"

	obs := &mockObservabilityServer{}
	obs.On("Start").Return(nil, errors.New("address in use")).Once()

	deps := &ServeDeps{
		ObservabilityServerFactory: func(string, observability.SessionStatus) ObservabilityServer {
			return obs
		},
	}
	err := runServe(context.Background(), g, &serveOptions{}, nil, io.Discard, deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	obs.AssertExpectations(t)
	obs.AssertNotCalled(t, "Stop", mock.Anything)
}

func TestMonitorServerErrors(t *testing.T) {
	t.Run("cancels on error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		errCh <- errors.New("listener died")
		monitorServerErrors(ctx, cancel, errCh, "test")
		assert.Error(t, ctx.Err())
	})

	t.Run("closed channel is ignored", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error)
		close(errCh)
		monitorServerErrors(ctx, cancel, errCh, "test")
		assert.NoError(t, ctx.Err())
	})
}
