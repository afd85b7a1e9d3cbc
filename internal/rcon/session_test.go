package rcon

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/warden/internal/domain"
)

func TestSession_FIFOAndSingleInFlight(t *testing.T) {
	gate := make(chan struct{})
	ft := &fakeTransport{
		handler: func(ctx context.Context, command string) (string, error) {
			if command == "hold" {
				<-gate
			}
			return "reply " + command, nil
		},
	}
	s := newSession(1, ft, 5*time.Second, nil)
	defer s.Close()

	go s.Execute(context.Background(), "hold")
	require.Eventually(t, func() bool { return len(ft.Sent()) == 1 }, time.Second, time.Millisecond)

	// Queue the callers one at a time so submission order is known
	const n = 20
	var wg sync.WaitGroup
	responses := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := s.Execute(context.Background(), fmt.Sprintf("cmd%02d", i))
			assert.NoError(t, err)
			responses[i] = resp
		}(i)
		require.Eventually(t, func() bool { return len(s.queue) == i+1 }, time.Second, time.Millisecond)
	}
	close(gate)
	wg.Wait()

	sent := ft.Sent()
	require.Len(t, sent, n+1)
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("cmd%02d", i), sent[i+1])
		assert.Equal(t, fmt.Sprintf("reply cmd%02d", i), responses[i])
	}
	assert.EqualValues(t, 1, ft.maxSeen.Load(), "more than one request was in flight")
}

func TestSession_ConcurrentCallersNeverOverlap(t *testing.T) {
	ft := &fakeTransport{
		handler: func(ctx context.Context, command string) (string, error) {
			time.Sleep(time.Millisecond)
			return command, nil
		},
	}
	s := newSession(1, ft, time.Second, nil)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := fmt.Sprintf("c%d", i)
			resp, err := s.Execute(context.Background(), cmd)
			assert.NoError(t, err)
			assert.Equal(t, cmd, resp)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, ft.maxSeen.Load())
	assert.Len(t, ft.Sent(), 50)
}

func TestSession_TimeoutTearsDown(t *testing.T) {
	ft := &fakeTransport{handler: blockUntilDone}
	broken := make(chan error, 1)
	s := newSession(7, ft, 50*time.Millisecond, func(_ *Session, err error) {
		broken <- err
	})

	start := time.Now()
	_, err := s.Execute(context.Background(), "kick 3")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCommandTimeout)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-broken:
	case <-time.After(time.Second):
		t.Fatal("session did not report itself broken")
	}
	assert.True(t, ft.closed.Load())

	_, err = s.Execute(context.Background(), "status")
	assert.ErrorIs(t, err, domain.ErrConnection)
}

func TestSession_QueuedRequestsFailOnTeardown(t *testing.T) {
	release := make(chan struct{})
	ft := &fakeTransport{
		handler: func(ctx context.Context, command string) (string, error) {
			if command == "first" {
				<-ctx.Done()
				return "", ctx.Err()
			}
			<-release
			return command, nil
		},
	}
	s := newSession(1, ft, 50*time.Millisecond, nil)
	defer close(release)

	errs := make(chan error, 2)
	go func() {
		_, err := s.Execute(context.Background(), "first")
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		_, err := s.Execute(context.Background(), "second")
		errs <- err
	}()

	var codes []domain.ErrorCode
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			codes = append(codes, domain.CodeOf(err))
		case <-time.After(time.Second):
			t.Fatal("caller was not released")
		}
	}
	assert.ElementsMatch(t, []domain.ErrorCode{domain.CodeCommandTimeout, domain.CodeConnection}, codes)
	assert.Equal(t, []string{"first"}, ft.Sent())
}

func TestSession_QueueExpiryKeepsSessionOpen(t *testing.T) {
	gate := make(chan struct{})
	ft := &fakeTransport{
		handler: func(ctx context.Context, command string) (string, error) {
			if command == "hold" {
				<-gate
			}
			return "reply " + command, nil
		},
	}
	broken := make(chan error, 1)
	s := newSession(1, ft, 5*time.Second, func(_ *Session, err error) { broken <- err })
	defer s.Close()

	held := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), "hold")
		held <- err
	}()
	require.Eventually(t, func() bool { return len(ft.Sent()) == 1 }, time.Second, time.Millisecond)

	impatient := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := s.Execute(ctx, "impatient")
		impatient <- err
	}()
	require.Eventually(t, func() bool { return len(s.queue) == 1 }, time.Second, time.Millisecond)

	type answer struct {
		resp string
		err  error
	}
	patient := make(chan answer, 1)
	go func() {
		resp, err := s.Execute(context.Background(), "patient")
		patient <- answer{resp, err}
	}()
	require.Eventually(t, func() bool { return len(s.queue) == 2 }, time.Second, time.Millisecond)

	select {
	case err := <-impatient:
		assert.ErrorIs(t, err, domain.ErrCommandTimeout)
	case <-time.After(time.Second):
		t.Fatal("queued caller did not give up")
	}
	close(gate)

	require.NoError(t, <-held)
	select {
	case got := <-patient:
		require.NoError(t, got.err)
		assert.Equal(t, "reply patient", got.resp)
	case <-time.After(time.Second):
		t.Fatal("patient caller was not answered")
	}

	assert.Equal(t, []string{"hold", "patient"}, ft.Sent())
	assert.False(t, ft.closed.Load())
	assert.True(t, s.Info().Authenticated)
	select {
	case err := <-broken:
		t.Fatalf("session reported broken: %v", err)
	default:
	}

	resp, err := s.Execute(context.Background(), "status")
	require.NoError(t, err)
	assert.Equal(t, "reply status", resp)
}

func TestSession_CloseRejectsNewWork(t *testing.T) {
	s := newSession(1, &fakeTransport{}, time.Second, nil)
	s.Close()

	_, err := s.Execute(context.Background(), "status")
	assert.ErrorIs(t, err, domain.ErrConnection)
	assert.False(t, s.Info().Authenticated)
}
