package ble

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAwaitConnectReturnsResult(t *testing.T) {
	got, err := awaitConnect(context.Background(), func() (string, error) {
		return "AA:01", nil
	}, func(string) {
		t.Error("drop called for a connect that finished in time")
	})
	if err != nil {
		t.Fatalf("awaitConnect() error = %v", err)
	}
	if got != "AA:01" {
		t.Errorf("awaitConnect() = %q, want %q", got, "AA:01")
	}
}

func TestAwaitConnectReturnsConnectError(t *testing.T) {
	want := errors.New("refused")
	_, err := awaitConnect(context.Background(), func() (string, error) {
		return "", want
	}, func(string) {})
	if !errors.Is(err, want) {
		t.Errorf("awaitConnect() error = %v, want %v", err, want)
	}
}

func TestAwaitConnectDropsLateConnection(t *testing.T) {
	release := make(chan struct{})
	dropped := make(chan string, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := awaitConnect(ctx, func() (string, error) {
		<-release
		return "AA:01", nil
	}, func(v string) {
		dropped <- v
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("awaitConnect() error = %v, want DeadlineExceeded", err)
	}

	close(release)
	select {
	case v := <-dropped:
		if v != "AA:01" {
			t.Errorf("dropped %q, want %q", v, "AA:01")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("late connection was not dropped")
	}
}

func TestAwaitConnectLateFailureIsNotDropped(t *testing.T) {
	release := make(chan struct{})
	connectDone := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := awaitConnect(ctx, func() (string, error) {
		<-release
		defer close(connectDone)
		return "", errors.New("timeout")
	}, func(string) {
		t.Error("drop called for a failed connect")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("awaitConnect() error = %v, want Canceled", err)
	}

	close(release)
	<-connectDone
	time.Sleep(20 * time.Millisecond)
}
