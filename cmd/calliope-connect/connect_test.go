package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/calliope-connect/internal/ble"
	"github.com/chaz8081/calliope-connect/internal/ble/bletest"
	"github.com/chaz8081/calliope-connect/internal/ble/protocol"
	"github.com/chaz8081/calliope-connect/internal/calliope"
	"github.com/chaz8081/calliope-connect/internal/connection"
)

func newTestPanel(t *testing.T, adapter ble.Adapter, scanTimeout time.Duration) *connection.Panel {
	t.Helper()
	opts := calliope.Options{
		ScanTimeout:       scanTimeout,
		ConnectTimeout:    time.Second,
		EvaluateTimeout:   time.Second,
		RadioPollInterval: 10 * time.Millisecond,
	}
	factory := func(p calliope.Profile) *calliope.Discovery {
		return calliope.NewDiscovery(adapter, p, opts)
	}
	p := connection.NewPanel(factory, calliope.PlaygroundProfile{}, connection.Options{RestartDelay: 20 * time.Millisecond})
	t.Cleanup(p.Close)
	return p
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunConnect(t *testing.T) {
	adapter := bletest.NewAdapter(bletest.Board("zuzut", "AA:01"), bletest.Board("zavit", "AA:02"))
	p := newTestPanel(t, adapter, 10*time.Second)

	var out bytes.Buffer
	err := runConnect(testContext(t), p, "ZUZUT", false, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Connected to zuzut (playground)")
	assert.Equal(t, 1, adapter.ConnectCount("AA:01"))
	assert.Equal(t, 0, adapter.ConnectCount("AA:02"))
	assert.Equal(t, connection.ButtonReadyToPlay, p.View().Button)
}

func TestRunConnectFreeFormName(t *testing.T) {
	adapter := bletest.NewAdapter(bletest.Board("abc", "AA:01"))
	p := newTestPanel(t, adapter, 10*time.Second)

	var out bytes.Buffer
	require.NoError(t, runConnect(testContext(t), p, "abc", false, &out))
	assert.Contains(t, out.String(), "Connected to abc")
}

func TestRunConnectNotFound(t *testing.T) {
	adapter := bletest.NewAdapter(bletest.Board("zavit", "AA:02"))
	p := newTestPanel(t, adapter, 50*time.Millisecond)

	err := runConnect(testContext(t), p, "zuzut", false, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRunConnectWrongProgram(t *testing.T) {
	board := bletest.Board("zuzut", "AA:01")
	board.Services = bletest.ApplicationServices()
	p := newTestPanel(t, bletest.NewAdapter(board), 10*time.Second)

	err := runConnect(testContext(t), p, "zuzut", false, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not run the playground program")
}

func TestRunConnectResetsWrongProgram(t *testing.T) {
	board := bletest.Board("zuzut", "AA:01")
	board.Services = bletest.ApplicationServices()
	board.AfterReset = &bletest.Peripheral{
		Services: bletest.PlaygroundServices(),
		Status:   &protocol.Status{Version: 1, Mode: protocol.ModePairing},
	}
	adapter := bletest.NewAdapter(board)
	p := newTestPanel(t, adapter, 10*time.Second)

	var out bytes.Buffer
	require.NoError(t, runConnect(testContext(t), p, "zuzut", true, &out))

	assert.Contains(t, out.String(), "resetting into Bluetooth mode")
	assert.Contains(t, out.String(), "Connected to zuzut")
	assert.Equal(t, 2, adapter.ConnectCount("AA:01"))
}

func TestRunConnectFailureAlert(t *testing.T) {
	board := bletest.Board("zuzut", "AA:01")
	board.ConnectErr = errors.New("link lost")
	p := newTestPanel(t, bletest.NewAdapter(board), 10*time.Second)

	err := runConnect(testContext(t), p, "zuzut", false, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link lost")
}

func TestRunConnectContextCancelled(t *testing.T) {
	adapter := bletest.NewAdapter(bletest.Board("zuzut", "AA:01"))
	adapter.SetAutoAdvertise(false)
	p := newTestPanel(t, adapter, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := runConnect(ctx, p, "zuzut", false, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPrintBoards(t *testing.T) {
	var out bytes.Buffer
	printBoards(&out, []ble.Advertisement{
		{Name: "Calliope mini [zuzut]", Address: "AA:01", RSSI: -60},
		{Name: "BBC micro:bit [abc]", Address: "AA:02", RSSI: -70},
	})

	s := out.String()
	assert.Contains(t, s, "zuzut")
	assert.Contains(t, s, "AA:01")
	assert.Contains(t, s, "-60 dBm")
	assert.Contains(t, s, "  ....#\n  ....#\n", "pattern printed for valid names")
	assert.Contains(t, s, "  #####\n")
	assert.Contains(t, s, "abc")
}

func TestPrintBoardsEmpty(t *testing.T) {
	var out bytes.Buffer
	printBoards(&out, nil)
	assert.Equal(t, "No Calliope mini found.\n", out.String())
}
