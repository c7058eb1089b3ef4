package runtime

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"octopus/internal/bus"
	"octopus/internal/config"
	"octopus/internal/ipcproto"
	"octopus/internal/ipcserver"
	"octopus/internal/threadpool"
	"octopus/internal/vehicle"
)

func TestNewFailsWhenSerialPortMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Serial.Name = filepath.Join(t.TempDir(), "no-such-device")
	cfg.IPC.SocketPath = filepath.Join(t.TempDir(), "ipc_socket")

	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected an error opening a nonexistent serial device")
	}
}

func TestBusNotifierPublishesOnlyCarMessages(t *testing.T) {
	model := vehicle.NewModel()
	ipcSrv := ipcserver.New(filepath.Join(t.TempDir(), "ipc_socket"), model, nil)

	pool := threadpool.New(2, 16, threadpool.DropNewest)
	t.Cleanup(pool.Shutdown)
	b := bus.New(pool, 1)
	t.Cleanup(b.Shutdown)

	var mu sync.Mutex
	var received []bus.Message
	b.Subscribe("car", func(m bus.Message) {
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
	})

	n := &busNotifier{ipc: ipcSrv, bus: b}
	n.NotifyChange(ipcproto.MsgHelpStatus) // not a car group id, should not publish
	n.NotifyChange(ipcproto.MsgCarMeter)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected exactly 1 bus publish, got %d: %+v", len(received), received)
	}
	if received[0].Payload.(uint8) != ipcproto.MsgCarMeter {
		t.Errorf("expected payload MsgCarMeter, got %v", received[0].Payload)
	}
}
