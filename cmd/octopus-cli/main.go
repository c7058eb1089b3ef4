// Command octopus-cli is a thin UI-side consumer of octopusd's IPC
// socket: it connects, subscribes, requests an initial snapshot of each
// CAR-group record, and prints every subsequent push as it arrives. It
// stands in for the higher-level display application: a small flag-driven
// CLI over internal/ipcclient, which owns the real protocol logic.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"octopus/internal/config"
	"octopus/internal/ipcclient"
	"octopus/internal/ipcproto"
	"octopus/internal/threadpool"
	"octopus/internal/vehicle"
)

func main() {
	var (
		socketPath string
		serverExec string
		identity   string
		formatJSON bool
	)

	flag.StringVar(&socketPath, "socket", "", "Path to the octopusd IPC socket (defaults to config.yaml's ipc.socketPath)")
	flag.StringVar(&serverExec, "server", "", "octopusd executable to spawn if no server is listening")
	flag.StringVar(&identity, "identity", "octopus-cli", "Remote identity string to register with the server")
	flag.BoolVar(&formatJSON, "json", false, "Print received snapshots as JSON instead of a short summary line")
	flag.Parse()

	if socketPath == "" {
		cfg := config.Default()
		socketPath = cfg.IPC.SocketPath
	}

	logger := log.New(os.Stdout, "[octopus-cli] ", log.LstdFlags)

	pool := threadpool.New(2, 32, threadpool.DropOldest)
	defer pool.Shutdown()

	client := ipcclient.New(socketPath, pool, logger)
	client.ServerExec = serverExec
	client.Register("print", func(msg ipcproto.Message) { printSnapshot(msg, formatJSON) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("shutting down")
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Run(ctx)
	}()

	// Give the reconnect loop a moment to establish its first connection
	// before sending the subscribe/identify/snapshot burst.
	time.Sleep(150 * time.Millisecond)
	subscribe(client, identity)

	<-done
	client.Stop()
}

func subscribe(client *ipcclient.Client, identity string) {
	_ = client.Send(ipcproto.Message{
		Group: ipcproto.GroupSet,
		MsgID: ipcproto.MsgSetIdentity,
		Data:  []byte(identity),
	})
	_ = client.Send(ipcproto.Message{
		Group: ipcproto.GroupSet,
		MsgID: ipcproto.MsgSetSubscription,
		Data:  []byte{0, 1},
	})
	for _, msgID := range []uint8{ipcproto.MsgCarMeter, ipcproto.MsgCarIndicator, ipcproto.MsgCarDrivetrain} {
		_ = client.Send(ipcproto.Message{Group: ipcproto.GroupCar, MsgID: msgID})
	}
}

func printSnapshot(msg ipcproto.Message, formatJSON bool) {
	switch msg.MsgID {
	case ipcproto.MsgCarMeter:
		m := vehicle.DecodeMeter(msg.Data)
		emit(formatJSON, m, fmt.Sprintf("meter: speed=%.1fkm/h rpm=%d soc=%d%%", float64(m.Speed)/10, m.DisplayRPM(), m.SoC))
	case ipcproto.MsgCarIndicator:
		i := vehicle.DecodeIndicator(msg.Data)
		emit(formatJSON, i, fmt.Sprintf("indicator: ready=%v charge=%v leftTurn=%v rightTurn=%v", i.Ready, i.Charge, i.LeftTurn, i.RightTurn))
	case ipcproto.MsgCarDrivetrain:
		d := vehicle.DecodeDrivetrain(msg.Data)
		emit(formatJSON, d, fmt.Sprintf("drivetrain: gear=%d mode=%d", d.Gear, d.DriveMode))
	}
}

func emit(formatJSON bool, v interface{}, line string) {
	if formatJSON {
		b, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Println(string(b))
		return
	}
	fmt.Println(line)
}
