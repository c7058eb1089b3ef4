// Package runtime wires every subsystem into one running service: the
// serial link, the PTL framer, the cooperative task scheduler, the vehicle
// data model, the CarInfo task, the IPC server, the message bus, and the
// optional datastore, diagnostics, and websocket bridges. Construction
// and graceful-shutdown ordering live here so cmd/octopusd stays a thin
// CLI shell.
package runtime

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"octopus/internal/bus"
	"octopus/internal/carinfo"
	"octopus/internal/config"
	"octopus/internal/datastore"
	"octopus/internal/diagnostics"
	"octopus/internal/ipcproto"
	"octopus/internal/ipcserver"
	"octopus/internal/msgqueue"
	"octopus/internal/ptl"
	"octopus/internal/serialport"
	"octopus/internal/taskmgr"
	"octopus/internal/threadpool"
	"octopus/internal/vehicle"
	"octopus/internal/wsbridge"
)

// The closed set of task ids. CarInfo owns the PTL module registry and its
// own AssertRun/PostRun running-set lifecycle; the PTL task drains its
// inter-task queue and drives the running-set poll each tick, so it is
// registered second and has no lifecycle of its own beyond Run. TaskIPC and
// TaskBLE address the socket server and a future BLE link; they are valid
// queue destinations but no cooperative task is registered under them here
// (the IPC server runs on its own accept/read threads).
const (
	TaskCarInfo taskmgr.ID = iota + 1
	TaskPTL
	TaskIPC
	TaskBLE
)

// snapshotInterval is how often a connected datastore receives a new
// vehicle snapshot; high-frequency enough for the InfluxDB time series
// without flooding it on every PTL frame.
const snapshotInterval = 1 * time.Second

// busNotifier fans a CarInfo change notification out to both the IPC
// server's subscribed clients and the in-process bus, so wsbridge and any
// other bus subscriber learn about a model change the same tick an IPC
// client does. It satisfies carinfo.Notifier.
type busNotifier struct {
	ipc *ipcserver.Server
	bus *bus.Bus
}

func (n *busNotifier) NotifyChange(msgID uint8) {
	n.ipc.NotifyChange(msgID)
	if n.bus == nil {
		return
	}
	var group bus.Group
	switch msgID {
	case ipcproto.MsgCarMeter, ipcproto.MsgCarIndicator, ipcproto.MsgCarDrivetrain:
		group = wsbridge.BusGroup
	default:
		return
	}
	n.bus.Publish(bus.Message{Group: group, Payload: msgID})
}

// Runtime owns every long-lived subsystem and their lifecycle. Zero value
// is not usable; build one with New.
type Runtime struct {
	Config *config.Config
	Logger *log.Logger

	Port    *serialport.Port
	PTL     *ptl.PTL
	Model   *vehicle.Model
	TaskMgr *taskmgr.Manager
	CarInfo *carinfo.CarInfo
	Queues  *msgqueue.Queues

	Pool      *threadpool.Pool
	Bus       *bus.Bus
	IPCServer *ipcserver.Server

	Store       datastore.Store
	Diagnostics *diagnostics.Bridge
	WS          *wsbridge.Bridge

	httpServer *http.Server
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// New builds a Runtime from cfg but does not start it; call Run to start
// the serial link, task scheduler, and optional bridges.
func New(cfg *config.Config, logger *log.Logger) (*Runtime, error) {
	if logger == nil {
		logger = log.Default()
	}

	port, err := serialport.Open(cfg.GetSerialConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("runtime: open serial port: %w", err)
	}

	p := ptl.New(port, logger)
	if cfg.PTL.SOF != 0 {
		p.SOF = byte(cfg.PTL.SOF)
	}
	p.AcksEnabled = cfg.PTL.AcksEnabled

	model := vehicle.NewModel()

	socketPath := cfg.IPC.SocketPath
	if socketPath == "" {
		socketPath = "/tmp/octopus/ipc_socket"
	}
	ipcSrv := ipcserver.New(socketPath, model, logger)

	pool := threadpool.New(4, 256, threadpool.DropOldest)
	msgBus := bus.New(pool, 1)

	queues := msgqueue.New(0)
	ci := carinfo.New(model, p, &busNotifier{ipc: ipcSrv, bus: msgBus}, logger)
	ci.AttachQueue(queues, int(TaskPTL))

	tick := time.Duration(cfg.Task.TickMs) * time.Millisecond
	tm := taskmgr.NewManager(tick, logger)
	tm.Register(TaskCarInfo, "carinfo", taskmgr.Callbacks{
		Init:      ci.Init,
		AssertRun: ci.AssertRun,
		Run:       ci.Run,
		PostRun:   ci.PostRun,
	})
	tm.Register(TaskPTL, "ptl", taskmgr.Callbacks{
		Run: func() {
			for {
				m := queues.Get(int(TaskPTL))
				if m.ID == msgqueue.NoMsg {
					break
				}
				if m.ID == carinfo.MsgEmitFrame {
					p.SendNow(ptl.FrameType(m.Param1), uint8(m.Param2))
				}
			}
			p.PollOnce()
		},
	})

	rt := &Runtime{
		Config:    cfg,
		Logger:    logger,
		Port:      port,
		PTL:       p,
		Model:     model,
		TaskMgr:   tm,
		CarInfo:   ci,
		Queues:    queues,
		Pool:      pool,
		Bus:       msgBus,
		IPCServer: ipcSrv,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	if cfg.Datastore.InfluxDB.URL != "" || cfg.Datastore.SQLite.Path != "" {
		store, err := datastore.NewStore(&datastore.Config{
			SQLitePath:     cfg.Datastore.SQLite.Path,
			InfluxDBURL:    cfg.Datastore.InfluxDB.URL,
			InfluxDBOrg:    cfg.Datastore.InfluxDB.Org,
			InfluxDBToken:  cfg.Datastore.InfluxDB.Token,
			InfluxDBBucket: cfg.Datastore.InfluxDB.Bucket,
		})
		if err != nil {
			logger.Printf("runtime: datastore unavailable, snapshots will not persist: %v", err)
		} else {
			rt.Store = store
		}
	}

	if cfg.Diagnostics.Enabled {
		br, err := diagnostics.NewBridge(cfg.Diagnostics.CANIface, cfg.Diagnostics.OBDAddress, msgBus, logger)
		if err != nil {
			logger.Printf("runtime: diagnostics bridge disabled: %v", err)
		} else {
			rt.Diagnostics = br
			ipcSrv.SetDiagProvider(br)
			msgBus.Subscribe(diagnostics.BusGroup, func(bus.Message) { ipcSrv.NotifyDiagnostics() })
		}
	}

	if cfg.WSBridge.Enabled {
		rt.WS = wsbridge.New(model, logger)
		rt.WS.SubscribeTo(msgBus)
	}

	return rt, nil
}

// Run starts the serial receive loop, the IPC server, the task scheduler,
// and any enabled bridges, then blocks until ctx is canceled or Stop is
// called. It always returns after a full, ordered shutdown.
func (rt *Runtime) Run(ctx context.Context) error {
	defer close(rt.doneCh)

	rt.Port.StartReceiving(rt.PTL.Feed)

	if err := rt.IPCServer.Start(); err != nil {
		return fmt.Errorf("runtime: start IPC server: %w", err)
	}

	if rt.Diagnostics != nil {
		go rt.Diagnostics.Run(1 * time.Second)
	}

	if rt.Store != nil {
		go rt.snapshotLoop(ctx)
	}

	if rt.WS != nil {
		rt.startWSServer()
	}

	rt.TaskMgr.Run(ctx)

	select {
	case <-rt.stopCh:
	default:
		close(rt.stopCh)
	}
	rt.teardown()
	return nil
}

func (rt *Runtime) startWSServer() {
	addr := fmt.Sprintf("%s:%d", rt.Config.WSBridge.Host, rt.Config.WSBridge.Port)
	rt.httpServer = &http.Server{Addr: addr, Handler: rt.WS.Router("")}
	go func() {
		if err := rt.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rt.Logger.Printf("runtime: websocket bridge stopped: %v", err)
		}
	}()
}

func (rt *Runtime) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rt.stopCh:
			return
		case <-ticker.C:
			snap := datastore.Snapshot{
				Timestamp:  time.Now(),
				Meter:      rt.Model.Meter(),
				Indicator:  rt.Model.Indicator(),
				Drivetrain: rt.Model.Drivetrain(),
			}
			if err := rt.Store.SaveSnapshot(snap); err != nil {
				rt.Logger.Printf("runtime: save snapshot: %v", err)
			}
		}
	}
}

// Stop requests an orderly shutdown and blocks until Run has returned.
func (rt *Runtime) Stop() {
	select {
	case <-rt.stopCh:
	default:
		close(rt.stopCh)
	}
	rt.TaskMgr.Stop()
	<-rt.doneCh
}

func (rt *Runtime) teardown() {
	if rt.httpServer != nil {
		_ = rt.httpServer.Close()
	}
	if rt.Diagnostics != nil {
		rt.Diagnostics.Stop()
	}
	rt.IPCServer.Stop()
	if err := rt.Port.Close(); err != nil {
		rt.Logger.Printf("runtime: close serial port: %v", err)
	}
	rt.Bus.Shutdown()
	rt.Pool.Shutdown()
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			rt.Logger.Printf("runtime: close datastore: %v", err)
		}
	}
}
