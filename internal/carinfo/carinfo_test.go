package carinfo

import (
	"sync"
	"testing"

	"octopus/internal/msgqueue"
	"octopus/internal/ptl"
	"octopus/internal/vehicle"
)

type fakeTx struct {
	mu     sync.Mutex
	writes [][]byte
}

func (f *fakeTx) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), b...))
	return len(b), nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []uint8
}

func (n *fakeNotifier) NotifyChange(msgID uint8) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, msgID)
}

func TestInitRegistersAllThreeModules(t *testing.T) {
	model := vehicle.NewModel()
	p := ptl.New(&fakeTx{}, nil)
	ci := New(model, p, &fakeNotifier{}, nil)
	ci.Init()
	ci.AssertRun()

	p.PollOnce() // should not panic and should exercise all three send handlers
}

func TestRunDetectsSpeedChange(t *testing.T) {
	model := vehicle.NewModel()
	notifier := &fakeNotifier{}
	p := ptl.New(&fakeTx{}, nil)
	ci := New(model, p, notifier, nil)
	ci.Init()

	ci.Run() // establishes baseline, no notification expected

	model.SetMeter(vehicle.Meter{SpeedReal: 500})
	ci.Run()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.calls) == 0 {
		t.Fatal("expected a notification after speed change")
	}
}

func TestRunDetectsIndicatorChange(t *testing.T) {
	model := vehicle.NewModel()
	notifier := &fakeNotifier{}
	p := ptl.New(&fakeTx{}, nil)
	ci := New(model, p, notifier, nil)
	ci.Init()
	ci.Run()

	model.SetIndicator(vehicle.Indicator{HighBeam: true})
	ci.Run()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	found := false
	for _, c := range notifier.calls {
		if c == 100 { // ipcproto.MsgCarIndicator
			found = true
		}
	}
	if !found {
		t.Errorf("expected an indicator notification, got %v", notifier.calls)
	}
}

func TestChangePostsEmitRequestToPTLQueue(t *testing.T) {
	const ptlTask = 2

	model := vehicle.NewModel()
	p := ptl.New(&fakeTx{}, nil)
	ci := New(model, p, &fakeNotifier{}, nil)
	ci.Init()

	q := msgqueue.New(8)
	ci.AttachQueue(q, ptlTask)

	ci.Run() // baseline
	model.SetDrivetrain(vehicle.Drivetrain{Gear: vehicle.GearDrive2})
	ci.Run()

	var got msgqueue.Message
	for {
		m := q.Get(ptlTask)
		if m.ID == msgqueue.NoMsg {
			break
		}
		got = m
	}
	if got.ID != MsgEmitFrame {
		t.Fatalf("expected an emit-frame request in the PTL task queue, got %+v", got)
	}
	if ptl.FrameType(got.Param1) != ptl.Make(ptl.DirM2A, ptl.ModDrivInfo) {
		t.Errorf("expected drivetrain frame type, got %#x", got.Param1)
	}
	if uint8(got.Param2) != CmdDrivetrainGearMode {
		t.Errorf("expected gear/mode command, got %#x", got.Param2)
	}
}

func TestMeterSendHandlerRoundTripsThroughPTL(t *testing.T) {
	model := vehicle.NewModel()
	model.SetMeter(vehicle.Meter{SpeedReal: 200, RPM: vehicle.RPMOffset + 1000})
	tx := &fakeTx{}
	p := ptl.New(tx, nil)
	ci := New(model, p, &fakeNotifier{}, nil)
	ci.Init()
	ci.AssertRun()

	p.PollOnce()

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if len(tx.writes) == 0 {
		t.Fatal("expected at least one frame written by the poll")
	}
}
