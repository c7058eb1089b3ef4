// Package carinfo implements the CarInfo task: it registers
// meter/indicator/drivetrain handlers with the PTL, drives the
// request-running/release-running lifecycle from the task manager's
// AssertRun/PostRun edges, polls the model for changes each Run tick,
// posts outbound frame requests to the PTL task, and notifies the IPC
// layer when the model mutates.
package carinfo

import (
	"log"

	"octopus/internal/ipcproto"
	"octopus/internal/msgqueue"
	"octopus/internal/ptl"
	"octopus/internal/vehicle"
)

// Commands within the meter/indicator/drivetrain frame types.
const (
	CmdMeterRPMSpeed uint8 = 0x01
	CmdMeterSoC      uint8 = 0x02

	CmdIndicatorLamps uint8 = 0x01

	CmdDrivetrainGearMode uint8 = 0x01
)

// MsgEmitFrame asks the PTL task to transmit one outbound frame: Param1
// carries the frame type, Param2 the command.
const MsgEmitFrame msgqueue.MsgID = 1

// Notifier is the IPC-side fan-out trigger; satisfied by ipcserver.Server.
type Notifier interface {
	NotifyChange(msgID uint8)
}

// CarInfo owns the SoC estimator and change-detection state for one
// vehicle model, and wires itself into a PTL instance's module registry.
type CarInfo struct {
	Logger   *log.Logger
	Model    *vehicle.Model
	PTL      *ptl.PTL
	Notifier Notifier

	soc SoCEstimator

	queues  *msgqueue.Queues
	ptlTask int

	lastIndicator  vehicle.Indicator
	lastDrivetrain vehicle.Drivetrain
	lastSpeed      uint16
	haveBaseline   bool
}

// New creates a CarInfo task bound to model, transmitting/receiving over p
// and notifying n on model changes.
func New(model *vehicle.Model, p *ptl.PTL, n Notifier, logger *log.Logger) *CarInfo {
	if logger == nil {
		logger = log.Default()
	}
	return &CarInfo{Logger: logger, Model: model, PTL: p, Notifier: n}
}

// AttachQueue wires the inter-task queue CarInfo posts change-driven frame
// requests into, addressed to the PTL task's id. Without a queue attached,
// changes still fan out over IPC but no outbound frame request is posted.
func (ci *CarInfo) AttachQueue(q *msgqueue.Queues, ptlTask int) {
	ci.queues = q
	ci.ptlTask = ptlTask
}

// Init registers the three module handlers with the PTL, plus an ack sink
// for each module's A2M frame type: A2M frames are acks and leave the
// model untouched.
func (ci *CarInfo) Init() {
	ci.PTL.Register(ptl.Make(ptl.DirM2A, ptl.ModMeter), ci.sendMeter, ci.recvMeter)
	ci.PTL.Register(ptl.Make(ptl.DirM2A, ptl.ModIndicator), ci.sendIndicator, ci.recvIndicator)
	ci.PTL.Register(ptl.Make(ptl.DirM2A, ptl.ModDrivInfo), ci.sendDrivetrain, ci.recvDrivetrain)

	ackSink := func([]byte, *[]byte) bool { return true }
	ci.PTL.Register(ptl.Make(ptl.DirA2M, ptl.ModMeter), nil, ackSink)
	ci.PTL.Register(ptl.Make(ptl.DirA2M, ptl.ModIndicator), nil, ackSink)
	ci.PTL.Register(ptl.Make(ptl.DirA2M, ptl.ModDrivInfo), nil, ackSink)
}

// AssertRun requests polling for all three modules.
func (ci *CarInfo) AssertRun() {
	ci.PTL.RequestRunning(ptl.Make(ptl.DirM2A, ptl.ModMeter))
	ci.PTL.RequestRunning(ptl.Make(ptl.DirM2A, ptl.ModIndicator))
	ci.PTL.RequestRunning(ptl.Make(ptl.DirM2A, ptl.ModDrivInfo))
}

// PostRun releases the polling requests.
func (ci *CarInfo) PostRun() {
	ci.PTL.ReleaseRunning(ptl.Make(ptl.DirM2A, ptl.ModMeter))
	ci.PTL.ReleaseRunning(ptl.Make(ptl.DirM2A, ptl.ModIndicator))
	ci.PTL.ReleaseRunning(ptl.Make(ptl.DirM2A, ptl.ModDrivInfo))
}

// Run refreshes the derived meter fields (SoC, displayed speed), then
// diffs the model against the previous tick: any change in speed,
// indicator bits, or gear/mode posts an outbound frame request to the PTL
// task and notifies the IPC layer.
func (ci *CarInfo) Run() {
	meter := ci.Model.Meter()
	meter.SoC = ci.soc.Estimate(meter.VoltageSystem, meter.Voltage)
	meter.Speed = meter.DisplaySpeed()
	ci.Model.SetMeter(meter)

	if !ci.haveBaseline {
		ci.lastIndicator = ci.Model.Indicator()
		ci.lastDrivetrain = ci.Model.Drivetrain()
		ci.lastSpeed = meter.Speed
		ci.haveBaseline = true
		return
	}

	if meter.Speed != ci.lastSpeed {
		ci.lastSpeed = meter.Speed
		ci.postEmit(ptl.Make(ptl.DirM2A, ptl.ModMeter), CmdMeterRPMSpeed)
		ci.notify(ipcproto.MsgCarMeter)
	}

	indicator := ci.Model.Indicator()
	if indicator != ci.lastIndicator {
		ci.lastIndicator = indicator
		ci.postEmit(ptl.Make(ptl.DirM2A, ptl.ModIndicator), CmdIndicatorLamps)
		ci.notify(ipcproto.MsgCarIndicator)
	}

	drivetrain := ci.Model.Drivetrain()
	if drivetrain != ci.lastDrivetrain {
		ci.lastDrivetrain = drivetrain
		ci.postEmit(ptl.Make(ptl.DirM2A, ptl.ModDrivInfo), CmdDrivetrainGearMode)
		ci.notify(ipcproto.MsgCarDrivetrain)
	}
}

// postEmit asks the PTL task to transmit the frame reflecting a detected
// change. A full queue drops the request; the periodic running-set poll
// carries the same state on its next tick anyway.
func (ci *CarInfo) postEmit(ft ptl.FrameType, cmd uint8) {
	if ci.queues == nil {
		return
	}
	if !ci.queues.Send(ci.ptlTask, MsgEmitFrame, uint16(ft), uint16(cmd)) {
		ci.Logger.Printf("carinfo: ptl task queue full, frame request dropped")
	}
}

func (ci *CarInfo) notify(msgID uint8) {
	if ci.Notifier != nil {
		ci.Notifier.NotifyChange(msgID)
	}
}

// The send handlers answer cmd 0, the PTL's bare running-set poll, with
// the same data as their primary command.

func (ci *CarInfo) sendMeter(cmd uint8) ([]byte, bool) {
	m := ci.Model.Meter()
	switch cmd {
	case 0, CmdMeterRPMSpeed:
		return []byte{byte(m.SpeedReal >> 8), byte(m.SpeedReal), byte(m.RPM >> 8), byte(m.RPM)}, true
	case CmdMeterSoC:
		return []byte{m.SoC, byte(m.Voltage >> 8), byte(m.Voltage), byte(uint16(m.Current) >> 8), byte(uint16(m.Current)), m.VoltageSystem}, true
	default:
		return nil, false
	}
}

func (ci *CarInfo) recvMeter(payload []byte, ackOut *[]byte) bool {
	if len(payload) < 2 {
		return false
	}
	m := ci.Model.Meter()
	switch len(payload) {
	case 4:
		m.SpeedReal = uint16(payload[0])<<8 | uint16(payload[1])
		m.RPM = uint16(payload[2])<<8 | uint16(payload[3])
	case 6:
		m.SoC = payload[0]
		m.Voltage = uint16(payload[1])<<8 | uint16(payload[2])
		m.Current = int16(uint16(payload[3])<<8 | uint16(payload[4]))
		m.VoltageSystem = payload[5]
	default:
		return false
	}
	ci.Model.SetMeter(m)
	return true
}

func (ci *CarInfo) sendIndicator(cmd uint8) ([]byte, bool) {
	if cmd != 0 && cmd != CmdIndicatorLamps {
		return nil, false
	}
	return vehicle.EncodeIndicator(ci.Model.Indicator()), true
}

func (ci *CarInfo) recvIndicator(payload []byte, ackOut *[]byte) bool {
	if len(payload) < 2 {
		return false
	}
	ci.Model.SetIndicator(vehicle.DecodeIndicator(payload))
	return true
}

func (ci *CarInfo) sendDrivetrain(cmd uint8) ([]byte, bool) {
	if cmd != 0 && cmd != CmdDrivetrainGearMode {
		return nil, false
	}
	return vehicle.EncodeDrivetrain(ci.Model.Drivetrain()), true
}

func (ci *CarInfo) recvDrivetrain(payload []byte, ackOut *[]byte) bool {
	if len(payload) < 2 {
		return false
	}
	ci.Model.SetDrivetrain(vehicle.DecodeDrivetrain(payload))
	return true
}
