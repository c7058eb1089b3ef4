// Package wsbridge is the optional browser-facing telemetry bridge: it
// subscribes to the message bus and fans out JSON vehicle snapshots over
// a websocket.
package wsbridge

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"octopus/internal/bus"
	"octopus/internal/vehicle"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// BusGroup is the message-bus group a Bridge subscribes to for snapshot
// updates. The runtime publishes here whenever CarInfo notifies a change.
const BusGroup bus.Group = "car"

// Telemetry is the JSON shape pushed to every connected browser client.
type Telemetry struct {
	Meter      vehicle.Meter      `json:"meter"`
	Indicator  vehicle.Indicator  `json:"indicator"`
	Drivetrain vehicle.Drivetrain `json:"drivetrain"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Bridge owns the websocket client set and the HTTP router serving /ws.
type Bridge struct {
	Logger *log.Logger
	Model  *vehicle.Model

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	subToken bus.Token
}

// New creates a Bridge reading snapshots from model.
func New(model *vehicle.Model, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	return &Bridge{
		Logger:  logger,
		Model:   model,
		clients: make(map[*websocket.Conn]bool),
	}
}

// Router returns an http.Handler serving /ws and, when staticDir is set,
// a static file root.
func (b *Bridge) Router(staticDir string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", b.handleWS)
	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}

func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.Logger.Printf("wsbridge: upgrade error: %v", err)
		return
	}

	b.mu.Lock()
	b.clients[ws] = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, ws)
		b.mu.Unlock()
		ws.Close()
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

// Broadcast marshals the current model snapshot and sends it to every
// connected client, dropping any client whose write fails.
func (b *Bridge) Broadcast() {
	payload, err := json.Marshal(Telemetry{
		Meter:      b.Model.Meter(),
		Indicator:  b.Model.Indicator(),
		Drivetrain: b.Model.Drivetrain(),
	})
	if err != nil {
		b.Logger.Printf("wsbridge: marshal error: %v", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.Logger.Printf("wsbridge: send error: %v", err)
			client.Close()
			delete(b.clients, client)
		}
	}
}

// SubscribeTo wires the bridge to bus messages on BusGroup: every publish
// triggers a fresh broadcast of the current model state.
func (b *Bridge) SubscribeTo(bb *bus.Bus) {
	b.subToken = bb.Subscribe(BusGroup, func(bus.Message) { b.Broadcast() })
}

// ClientCount reports the number of connected websocket clients, for tests
// and diagnostics.
func (b *Bridge) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
