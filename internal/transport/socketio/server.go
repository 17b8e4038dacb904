// Package socketio provides the Socket.io server UI clients use to manage the
// NAS connection.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/nas-companion/internal/domain/nas"
	"github.com/edumarques81/nas-companion/internal/infra/nasapi"
)

// DefaultDebounceWindow groups connection changes into one broadcast.
const DefaultDebounceWindow = 100 * time.Millisecond

// Coordinator is the connection workflow the server exposes.
type Coordinator interface {
	ActiveDescriptor() (nas.Descriptor, bool)
	ActiveDescriptors(ctx context.Context) <-chan *nas.Descriptor
	Connect(ctx context.Context, address, credential string) nas.Result[nasapi.ConnectionCheckInfo]
	WakeOnLan(ctx context.Context, d nas.Descriptor) nas.Result[nasapi.ConnectionCheckInfo]
}

// Connections lists stored descriptors.
type Connections interface {
	List(ctx context.Context) ([]nas.Descriptor, error)
	Subscribe(ctx context.Context) <-chan []nas.Descriptor
}

// DashboardSource runs the dashboard query against the active NAS.
type DashboardSource interface {
	QueryDashboardData(ctx context.Context) nas.Result[nasapi.DashboardData]
}

var errBadRequest = errors.New("bad request")

// ConnectRequest is the payload of connectToNas.
type ConnectRequest struct {
	Address string `json:"address"`
	APIKey  string `json:"apiKey"`
}

// WakeOnLanRequest is the payload of wakeOnLan. Empty fields keep the values
// stored on the active descriptor.
type WakeOnLanRequest struct {
	MACAddress       string `json:"macAddress"`
	BroadcastAddress string `json:"broadcastAddress"`
	Port             int    `json:"port"`
}

// OperationResult is pushed in reply to connectToNas and wakeOnLan.
type OperationResult struct {
	RequestID string `json:"requestId"`
	Address   string `json:"address,omitempty"`
	Result    any    `json:"result"`
}

// Server handles Socket.io connections and events.
type Server struct {
	io          *socket.Server
	coordinator Coordinator
	connections Connections
	dashboard   DashboardSource
	debouncer   *BroadcastDebouncer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	clients map[string]*socket.Socket
}

// NewServer creates a new Socket.io server.
func NewServer(coordinator Coordinator, connections Connections, dashboard DashboardSource) (*Server, error) {
	if coordinator == nil || connections == nil || dashboard == nil {
		return nil, errors.New("socketio: nil dependency")
	}

	opts := socket.DefaultServerOptions()
	opts.SetPingTimeout(20 * time.Second)
	opts.SetPingInterval(25 * time.Second)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		io:          socket.NewServer(nil, opts),
		coordinator: coordinator,
		connections: connections,
		dashboard:   dashboard,
		ctx:         ctx,
		cancel:      cancel,
		clients:     make(map[string]*socket.Socket),
	}
	s.debouncer = NewBroadcastDebouncer(DefaultDebounceWindow, s.BroadcastActiveConnection, s.BroadcastConnections)

	s.setupHandlers()

	return s, nil
}

func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())

		log.Info().Str("id", clientID).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		client.Emit("pushActiveConnection", s.activeConnection())

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
		})

		client.On("getActiveConnection", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getActiveConnection")
			client.Emit("pushActiveConnection", s.activeConnection())
		})

		client.On("listConnections", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("listConnections")
			client.Emit("pushConnections", s.listConnections(s.ctx))
		})

		client.On("connectToNas", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("connectToNas")
			go func() {
				client.Emit("pushConnectResult", s.connect(s.ctx, args))
			}()
		})

		client.On("wakeOnLan", func(args ...any) {
			log.Debug().Str("id", clientID).Interface("data", args).Msg("wakeOnLan")
			go func() {
				client.Emit("pushWakeOnLanResult", s.wakeOnLan(s.ctx, args))
			}()
		})

		client.On("getDashboard", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getDashboard")
			go func() {
				client.Emit("pushDashboard", s.dashboardData(s.ctx))
			}()
		})
	})
}

// activeConnection returns the active descriptor or nil.
func (s *Server) activeConnection() *nas.Descriptor {
	d, ok := s.coordinator.ActiveDescriptor()
	if !ok {
		return nil
	}
	return &d
}

func (s *Server) listConnections(ctx context.Context) []nas.Descriptor {
	list, err := s.connections.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list connections")
	}
	if list == nil {
		list = []nas.Descriptor{}
	}
	return list
}

func (s *Server) connect(ctx context.Context, args []any) OperationResult {
	res := OperationResult{RequestID: uuid.NewString()}

	req, err := parseConnectRequest(args)
	if err != nil {
		log.Warn().Err(err).Str("request", res.RequestID).Msg("Rejected connectToNas")
		res.Result = nas.Fail[nasapi.ConnectionCheckInfo](nas.InternalError)
		return res
	}
	res.Address = req.Address

	r := s.coordinator.Connect(ctx, req.Address, req.APIKey)
	log.Info().Str("request", res.RequestID).Str("address", req.Address).Stringer("result", r).Msg("connectToNas finished")
	res.Result = r
	return res
}

func (s *Server) wakeOnLan(ctx context.Context, args []any) OperationResult {
	res := OperationResult{RequestID: uuid.NewString()}

	req, err := parseWakeOnLanRequest(args)
	if err != nil {
		log.Warn().Err(err).Str("request", res.RequestID).Msg("Rejected wakeOnLan")
		res.Result = nas.Fail[nasapi.ConnectionCheckInfo](nas.InternalError)
		return res
	}

	d, ok := s.coordinator.ActiveDescriptor()
	if !ok {
		log.Warn().Str("request", res.RequestID).Msg("wakeOnLan without a stored connection")
		res.Result = nas.Fail[nasapi.ConnectionCheckInfo](nas.InternalError)
		return res
	}
	res.Address = d.Address

	if req.MACAddress != "" {
		d.MACAddress = req.MACAddress
	}
	if req.BroadcastAddress != "" {
		d.BroadcastAddress = req.BroadcastAddress
	}
	if req.Port != 0 {
		d.WakeOnLanPort = req.Port
	}

	r := s.coordinator.WakeOnLan(ctx, d)
	log.Info().Str("request", res.RequestID).Str("address", d.Address).Stringer("result", r).Msg("wakeOnLan finished")
	res.Result = r
	return res
}

func (s *Server) dashboardData(ctx context.Context) nas.Result[nasapi.DashboardData] {
	if _, ok := s.coordinator.ActiveDescriptor(); !ok {
		return nas.Fail[nasapi.DashboardData](nas.InternalError)
	}
	return s.dashboard.QueryDashboardData(ctx)
}

func parseConnectRequest(args []any) (ConnectRequest, error) {
	var req ConnectRequest
	if err := decodeArg(args, &req); err != nil {
		return req, err
	}
	req.Address = strings.TrimSpace(req.Address)
	if !nas.ValidIPv4(req.Address) {
		return req, fmt.Errorf("%w: invalid address %q", errBadRequest, req.Address)
	}
	if req.APIKey == "" {
		return req, fmt.Errorf("%w: missing apiKey", errBadRequest)
	}
	return req, nil
}

func parseWakeOnLanRequest(args []any) (WakeOnLanRequest, error) {
	var req WakeOnLanRequest
	if len(args) == 0 || args[0] == nil {
		return req, nil
	}
	if err := decodeArg(args, &req); err != nil {
		return req, err
	}
	req.MACAddress = strings.TrimSpace(req.MACAddress)
	req.BroadcastAddress = strings.TrimSpace(req.BroadcastAddress)
	if req.MACAddress != "" && !nas.ValidMAC(req.MACAddress) {
		return req, fmt.Errorf("%w: invalid macAddress %q", errBadRequest, req.MACAddress)
	}
	if req.BroadcastAddress != "" && !nas.ValidIPv4(req.BroadcastAddress) {
		return req, fmt.Errorf("%w: invalid broadcastAddress %q", errBadRequest, req.BroadcastAddress)
	}
	if req.Port < 0 || req.Port > 65535 {
		return req, fmt.Errorf("%w: invalid port %d", errBadRequest, req.Port)
	}
	return req, nil
}

// decodeArg converts the first event argument, a decoded JSON object, into v.
func decodeArg(args []any, v any) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing payload", errBadRequest)
	}
	m, ok := args[0].(map[string]any)
	if !ok {
		return fmt.Errorf("%w: payload is %T", errBadRequest, args[0])
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// BroadcastActiveConnection sends the active descriptor to all clients.
func (s *Server) BroadcastActiveConnection() {
	active := s.activeConnection()
	s.io.Emit("pushActiveConnection", active)

	s.mu.RLock()
	clientCount := len(s.clients)
	s.mu.RUnlock()
	log.Debug().Bool("has_active", active != nil).Int("clients", clientCount).Msg("Broadcast active connection")
}

// BroadcastConnections sends the stored descriptor list to all clients.
func (s *Server) BroadcastConnections() {
	s.io.Emit("pushConnections", s.listConnections(s.ctx))
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close cancels in-flight operations and closes the Socket.io server.
func (s *Server) Close() error {
	s.cancel()
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}
