package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/street-safety-monitor/internal/logger"
)

// AlertChannelLabel is the data channel the browser opens for alert push.
const AlertChannelLabel = "alerts"

// ErrTooManyClients is returned when maxClients peers are already connected.
var ErrTooManyClients = errors.New("maximum clients reached")

// Client represents a connected WebRTC peer
type Client struct {
	id          string
	peerConn    *webrtc.PeerConnection
	msgChan     chan []byte
	closeChan   chan struct{}
	closeOnce   sync.Once
	msgsSent    atomic.Uint64
	msgsDropped atomic.Uint64
}

// Server pushes alert messages to browsers over WebRTC data channels.
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API

	// OnClientCount is called with the peer count after every change.
	OnClientCount func(n int)
}

// NewServer creates a new WebRTC server. With no STUN servers only host
// candidates are gathered, which is enough on a LAN.
func NewServer(stunServers []string, maxClients int) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	// Data channels only: no codecs needed
	mediaEngine := &webrtc.MediaEngine{}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(settingsEngine),
		webrtc.WithMediaEngine(mediaEngine),
	)

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer. The offer must
// carry a data channel labeled "alerts".
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, errors.New("invalid offer: missing sdp or type")
	}

	if s.ClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		peerConn:  peerConn,
		msgChan:   make(chan []byte, 32),
		closeChan: make(chan struct{}),
	}

	// Reserve the slot before any state callback can fire
	if err := s.addClient(client); err != nil {
		peerConn.Close()
		return nil, err
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != AlertChannelLabel {
			logger.Debug("WebRTC", "Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			logger.Debug("WebRTC", "Client %s alert channel open", client.id)
			go s.sendMessages(client, dc)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	answerJSON, err := s.answer(peerConn, offer)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, err
	}

	logger.Info("WebRTC", "Client %s connected", client.id)
	return answerJSON, nil
}

// addClient registers client unless maxClients peers are already present.
func (s *Server) addClient(client *Client) error {
	s.clientsMu.Lock()
	if len(s.clients) >= s.maxClients {
		s.clientsMu.Unlock()
		return fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}
	s.clients[client.id] = client
	n := len(s.clients)
	s.clientsMu.Unlock()

	s.notifyCount(n)
	return nil
}

func (s *Server) answer(peerConn *webrtc.PeerConnection, offer webrtc.SessionDescription) ([]byte, error) {
	if err := peerConn.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	// Non-trickle: the answer carries every candidate
	<-gatherComplete

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		return nil, errors.New("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// Broadcast queues msg for every connected client. Slow clients drop messages.
func (s *Server) Broadcast(msg []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.msgChan <- msg:
			client.msgsSent.Add(1)
		default:
			client.msgsDropped.Add(1)
		}
	}
}

func (s *Server) sendMessages(client *Client, dc *webrtc.DataChannel) {
	for {
		select {
		case <-client.closeChan:
			return
		case msg := <-client.msgChan:
			if err := dc.SendText(string(msg)); err != nil {
				logger.Warn("WebRTC", "Error sending alert to client %s: %v", client.id, err)
				return
			}
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	n := len(s.clients)
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	s.closeClient(client)
	s.notifyCount(n)

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.msgsSent.Load(), client.msgsDropped.Load())
}

func (s *Server) closeClient(client *Client) {
	client.closeOnce.Do(func() {
		close(client.closeChan)
		// Close re-enters OnConnectionStateChange; the client is already gone
		go client.peerConn.Close()
	})
}

func (s *Server) notifyCount(n int) {
	if s.OnClientCount != nil {
		s.OnClientCount(n)
	}
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for id, c := range s.clients {
		clients = append(clients, c)
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		s.closeClient(c)
	}
	s.notifyCount(0)
	return nil
}
