package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/hybridgroup/mjpeg"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/street-safety-monitor/internal/logger"
	"github.com/dj-oyu/street-safety-monitor/internal/metrics"
	"github.com/dj-oyu/street-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/street-safety-monitor/internal/session"
	"github.com/dj-oyu/street-safety-monitor/internal/webrtc"
)

const (
	idleCaption     = "Upload a video to start monitoring"
	withheldCaption = "Display withheld: faces cannot be anonymized"
	mjpegKeepalive  = 5 * time.Second
)

// FrameBroadcaster encodes annotated frames and fans them out as MJPEG.
// Publish never blocks: when the encoder falls behind, the newest frame wins.
type FrameBroadcaster struct {
	stream  *mjpeg.Stream
	encode  func(image.Image) ([]byte, error)
	metrics *metrics.Metrics

	frameCh chan pipeline.FrameResult
	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once

	mu       sync.RWMutex
	latest   []byte
	idle     []byte
	withheld []byte
}

// NewFrameBroadcaster creates a broadcaster that encodes with encode.
func NewFrameBroadcaster(encode func(image.Image) ([]byte, error), m *metrics.Metrics) *FrameBroadcaster {
	fb := &FrameBroadcaster{
		stream:  mjpeg.NewStream(),
		encode:  encode,
		metrics: m,
		frameCh: make(chan pipeline.FrameResult, 1),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	var err error
	if fb.idle, err = placeholderJPEG(idleCaption); err != nil {
		logger.Error("FrameBroadcaster", "render idle placeholder: %v", err)
	}
	if fb.withheld, err = placeholderJPEG(withheldCaption); err != nil {
		logger.Error("FrameBroadcaster", "render privacy placeholder: %v", err)
	}
	return fb
}

// Publish implements pipeline.Sink.
func (fb *FrameBroadcaster) Publish(res pipeline.FrameResult) {
	select {
	case fb.frameCh <- res:
		return
	default:
	}
	// Drop the stale frame, keep the new one
	select {
	case <-fb.frameCh:
		fb.metrics.SinkDrops.Add(1)
	default:
	}
	select {
	case fb.frameCh <- res:
	default:
		fb.metrics.SinkDrops.Add(1)
	}
}

// Start begins the encode and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the broadcaster and waits for the loop to exit.
func (fb *FrameBroadcaster) Stop() {
	fb.once.Do(func() { close(fb.stop) })
	<-fb.done
}

func (fb *FrameBroadcaster) run() {
	defer close(fb.done)

	ticker := time.NewTicker(mjpegKeepalive)
	defer ticker.Stop()
	lastPush := time.Time{}

	push := func(data []byte) {
		if data == nil {
			return
		}
		fb.stream.UpdateJPEG(data)
		lastPush = time.Now()
	}
	push(fb.idle)

	for {
		select {
		case <-fb.stop:
			return

		case res := <-fb.frameCh:
			data := fb.withheld
			if !res.Withheld && res.Image != nil {
				encoded, err := fb.encode(res.Image)
				if err != nil {
					logger.WarnOnce("FrameBroadcaster", "jpeg-encode", "frame %d: %v", res.Index, err)
					continue
				}
				data = encoded
			}
			fb.mu.Lock()
			fb.latest = data
			fb.mu.Unlock()
			push(data)

		case <-fb.kick:
			push(fb.current())

		case <-ticker.C:
			// Re-send so new viewers get a picture and dead ones are noticed
			if time.Since(lastPush) >= mjpegKeepalive {
				push(fb.current())
			}
		}
	}
}

func (fb *FrameBroadcaster) current() []byte {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	if fb.latest != nil {
		return fb.latest
	}
	return fb.idle
}

// Latest returns the most recent encoded frame.
func (fb *FrameBroadcaster) Latest() ([]byte, bool) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.latest, fb.latest != nil
}

// Reset drops the latest frame and shows the idle placeholder.
func (fb *FrameBroadcaster) Reset() {
	fb.mu.Lock()
	fb.latest = nil
	fb.mu.Unlock()
	select {
	case fb.kick <- struct{}{}:
	default:
	}
}

// ServeHTTP serves the MJPEG stream.
func (fb *FrameBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fb.metrics.StreamClients.Add(1)
	defer fb.metrics.StreamClients.Add(-1)
	w.Header().Set("Cache-Control", "no-cache")
	fb.stream.ServeHTTP(w, r)
}

// SerializedEvent holds pre-serialized event data for efficient broadcasting.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// serializeEvent encodes payload as JSON and as a protobuf Struct.
func serializeEvent(payload any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	st := &structpb.Struct{}
	if err := protojson.Unmarshal(jsonData, st); err != nil {
		return nil, fmt.Errorf("protobuf struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// StatusBroadcaster periodically broadcasts the status payload to SSE clients.
type StatusBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan *SerializedEvent // Channel carries pre-serialized data
	nextID   int
	build    func() any
	metrics  *metrics.Metrics
	notify   chan struct{}
	stop     chan struct{}
	stopped  bool
	interval time.Duration
}

// NewStatusBroadcaster creates a broadcaster that serializes build() every interval.
func NewStatusBroadcaster(build func() any, interval time.Duration, m *metrics.Metrics) *StatusBroadcaster {
	return &StatusBroadcaster{
		clients:  make(map[int]chan *SerializedEvent),
		build:    build,
		metrics:  m,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		interval: interval,
	}
}

// Subscribe adds a new client. The channel starts with the current status.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	ch := make(chan *SerializedEvent, 2) // Buffer 2 events to avoid blocking
	if event := sb.generateSerializedEvent(); event != nil {
		ch <- event
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	id := sb.nextID
	sb.nextID++
	sb.clients[id] = ch

	logger.Debug("StatusBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		logger.Debug("StatusBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// Notify triggers an immediate broadcast.
func (sb *StatusBroadcaster) Notify() {
	select {
	case sb.notify <- struct{}{}:
	default:
	}
}

// Start begins the broadcast loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the broadcaster and closes all client channels.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.stopped {
		return
	}
	close(sb.stop)
	sb.stopped = true
	for id, ch := range sb.clients {
		close(ch)
		delete(sb.clients, id)
	}
}

func (sb *StatusBroadcaster) run() {
	logger.Debug("StatusBroadcaster", "Starting status event broadcaster (interval=%v)", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
		case <-sb.notify:
		}

		sb.mu.Lock()
		clientCount := len(sb.clients)
		sb.mu.Unlock()
		if clientCount == 0 {
			continue
		}

		if event := sb.generateSerializedEvent(); event != nil {
			sb.broadcast(event)
		}
	}
}

func (sb *StatusBroadcaster) generateSerializedEvent() *SerializedEvent {
	event, err := serializeEvent(sb.build())
	if err != nil {
		logger.Error("StatusBroadcaster", "%v", err)
		return nil
	}
	return event
}

func (sb *StatusBroadcaster) broadcast(event *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for _, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			sb.metrics.SinkDrops.Add(1)
		}
	}
}

// AlertBroadcaster pushes each new alert to WebSocket and WebRTC clients.
type AlertBroadcaster struct {
	hub *AlertHub
	rtc *webrtc.Server
}

// NewAlertBroadcaster creates an alert sink. rtc may be nil.
func NewAlertBroadcaster(hub *AlertHub, rtc *webrtc.Server) *AlertBroadcaster {
	return &AlertBroadcaster{hub: hub, rtc: rtc}
}

// Publish implements pipeline.Sink.
func (ab *AlertBroadcaster) Publish(res pipeline.FrameResult) {
	if len(res.Alerts) == 0 {
		return
	}
	stats := res.Stats
	for _, view := range newAlertViews(res.Alerts) {
		ab.send(AlertEvent{Type: "alert", Alert: &view, Stats: &stats, SentAt: time.Now()})
	}
}

// SendReset tells clients the session was reset.
func (ab *AlertBroadcaster) SendReset() {
	ab.send(AlertEvent{Type: "reset", Stats: &session.Stats{}, SentAt: time.Now()})
}

func (ab *AlertBroadcaster) send(ev AlertEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("AlertBroadcaster", "marshal %s event: %v", ev.Type, err)
		return
	}
	ab.hub.Broadcast(data)
	if ab.rtc != nil {
		ab.rtc.Broadcast(data)
	}
}
