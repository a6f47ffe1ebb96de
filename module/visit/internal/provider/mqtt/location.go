package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
)

const (
	LocationTopic   = "/spots/user/+/location"
	PermissionTopic = "/spots/user/+/permission"

	fixRequestTopic = "/spots/user/%s/fix/request"
	watchTopic      = "/spots/user/%s/watch"

	watcherBuffer = 16
)

type client interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

type locationMessage struct {
	UserID    string  `json:"user_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
	Error     string  `json:"error,omitempty"`
}

type permissionMessage struct {
	UserID  string `json:"user_id"`
	Granted bool   `json:"granted"`
}

type fixRequest struct {
	RequestID string `json:"request_id"`
	TimeoutMs int64  `json:"timeout_ms"`
}

type watchRequest struct {
	Active         bool    `json:"active"`
	HighAccuracy   bool    `json:"high_accuracy"`
	DistanceFilter float64 `json:"distance_filter"`
	IntervalMs     int64   `json:"interval_ms"`
}

type watcher struct {
	ch   chan domain.PositionEvent
	opts domain.WatchOptions
}

// LocationHub multiplexes device location messages from MQTT onto per-user
// position streams and one-shot fix requests. A device streams while at
// least one watcher for its user is open, at the strictest options any of
// them asked for.
type LocationHub struct {
	client client
	log    *slog.Logger

	// watchMu orders watch control messages per hub.
	watchMu sync.Mutex

	mu       sync.Mutex
	watchers map[string]map[int]*watcher
	waiters  map[string]map[int]chan domain.PositionEvent
	denied   map[string]bool
	nextID   int
}

func NewLocationHub(c client, log *slog.Logger) *LocationHub {
	return &LocationHub{
		client:   c,
		log:      log.With("component", "mqtt_location_hub"),
		watchers: make(map[string]map[int]*watcher),
		waiters:  make(map[string]map[int]chan domain.PositionEvent),
		denied:   make(map[string]bool),
	}
}

func (h *LocationHub) Start() error {
	token := h.client.Subscribe(LocationTopic, 1, h.handleLocation)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", LocationTopic, err)
	}

	token = h.client.Subscribe(PermissionTopic, 1, h.handlePermission)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", PermissionTopic, err)
	}
	return nil
}

// ForUser returns the location capability of userID's device.
func (h *LocationHub) ForUser(userID string) domain.LocationProvider {
	return &deviceProvider{hub: h, userID: userID}
}

func (h *LocationHub) handleLocation(_ paho.Client, msg paho.Message) {
	var raw locationMessage
	if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
		h.log.Warn("invalid location message", slog.String("error", err.Error()))
		return
	}

	if err := validateLocationMessage(&raw); err != nil {
		h.log.Warn("location validation error", slog.String("error", err.Error()))
		return
	}

	ev := domain.PositionEvent{
		Coordinate: domain.Coordinate{Lat: raw.Latitude, Lon: raw.Longitude},
		Timestamp:  time.Unix(raw.Timestamp, 0),
	}
	if raw.Error != "" {
		ev = domain.PositionEvent{Err: errors.New(raw.Error), Timestamp: time.Unix(raw.Timestamp, 0)}
	}
	h.dispatch(raw.UserID, ev)
}

func (h *LocationHub) handlePermission(_ paho.Client, msg paho.Message) {
	var raw permissionMessage
	if err := json.Unmarshal(msg.Payload(), &raw); err != nil || raw.UserID == "" {
		h.log.Warn("invalid permission message")
		return
	}
	h.mu.Lock()
	h.denied[raw.UserID] = !raw.Granted
	h.mu.Unlock()
}

// dispatch delivers ev to every watcher of userID and answers pending fix
// requests. A watcher that is not keeping up loses the event.
func (h *LocationHub) dispatch(userID string, ev domain.PositionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, w := range h.watchers[userID] {
		select {
		case w.ch <- ev:
		default:
			h.log.Warn("dropping position for slow watcher", slog.String("user_id", userID))
		}
	}
	if ev.Err != nil {
		return
	}
	for id, ch := range h.waiters[userID] {
		ch <- ev
		delete(h.waiters[userID], id)
	}
}

func (h *LocationHub) isDenied(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.denied[userID]
}

func (h *LocationHub) addWaiter(userID string, ch chan domain.PositionEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	if h.waiters[userID] == nil {
		h.waiters[userID] = make(map[int]chan domain.PositionEvent)
	}
	h.waiters[userID][id] = ch
	return id
}

func (h *LocationHub) removeWaiter(userID string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.waiters[userID], id)
	if len(h.waiters[userID]) == 0 {
		delete(h.waiters, userID)
	}
}

// addWatcher registers w and returns the watch request covering every
// watcher of userID.
func (h *LocationHub) addWatcher(userID string, w *watcher) (int, watchRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	if h.watchers[userID] == nil {
		h.watchers[userID] = make(map[int]*watcher)
	}
	h.watchers[userID][id] = w
	return id, mergeWatch(h.watchers[userID])
}

// removeWatcher drops the watcher and returns the request for the ones
// left. The request is inactive once none remain.
func (h *LocationHub) removeWatcher(userID string, id int) watchRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.watchers[userID], id)
	if len(h.watchers[userID]) == 0 {
		delete(h.watchers, userID)
	}
	return mergeWatch(h.watchers[userID])
}

func mergeWatch(ws map[int]*watcher) watchRequest {
	req := watchRequest{Active: len(ws) > 0}
	first := true
	for _, w := range ws {
		req.HighAccuracy = req.HighAccuracy || w.opts.HighAccuracy
		if first || w.opts.DistanceFilter < req.DistanceFilter {
			req.DistanceFilter = w.opts.DistanceFilter
		}
		if ms := w.opts.Interval.Milliseconds(); ms > 0 && (req.IntervalMs == 0 || ms < req.IntervalMs) {
			req.IntervalMs = ms
		}
		first = false
	}
	return req
}

func (h *LocationHub) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	token := h.client.Publish(topic, 1, false, payload)
	token.Wait()
	return token.Error()
}

type deviceProvider struct {
	hub    *LocationHub
	userID string
}

func (p *deviceProvider) RequestPermission(_ context.Context) (bool, error) {
	return !p.hub.isDenied(p.userID), nil
}

// CurrentFix asks the device for a fresh position and waits for the next
// location message it publishes.
func (p *deviceProvider) CurrentFix(ctx context.Context, timeout time.Duration) (domain.Coordinate, error) {
	if p.hub.isDenied(p.userID) {
		return domain.Coordinate{}, domain.ErrPermissionDenied
	}

	ch := make(chan domain.PositionEvent, 1)
	id := p.hub.addWaiter(p.userID, ch)
	defer p.hub.removeWaiter(p.userID, id)

	req := fixRequest{RequestID: fmt.Sprintf("%s-%d", p.userID, id), TimeoutMs: timeout.Milliseconds()}
	if err := p.hub.publish(fmt.Sprintf(fixRequestTopic, p.userID), req); err != nil {
		return domain.Coordinate{}, fmt.Errorf("publish fix request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev.Coordinate, nil
	case <-timer.C:
		return domain.Coordinate{}, domain.ErrFixTimeout
	case <-ctx.Done():
		return domain.Coordinate{}, ctx.Err()
	}
}

// WatchPosition streams the device's positions until ctx ends, then closes
// the channel. The device stops streaming only when its last watcher ends;
// until then it keeps the strictest options of the watchers still open.
func (p *deviceProvider) WatchPosition(ctx context.Context, opts domain.WatchOptions) (<-chan domain.PositionEvent, error) {
	if p.hub.isDenied(p.userID) {
		return nil, domain.ErrPermissionDenied
	}

	topic := fmt.Sprintf(watchTopic, p.userID)
	w := &watcher{ch: make(chan domain.PositionEvent, watcherBuffer), opts: opts}

	p.hub.watchMu.Lock()
	id, req := p.hub.addWatcher(p.userID, w)
	if err := p.hub.publish(topic, req); err != nil {
		p.hub.removeWatcher(p.userID, id)
		p.hub.watchMu.Unlock()
		close(w.ch)
		return nil, fmt.Errorf("publish watch request: %w", err)
	}
	p.hub.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		p.hub.watchMu.Lock()
		defer p.hub.watchMu.Unlock()
		rest := p.hub.removeWatcher(p.userID, id)
		close(w.ch)
		if err := p.hub.publish(topic, rest); err != nil {
			p.hub.log.Warn("publish watch update failed",
				slog.String("user_id", p.userID),
				slog.Bool("active", rest.Active),
				slog.String("error", err.Error()))
		}
	}()
	return w.ch, nil
}

func validateLocationMessage(msg *locationMessage) error {
	if msg.UserID == "" {
		return fmt.Errorf("user_id: required")
	}
	if msg.Timestamp <= 0 {
		return fmt.Errorf("timestamp: must be positive")
	}
	if msg.Error != "" {
		return nil
	}
	if msg.Latitude < -90 || msg.Latitude > 90 {
		return fmt.Errorf("latitude: must be between -90 and 90")
	}
	if msg.Longitude < -180 || msg.Longitude > 180 {
		return fmt.Errorf("longitude: must be between -180 and 180")
	}
	return nil
}
