package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type locationMessage struct {
	UserID    string  `json:"user_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

type permissionMessage struct {
	UserID  string `json:"user_id"`
	Granted bool   `json:"granted"`
}

type watchRequest struct {
	Active     bool  `json:"active"`
	IntervalMs int64 `json:"interval_ms"`
}

// device walks around a spot and answers the server's fix and watch requests.
type device struct {
	client     mqtt.Client
	userID     string
	lat, lon   float64
	driftAfter time.Duration
	started    time.Time

	mu   sync.Mutex
	stop chan struct{}
}

// position is within ~25m of the spot, or ~500m away once driftAfter passed.
func (d *device) position() (float64, float64) {
	lat := d.lat + (rand.Float64()-0.5)*0.0004
	lon := d.lon + (rand.Float64()-0.5)*0.0004
	if d.driftAfter > 0 && time.Since(d.started) > d.driftAfter {
		lat += 0.0045
	}
	return lat, lon
}

func (d *device) publishPosition() {
	lat, lon := d.position()
	payload, _ := json.Marshal(locationMessage{
		UserID:    d.userID,
		Latitude:  lat,
		Longitude: lon,
		Timestamp: time.Now().Unix(),
	})
	topic := fmt.Sprintf("/spots/user/%s/location", d.userID)
	token := d.client.Publish(topic, 1, false, payload)
	token.Wait()
	log.Printf("published to %s: %s", topic, payload)
}

func (d *device) handleFixRequest(_ mqtt.Client, _ mqtt.Message) {
	d.publishPosition()
}

// handleWatch applies the streaming state the server wants for this device,
// replacing whatever it asked for before.
func (d *device) handleWatch(_ mqtt.Client, msg mqtt.Message) {
	var req watchRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		log.Printf("invalid watch request: %v", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	if !req.Active {
		log.Printf("watch stopped")
		return
	}

	interval := time.Duration(req.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	stop := make(chan struct{})
	d.stop = stop
	log.Printf("watch started, every %s", interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.publishPosition()
			}
		}
	}()
}

func main() {
	if len(os.Args) < 4 {
		fmt.Fprintf(os.Stderr, "usage: %s <user_id> <spot_lat> <spot_lon> [drift_after_seconds]\n", os.Args[0])
		os.Exit(1)
	}

	lat, err := strconv.ParseFloat(os.Args[2], 64)
	if err != nil || lat < -90 || lat > 90 {
		fmt.Fprintf(os.Stderr, "error: invalid latitude\n")
		os.Exit(1)
	}
	lon, err := strconv.ParseFloat(os.Args[3], 64)
	if err != nil || lon < -180 || lon > 180 {
		fmt.Fprintf(os.Stderr, "error: invalid longitude\n")
		os.Exit(1)
	}

	var driftAfter time.Duration
	if len(os.Args) > 4 {
		secs, err := strconv.Atoi(os.Args[4])
		if err != nil || secs <= 0 {
			fmt.Fprintf(os.Stderr, "error: drift_after_seconds must be a positive integer\n")
			os.Exit(1)
		}
		driftAfter = time.Duration(secs) * time.Second
	}

	broker := "tcp://localhost:1883"
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		broker = v
	}

	userID := os.Args[1]
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("spots-device-" + userID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("mqtt connect: %v", token.Error())
	}
	defer client.Disconnect(250)

	d := &device{client: client, userID: userID, lat: lat, lon: lon, driftAfter: driftAfter, started: time.Now()}

	if token := client.Subscribe(fmt.Sprintf("/spots/user/%s/fix/request", userID), 1, d.handleFixRequest); token.Wait() && token.Error() != nil {
		log.Fatalf("subscribe fix requests: %v", token.Error())
	}
	if token := client.Subscribe(fmt.Sprintf("/spots/user/%s/watch", userID), 1, d.handleWatch); token.Wait() && token.Error() != nil {
		log.Fatalf("subscribe watch requests: %v", token.Error())
	}

	payload, _ := json.Marshal(permissionMessage{UserID: userID, Granted: os.Getenv("PERMISSION") != "denied"})
	client.Publish(fmt.Sprintf("/spots/user/%s/permission", userID), 1, false, payload).Wait()

	log.Printf("device %s connected to %s near (%f, %f)", userID, broker, lat, lon)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("shutting down")
}
