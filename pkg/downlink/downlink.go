package downlink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Announcement describes a finished product waiting for downlink.
type Announcement struct {
	Name          string  `json:"name"`
	Size          uint64  `json:"size"`
	CloudCover    float64 `json:"cloud_cover"`
	WaterCover    float64 `json:"water_cover"`
	ValidFraction float64 `json:"valid_fraction"`
}

var client = &http.Client{Timeout: 30 * time.Second}

func SendToRemote(endpoint string, a Announcement) error {
	j, err := json.Marshal(a)

	if err != nil {
		return err
	}

	res, err := client.Post(endpoint, "application/json", bytes.NewBuffer(j))

	if err != nil {
		return fmt.Errorf("could not announce %s: %w", a.Name, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	return nil
}

// Receiver is the ground side of SendToRemote. It queues announced products
// and hands out downlink capacity in bytes.
type Receiver struct {
	queueSizeBytes uint64
	products       []Announcement
	*sync.Mutex
}

func NewReceiver() *Receiver {
	return &Receiver{
		Mutex: &sync.Mutex{},
	}
}

func (d *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var a Announcement

	err := json.NewDecoder(r.Body).Decode(&a)

	if err != nil {
		http.Error(w, "could not parse product info", http.StatusBadRequest)
		return
	}

	log.Printf("received product %s of size %d bytes, cloud cover %.2f over water cover %.2f", a.Name, a.Size, a.CloudCover, a.WaterCover)

	d.Receive(a)
}

func (d *Receiver) Receive(a Announcement) {
	d.Lock()
	defer d.Unlock()
	d.queueSizeBytes += a.Size
	d.products = append(d.products, a)
}

// ReadNBytes takes up to n bytes off the queue and returns how many were
// taken.
func (d *Receiver) ReadNBytes(n uint64) uint64 {
	d.Lock()
	defer d.Unlock()

	if d.queueSizeBytes <= n {
		n = d.queueSizeBytes
	}

	d.queueSizeBytes -= n
	return n
}

func (d *Receiver) QueueSize() uint64 {
	d.Lock()
	defer d.Unlock()
	return d.queueSizeBytes
}

func (d *Receiver) Products() []Announcement {
	d.Lock()
	defer d.Unlock()
	return append([]Announcement(nil), d.products...)
}
