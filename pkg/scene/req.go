package scene

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Send posts s gob encoded to a processing service and returns the response
// body.
func (s *Scene) Send(endpoint string) ([]byte, error) {
	var b bytes.Buffer

	err := s.Encode(&b)

	if err != nil {
		return nil, fmt.Errorf("could not encode scene: %v", err)
	}

	r, err := http.NewRequest(http.MethodPost, endpoint, &b)

	if err != nil {
		return nil, fmt.Errorf("could not create request: %v", err)
	}

	r.Header.Set("Content-Type", "application/octet-stream")

	t1 := time.Now()
	log.Printf("sending scene %s (%d bytes)", s.Name(), b.Len())
	resp, err := http.DefaultClient.Do(r)

	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)

	if err != nil {
		return nil, fmt.Errorf("could not read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	t2 := time.Now()
	log.Printf("scene %s processed remotely in %s", s.Name(), t2.Sub(t1))

	return body, nil
}
