package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/project-spencer/wlr/pkg/config"
	"github.com/project-spencer/wlr/pkg/downlink"
	"github.com/project-spencer/wlr/pkg/processor"
	"github.com/project-spencer/wlr/pkg/scene"
)

func handleReq(w http.ResponseWriter, r *http.Request, p *processor.Processor, outputDir string, format string, downlinkEndpoint string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// decode the scene
	t1 := time.Now()

	s, err := scene.Decode(r.Body)

	t2 := time.Now()

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Printf("received scene %s (%dx%d, %d rasters), decoded in %s", s.Name(), s.Width, s.Height, len(s.Rasters), t2.Sub(t1))

	prod, _, err := p.Process(r.Context(), s)

	if err != nil {
		log.Printf("could not process scene: %s", err.Error())
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	path, size, err := processor.Write(prod, outputDir, format)

	if err != nil {
		log.Printf("could not write product: %s", err.Error())
		http.Error(w, "could not write product", http.StatusInternalServerError)
		return
	}

	summary := prod.Summary()

	t3 := time.Now()

	log.Printf("processing scene %s took %s, wrote %s", s.Name(), t3.Sub(t2), path)

	if downlinkEndpoint != "" {
		err := downlink.SendToRemote(downlinkEndpoint, downlink.Announcement{
			Name:          path,
			Size:          uint64(size),
			CloudCover:    summary.CloudCover,
			WaterCover:    summary.WaterCover,
			ValidFraction: summary.ValidFraction,
		})

		if err != nil {
			log.Printf("could not announce product: %s", err.Error())
		}
	}

	w.Header().Set("Content-Type", "application/json")

	err = json.NewEncoder(w).Encode(summary)

	if err != nil {
		log.Printf("could not send summary: %s", err.Error())
	}
}

// newMux routes scenes to handleReq. With a receiver, product announcements
// posted to /downlink are queued as well.
func newMux(p *processor.Processor, outputDir, format, downlinkEndpoint string, rcv *downlink.Receiver) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handleReq(w, r, p, outputDir, format, downlinkEndpoint)
	})

	if rcv != nil {
		mux.Handle("/downlink", rcv)
	}

	return mux
}

func main() {
	log.SetPrefix("[serve] ")
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.LstdFlags | log.Lshortfile | log.LUTC)

	fs := flag.NewFlagSet("serve", flag.ExitOnError)

	var port int
	var outputDir string
	var format string
	var downlinkEndpoint string
	var receive bool

	fs.IntVar(&port, "port", 8080, "port to listen on")
	fs.StringVar(&outputDir, "output-dir", "", "output directory for products")
	fs.StringVar(&format, "format", processor.FormatNetCDF, "output format (netcdf or tiff)")
	fs.StringVar(&downlinkEndpoint, "downlink-endpoint", "", "endpoint to announce products to")
	fs.BoolVar(&receive, "receive", false, "accept product announcements on /downlink")

	cfg, err := config.Parse(fs, os.Args[1:])

	if err != nil {
		log.Fatalf("could not load configuration: %s", err.Error())
	}

	log.Printf("configuration:\n%s", cfg.AsYaml())

	err = os.MkdirAll(outputDir, 0755)

	if err != nil {
		log.Fatalf("could not create output directory: %s", err.Error())
	}

	p, err := processor.New(cfg)

	if err != nil {
		log.Fatal(err)
	}

	var rcv *downlink.Receiver

	if receive {
		rcv = downlink.NewReceiver()
		log.Printf("accepting product announcements on /downlink")
	}

	// start the server
	log.Printf("listening on port %d", port)
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", port), newMux(p, outputDir, format, downlinkEndpoint, rcv)))
}
