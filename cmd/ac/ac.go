package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/project-spencer/wlr/pkg/config"
	"github.com/project-spencer/wlr/pkg/processor"
	"github.com/project-spencer/wlr/pkg/scene"
)

func main() {
	log.SetPrefix("[ac] ")
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.LstdFlags | log.Lshortfile | log.LUTC)

	fs := flag.NewFlagSet("ac", flag.ExitOnError)

	var input string
	var outputDir string
	var format string
	var remote string

	fs.StringVar(&input, "input", "", "scene archive")
	fs.StringVar(&outputDir, "output-dir", ".", "output directory for the product")
	fs.StringVar(&format, "format", processor.FormatNetCDF, "output format (netcdf or tiff)")
	fs.StringVar(&remote, "remote", "", "endpoint of a serve instance to process the scene instead")

	cfg, err := config.Parse(fs, os.Args[1:])

	// a remote instance brings its own configuration
	if err != nil && remote == "" {
		log.Fatalf("could not load configuration: %s", err.Error())
	}

	if input == "" {
		log.Fatalf("no input scene given")
	}

	s, err := scene.Open(input)

	if err != nil {
		log.Fatal(err)
	}

	if remote != "" {
		body, err := s.Send(remote)

		if err != nil {
			log.Fatal(err)
		}

		fmt.Println(string(body))
		return
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prod, _, err := p.Process(ctx, s)

	if err != nil {
		log.Fatal(err)
	}

	path, _, err := processor.Write(prod, outputDir, format)

	if err != nil {
		log.Fatal(err)
	}

	j, err := json.MarshalIndent(prod.Summary(), "", "  ")

	if err != nil {
		log.Fatalf("could not marshal summary: %s", err.Error())
	}

	log.Printf("wrote %s", path)
	fmt.Println(string(j))
}
