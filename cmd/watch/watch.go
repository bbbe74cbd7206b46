package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/project-spencer/wlr/pkg/catalog"
	"github.com/project-spencer/wlr/pkg/config"
	"github.com/project-spencer/wlr/pkg/downlink"
	"github.com/project-spencer/wlr/pkg/processor"
	"github.com/project-spencer/wlr/pkg/product"
	"github.com/project-spencer/wlr/pkg/scene"
)

type watcher struct {
	p                *processor.Processor
	cat              *catalog.Catalog
	outputDir        string
	format           string
	downlinkEndpoint string
	remove           bool
}

// sceneName returns the catalog key of a scene archive, or "" for files
// that are no scene archives.
func sceneName(fileName string) string {
	base := filepath.Base(fileName)
	if strings.HasPrefix(base, ".") || filepath.Ext(base) != ".zip" {
		return ""
	}
	return strings.TrimSuffix(base, ".zip")
}

func (w *watcher) checkFile(ctx context.Context, fileName string) error {
	name := sceneName(fileName)

	if name == "" {
		return nil
	}

	done, err := w.cat.Processed(name)

	if err != nil {
		return fmt.Errorf("could not query catalog for %s: %w", name, err)
	}

	if done {
		log.Printf("scene %s already processed, skipping", name)
		return nil
	}

	run, err := w.cat.Begin(name)

	if err != nil {
		return err
	}

	log.Printf("found scene %s, run %s", fileName, run.ID)

	path, size, summary, err := w.process(ctx, fileName)

	if err != nil {
		if ferr := w.cat.Fail(run.ID, err); ferr != nil {
			log.Printf("could not record failure of run %s: %s", run.ID, ferr)
		}
		return err
	}

	err = w.cat.Finish(run.ID, summary, path)

	if err != nil {
		return err
	}

	// only announce if there is something to downlink
	if w.downlinkEndpoint != "" && summary.Valid > 0 {
		err := downlink.SendToRemote(w.downlinkEndpoint, downlink.Announcement{
			Name:          path,
			Size:          uint64(size),
			CloudCover:    summary.CloudCover,
			WaterCover:    summary.WaterCover,
			ValidFraction: summary.ValidFraction,
		})

		if err != nil {
			log.Printf("could not announce product %s: %s", path, err)
		}
	}

	if w.remove {
		err = os.Remove(fileName)

		if err != nil {
			log.Printf("could not remove file %s: %s", fileName, err)
		}
	}

	return nil
}

func (w *watcher) process(ctx context.Context, fileName string) (string, int64, product.Summary, error) {
	var summary product.Summary

	s, err := scene.Open(fileName)

	if err != nil {
		return "", 0, summary, err
	}

	prod, _, err := w.p.Process(ctx, s)

	if err != nil {
		return "", 0, summary, err
	}

	path, size, err := processor.Write(prod, w.outputDir, w.format)

	if err != nil {
		return "", 0, summary, err
	}

	return path, size, prod.Summary(), nil
}

// listRuns prints the runs of cat, newest first.
func listRuns(cat *catalog.Catalog, w io.Writer) error {
	runs, err := cat.Runs()

	if err != nil {
		return fmt.Errorf("could not list runs: %w", err)
	}

	for _, r := range runs {
		line := r.String()
		if r.Output != "" {
			line += " -> " + r.Output
		}
		if r.Error != "" {
			line += ": " + r.Error
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	return nil
}

func main() {
	log.SetPrefix("[watch] ")
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.LstdFlags | log.Lshortfile | log.LUTC)

	fs := flag.NewFlagSet("watch", flag.ExitOnError)

	var monitorDir string
	var catalogPath string
	var resume bool
	var list bool

	w := &watcher{}

	fs.StringVar(&monitorDir, "monitor-dir", "", "directory to monitor for scene archives, scenes must be moved in atomically")
	fs.StringVar(&w.outputDir, "output-dir", "", "output directory for products")
	fs.StringVar(&w.format, "format", processor.FormatNetCDF, "output format (netcdf or tiff)")
	fs.StringVar(&catalogPath, "catalog", "catalog.db", "processing catalog")
	fs.StringVar(&w.downlinkEndpoint, "downlink-endpoint", "", "endpoint to announce products to")
	fs.BoolVar(&w.remove, "remove", false, "remove scene archives after processing")
	fs.BoolVar(&resume, "resume", false, "process scenes already in the directory")
	fs.BoolVar(&list, "list", false, "print the runs in the catalog and exit")

	cfg, err := config.Parse(fs, os.Args[1:])

	// listing needs no processing configuration
	if err != nil && !list {
		log.Fatalf("could not load configuration: %s", err.Error())
	}

	w.cat, err = catalog.Open(catalogPath)

	if err != nil {
		log.Fatalf("could not open catalog: %s", err.Error())
	}

	defer w.cat.Close()

	if list {
		if err := listRuns(w.cat, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	log.Printf("configuration:\n%s", cfg.AsYaml())

	err = os.MkdirAll(w.outputDir, 0755)

	if err != nil {
		log.Fatalf("could not create output directory: %s", err.Error())
	}

	w.p, err = processor.New(cfg)

	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if resume {
		// we first check existing files
		f, err := os.ReadDir(monitorDir)

		if err != nil {
			log.Fatalf("could not read directory %s: %s", monitorDir, err)
		}

		for _, file := range f {
			err := w.checkFile(ctx, filepath.Join(monitorDir, file.Name()))
			if err != nil {
				log.Println("error checking file:", err)
			}
		}
	}

	log.Printf("monitoring directory %s", monitorDir)
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Fatal(err)
	}
	defer fw.Close()

	err = fw.Add(monitorDir)
	if err != nil {
		log.Fatal(err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("watch stopped")
			return

		case file, ok := <-fw.Events:
			if !ok {
				log.Println("watch stopped")
				return
			}

			if !file.Has(fsnotify.Create) {
				continue
			}

			err := w.checkFile(ctx, file.Name)
			if err != nil {
				log.Println("error checking file:", err)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				log.Println("watch stopped")
				return
			}
			log.Println("error:", err)
		}
	}
}
