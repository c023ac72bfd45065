// Command vislam-inspect evaluates a persisted SLAM run: it reports the cost
// of every relative-pose constraint and which keyframes have enough 2D-3D
// correspondences to attempt loop-closure pose recovery.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/vislam/internal/config"
	"github.com/banshee-data/vislam/internal/fsutil"
	"github.com/banshee-data/vislam/internal/version"
)

var (
	runPath     = flag.String("run", "vislam-run.db", "SQLite file holding the SLAM run")
	configPath  = flag.String("config", "", "JSON tuning file (defaults apply when empty)")
	plotPath    = flag.String("plot", "", "Write a residual-norm chart to this image file")
	trajPath    = flag.String("trajectory", "", "Write an x-y trajectory chart to this image file")
	htmlPath    = flag.String("html", "", "Write an interactive HTML dashboard to this file")
	synthesize  = flag.Int("synthesize", 0, "Write a synthetic run with this many keyframes to -run before inspecting")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("vislam-inspect"))
		return
	}

	cfg := config.EmptySlamConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadSlamConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Printf("Loaded config from %s", *configPath)
	}

	if *synthesize > 0 {
		c, err := synthesizeRun(*synthesize, cfg)
		if err != nil {
			log.Fatalf("Failed to synthesize run: %v", err)
		}
		if err := c.Save(*runPath); err != nil {
			log.Fatalf("Failed to save synthetic run: %v", err)
		}
		log.Printf("Wrote synthetic run %s with %d keyframes to %s", c.RunID, *synthesize, *runPath)
	}

	if _, err := os.Stat(*runPath); err != nil {
		log.Fatalf("Run file not found: %v", err)
	}

	rep, err := inspect(*runPath, cfg)
	if err != nil {
		log.Fatalf("Inspection failed: %v", err)
	}
	rep.print(os.Stdout)

	if err := writeCharts(rep, *plotPath, *trajPath); err != nil {
		log.Fatalf("Failed to write charts: %v", err)
	}
	if err := writeDashboard(fsutil.OSFileSystem{}, rep, *htmlPath); err != nil {
		log.Fatalf("Failed to write dashboard: %v", err)
	}
}
