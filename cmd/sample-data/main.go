package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/hawklight/vulnreport/internal/sampledata"
)

func main() {
	out := flag.String("out", "samples", "output directory for generated chunk files")
	assets := flag.Int("assets", 50, "number of assets to simulate")
	chunks := flag.Int("chunks", 3, "number of chunk files to write")
	seed := flag.Int64("seed", 42, "random seed, fixed for reproducible data")
	serve := flag.String("serve", "", "serve the export API on this address instead of writing files (e.g. :8089)")
	flag.Parse()

	if *serve != "" {
		records := sampledata.Records(*assets, *seed)
		srv := sampledata.NewMockExportServer(records, 50)
		log.Printf("Serving mock export API on %s (%d records)", *serve, len(records))
		log.Printf("Point the client at it with TENABLE_BASE_URL=http://localhost%s", *serve)
		if err := http.ListenAndServe(*serve, srv.Handler()); err != nil {
			log.Fatal(err)
		}
		return
	}

	if err := sampledata.Generate(*out, *assets, *chunks, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating sample data: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Sample data generation complete.")
}
