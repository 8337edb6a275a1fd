// Command healthcheck probes the service's /healthz endpoint and exits nonzero
// on failure. It exists so the container image needs no curl/wget for its
// HEALTHCHECK directive.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost"+addr+"/healthz", nil)
	if err != nil {
		fail(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fail(fmt.Errorf("healthz returned %s", resp.Status))
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "healthcheck:", err)
	os.Exit(1)
}
