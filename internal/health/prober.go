// Package health checks the FoundryVTT container and web endpoint and
// escalates sustained failure to the Signal group.
package health

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// Prober performs the two boundary checks. Both are read-only queries:
// any failure (command missing, timeout, refused connection) degrades
// to false rather than an error.
type Prober interface {
	CheckContainer(ctx context.Context) bool
	CheckWeb(ctx context.Context) bool
}

// HostProber queries the local host: podman for the container, a
// bounded HTTP probe for the web endpoint.
type HostProber struct {
	ContainerName string
	Port          int
	WebTimeout    time.Duration

	client *http.Client
}

var _ Prober = (*HostProber)(nil)

func NewHostProber(containerName string, port int, webTimeout time.Duration) *HostProber {
	if webTimeout <= 0 {
		webTimeout = 5 * time.Second
	}
	return &HostProber{
		ContainerName: containerName,
		Port:          port,
		WebTimeout:    webTimeout,
		client:        &http.Client{Timeout: webTimeout},
	}
}

// CheckContainer returns true iff podman reports at least one running
// container matching the configured name filter.
func (p *HostProber) CheckContainer(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, "podman", "ps",
		"--filter", "name="+p.ContainerName,
		"--filter", "status=running",
		"-q",
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return false
	}
	return strings.TrimSpace(stdout.String()) != ""
}

// CheckWeb returns true iff an HTTP request to localhost completes
// without a transport-level error. The status code is deliberately not
// inspected: a 500 still proves the server is up and answering.
func (p *HostProber) CheckWeb(ctx context.Context) bool {
	url := fmt.Sprintf("http://localhost:%d", p.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
