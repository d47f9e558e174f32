package controller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cuemby/helmsman/pkg/events"
)

// Artifact is a single URL-to-local-path download the resolve step
// performs before its dependent step may proceed (spec section
// 4.6.4).
type Artifact struct {
	URL       string
	LocalPath string
}

// ResolveArtifactsController implements ResolveArtifacts: downloads a
// set of URLs to local paths, idempotently — an artifact already
// present at LocalPath is not re-downloaded.
type ResolveArtifactsController struct {
	base

	artifacts []Artifact
	client    *http.Client
}

// NewResolveArtifactsController creates a resolve-artifacts
// controller.
func NewResolveArtifactsController(artifacts []Artifact, bus *events.Bus, client *http.Client) *ResolveArtifactsController {
	if client == nil {
		client = http.DefaultClient
	}
	return &ResolveArtifactsController{
		base:      newBase(bus),
		artifacts: artifacts,
		client:    client,
	}
}

// Run downloads every artifact not already present locally, running
// concurrently within this single step action, and completes once every
// download has finished, reporting the first failure if any.
func (c *ResolveArtifactsController) Run(ctx context.Context) {
	errCh := make(chan error, len(c.artifacts))
	for _, a := range c.artifacts {
		a := a
		go func() { errCh <- c.resolve(ctx, a) }()
	}

	var firstErr error
	for range c.artifacts {
		select {
		case err := <-errCh:
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case reason := <-c.shutdownCh:
			c.finish(Result{Cancelled: true, Reason: reason})
			return
		case <-ctx.Done():
			c.finish(Result{Cancelled: true, Reason: "context cancelled"})
			return
		}
	}
	c.finish(Result{Err: firstErr})
}

func (c *ResolveArtifactsController) resolve(ctx context.Context, a Artifact) error {
	if _, err := os.Stat(a.LocalPath); err == nil {
		return nil // idempotent: already resolved.
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return fmt.Errorf("resolve artifact %s: %w", a.URL, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("resolve artifact %s: %w", a.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resolve artifact %s: unexpected status %d", a.URL, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(a.LocalPath), 0o755); err != nil {
		return fmt.Errorf("resolve artifact %s: %w", a.URL, err)
	}
	tmp := a.LocalPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("resolve artifact %s: %w", a.URL, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("resolve artifact %s: %w", a.URL, err)
	}
	f.Close()
	return os.Rename(tmp, a.LocalPath)
}
