package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/dmitrijs2005/plotroom/internal/client/realtime"
)

var errNotWatching = errors.New("not watching a project, use: watch <projectId>")

// ensureStream opens the realtime stream on first use with a freshly
// refreshed access token.
func (a *App) ensureStream(ctx context.Context) (stream, error) {
	a.mu.Lock()
	s := a.stream
	a.mu.Unlock()
	if s != nil {
		return s, nil
	}

	if err := a.api.Refresh(ctx); err != nil {
		return nil, err
	}
	s, err := a.openStream(context.WithoutCancel(ctx), a.api.Tokens().AccessToken)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.stream = s
	a.mu.Unlock()

	go func() {
		if err := s.Watch(ctx, a.printEvent); err != nil {
			log.Printf("realtime stream closed: %s", err.Error())
		}
		a.mu.Lock()
		if a.stream == s {
			a.stream = nil
			a.project = ""
		}
		a.mu.Unlock()
	}()
	return s, nil
}

func (a *App) printEvent(e realtime.Event) {
	var payload map[string]any
	_ = json.Unmarshal(e.Data, &payload)

	switch e.Name {
	case "user-joined", "user-left":
		fmt.Fprintf(a.out, "* %s %s\n", payload["userId"], e.Name)
	default:
		fmt.Fprintf(a.out, "[%s] %s\n", e.Name, string(e.Data))
	}
}

func (a *App) closeStream() {
	a.mu.Lock()
	s := a.stream
	a.stream = nil
	a.project = ""
	a.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
}

// Watch joins the room of projectID, leaving the previously watched one.
func (a *App) Watch(ctx context.Context, projectID string) error {
	s, err := a.ensureStream(ctx)
	if err != nil {
		log.Printf("error: %s", err.Error())
		return err
	}

	a.mu.Lock()
	prev := a.project
	a.mu.Unlock()

	if prev == projectID {
		return nil
	}
	if prev != "" {
		if err := s.Leave(prev); err != nil {
			return err
		}
	}
	if err := s.Join(projectID); err != nil {
		return err
	}

	a.mu.Lock()
	a.project = projectID
	a.mu.Unlock()
	fmt.Fprintf(a.out, "Watching %s\n", projectID)
	return nil
}

// Unwatch leaves the current room and closes the stream.
func (a *App) Unwatch(context.Context) error {
	a.mu.Lock()
	s, project := a.stream, a.project
	a.mu.Unlock()

	if s == nil || project == "" {
		return errNotWatching
	}
	_ = s.Leave(project)
	a.closeStream()
	return nil
}

// Send emits event to the watched project. body is an optional JSON object
// whose projectId defaults to the watched project.
func (a *App) Send(_ context.Context, event, body string) error {
	a.mu.Lock()
	s, project := a.stream, a.project
	a.mu.Unlock()

	if s == nil || project == "" {
		return errNotWatching
	}

	payload := map[string]any{}
	if body != "" {
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			return fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	if _, ok := payload["projectId"]; !ok {
		payload["projectId"] = project
	}
	return s.Send(event, payload)
}
