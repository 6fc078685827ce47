// ABOUTME: Shared plumbing for the built-in connectors: dispatch table, param decoding, registration.
// ABOUTME: RegisterAll wires every built-in connector into a factory table.

package integrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/ndtriplebolt/coreassist-electron/internal/connector"
)

//go:embed manifests
var manifestFS embed.FS

// ErrMissingParam indicates a required tool parameter was absent or empty.
var ErrMissingParam = errors.New("missing required parameter")

// now is swapped in tests for stable timestamps.
var now = time.Now

// Manifests returns the embedded manifest tree, one directory per connector.
func Manifests() fs.FS {
	sub, err := fs.Sub(manifestFS, "manifests")
	if err != nil {
		// The embed directive guarantees the directory exists.
		panic(err)
	}
	return sub
}

// RegisterAll registers every built-in connector with the factory table.
func RegisterAll(f *connector.Factories) error {
	builtins := map[string]connector.Factory{
		"slack":           NewSlack,
		"google_tasks":    NewGoogleTasks,
		"google_calendar": NewGoogleCalendar,
	}
	for _, name := range []string{"slack", "google_tasks", "google_calendar"} {
		if err := f.Register(name, builtins[name]); err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
	}
	return nil
}

type handlerFunc func(ctx context.Context, params map[string]any, auth connector.AuthData) (map[string]any, error)

// service is the common shape of a stub connector: it requires an OAuth
// access token and routes bare tool names through a handler table.
type service struct {
	connector.Base
	display  string
	handlers map[string]handlerFunc
}

func (s *service) Execute(ctx context.Context, tool string, params map[string]any, auth connector.AuthData) (map[string]any, error) {
	if auth.AccessToken() == "" {
		return s.AuthRequired(s.display), nil
	}

	h, ok := s.handlers[tool]
	if !ok {
		return connector.UnknownTool(tool), nil
	}
	return h(ctx, params, auth)
}

// decodeParams decodes loosely typed tool parameters into a struct with
// json tags. Fields already set on out act as defaults.
func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("building decoder: %w", err)
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

// requireParams returns ErrMissingParam for the first empty field.
func requireParams(fields ...[2]string) error {
	for _, f := range fields {
		if f[1] == "" {
			return fmt.Errorf("%w: %s", ErrMissingParam, f[0])
		}
	}
	return nil
}

func timestamp() string {
	return now().UTC().Format(time.RFC3339)
}
