package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/joelklabo/hassbuddy/internal/hass"
)

type fakeDirectory struct {
	entities map[string][]hass.Entity
	err      error
	location string
}

func (f *fakeDirectory) EntitiesByDomain(_ context.Context, domain string) ([]hass.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entities[domain], nil
}

func (f *fakeDirectory) LocationName(context.Context) (string, error) { return f.location, nil }

type failingRenderer struct{}

func (failingRenderer) Render(context.Context, string, map[string]any) (string, error) {
	return "", errors.New("UndefinedError: 'states' is undefined")
}

func testDirectory() *fakeDirectory {
	return &fakeDirectory{
		location: "Home",
		entities: map[string][]hass.Entity{
			DomainBinarySensor: {{ID: "binary_sensor.sensor1", FriendlyName: "Hallway motion"}},
			DomainLight:        {{ID: "light.light1", FriendlyName: "Hallway light"}},
		},
	}
}

func TestBuildRendersEntities(t *testing.T) {
	b := NewBuilder(testDirectory(), LocalRenderer{}, SystemTemplate)
	ex, err := b.Build(context.Background(), "turn on light when motion detected")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if ex.User != "turn on light when motion detected" {
		t.Fatalf("user text modified: %q", ex.User)
	}
	for _, want := range []string{
		"entity_id: binary_sensor.sensor1 name: Hallway motion,",
		"entity_id: light.light1 name: Hallway light,",
		"service: light.turn_on",
	} {
		if !strings.Contains(ex.System, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, ex.System)
		}
	}
}

func TestBuildKeepsUserTextVerbatim(t *testing.T) {
	b := NewBuilder(testDirectory(), LocalRenderer{}, SystemTemplate)
	raw := "  {{ not a template }}\n"
	ex, err := b.Build(context.Background(), raw)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if ex.User != raw {
		t.Fatalf("user text modified: %q", ex.User)
	}
}

func TestBuildMalformedTemplate(t *testing.T) {
	b := NewBuilder(testDirectory(), LocalRenderer{}, "{{range .lights}")
	_, err := b.Build(context.Background(), "x")
	var tre *TemplateRenderError
	if !errors.As(err, &tre) {
		t.Fatalf("expected TemplateRenderError, got %v", err)
	}
}

func TestBuildMissingContextKey(t *testing.T) {
	b := NewBuilder(testDirectory(), LocalRenderer{}, "{{.switches}}")
	_, err := b.Build(context.Background(), "x")
	var tre *TemplateRenderError
	if !errors.As(err, &tre) {
		t.Fatalf("expected TemplateRenderError, got %v", err)
	}
}

func TestBuildRendererFailure(t *testing.T) {
	b := NewBuilder(testDirectory(), failingRenderer{}, SystemTemplateJinja)
	_, err := b.Build(context.Background(), "x")
	var tre *TemplateRenderError
	if !errors.As(err, &tre) || !strings.Contains(err.Error(), "undefined") {
		t.Fatalf("expected wrapped renderer error, got %v", err)
	}
}

func TestBuildDirectoryFailure(t *testing.T) {
	dir := testDirectory()
	dir.err = errors.New("connection refused")
	b := NewBuilder(dir, LocalRenderer{}, SystemTemplate)
	_, err := b.Build(context.Background(), "x")
	var tre *TemplateRenderError
	if !errors.As(err, &tre) {
		t.Fatalf("expected TemplateRenderError, got %v", err)
	}
}
