// Package prompt renders the system prompt that teaches the model which
// entities exist and what an automation looks like.
package prompt

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/joelklabo/hassbuddy/internal/hass"
)

// Entity domains listed in the prompt.
const (
	DomainBinarySensor = "binary_sensor"
	DomainLight        = "light"
)

// TemplateRenderer renders tmpl against vars.
type TemplateRenderer interface {
	Render(ctx context.Context, tmpl string, vars map[string]any) (string, error)
}

// EntityDirectory lists entities of one domain.
type EntityDirectory interface {
	EntitiesByDomain(ctx context.Context, domain string) ([]hass.Entity, error)
}

// LocationNamer is implemented by directories that know the instance name.
type LocationNamer interface {
	LocationName(ctx context.Context) (string, error)
}

// TemplateRenderError wraps any failure while producing the system prompt.
type TemplateRenderError struct {
	Err error
}

func (e *TemplateRenderError) Error() string { return e.Err.Error() }

func (e *TemplateRenderError) Unwrap() error { return e.Err }

// Exchange is the two-message chat sent to the model.
type Exchange struct {
	System string
	User   string
}

// Builder produces Exchanges from live entity state.
type Builder struct {
	dir      EntityDirectory
	renderer TemplateRenderer
	tmpl     string
}

// NewBuilder returns a Builder rendering tmpl with renderer.
func NewBuilder(dir EntityDirectory, renderer TemplateRenderer, tmpl string) *Builder {
	return &Builder{dir: dir, renderer: renderer, tmpl: tmpl}
}

// Build renders the system prompt and pairs it with the user's text,
// unmodified.
func (b *Builder) Build(ctx context.Context, userText string) (Exchange, error) {
	vars, err := b.context(ctx)
	if err != nil {
		return Exchange{}, &TemplateRenderError{Err: err}
	}
	system, err := b.renderer.Render(ctx, b.tmpl, vars)
	if err != nil {
		return Exchange{}, &TemplateRenderError{Err: err}
	}
	return Exchange{System: system, User: userText}, nil
}

func (b *Builder) context(ctx context.Context) (map[string]any, error) {
	sensors, err := b.dir.EntitiesByDomain(ctx, DomainBinarySensor)
	if err != nil {
		return nil, fmt.Errorf("list %s entities: %w", DomainBinarySensor, err)
	}
	lights, err := b.dir.EntitiesByDomain(ctx, DomainLight)
	if err != nil {
		return nil, fmt.Errorf("list %s entities: %w", DomainLight, err)
	}
	vars := map[string]any{
		"ha_name":        "",
		"binary_sensors": entityVars(sensors),
		"lights":         entityVars(lights),
	}
	if ln, ok := b.dir.(LocationNamer); ok {
		name, err := ln.LocationName(ctx)
		if err != nil {
			return nil, fmt.Errorf("location name: %w", err)
		}
		vars["ha_name"] = name
	}
	return vars, nil
}

func entityVars(entities []hass.Entity) []map[string]string {
	out := make([]map[string]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, map[string]string{"entity_id": e.ID, "name": e.FriendlyName})
	}
	return out
}

// LocalRenderer renders Go text/template templates in process.
type LocalRenderer struct{}

func (LocalRenderer) Render(_ context.Context, tmpl string, vars map[string]any) (string, error) {
	t, err := template.New("system").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}
