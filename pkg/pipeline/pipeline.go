package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/sax"
	"github.com/aretw0/cocoon/pkg/validity"
)

// Stage pairs a component with its setup.
type Stage[T any] struct {
	Type      string
	Component T
	Setup     Setup
}

// Pipeline is assembled by the sitemap walk and executed once.
type Pipeline struct {
	generator    *Stage[Generator]
	transformers []Stage[Transformer]
	serializer   *Stage[Serializer]
	reader       *Stage[Reader]

	// MimeType overrides the serializer/reader content type when set.
	MimeType string
	// Status overrides the response status code when non-zero.
	Status int
}

// New returns an empty pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// SetGenerator sets the generator.
func (p *Pipeline) SetGenerator(typ string, g Generator, s Setup) error {
	if p.reader != nil {
		return ErrMixed
	}
	if p.generator != nil {
		return fmt.Errorf("generator %q: %w", typ, ErrAlreadySet)
	}
	p.generator = &Stage[Generator]{Type: typ, Component: g, Setup: s}
	return nil
}

// AddTransformer appends a transformer.
func (p *Pipeline) AddTransformer(typ string, t Transformer, s Setup) error {
	if p.reader != nil {
		return ErrMixed
	}
	p.transformers = append(p.transformers, Stage[Transformer]{Type: typ, Component: t, Setup: s})
	return nil
}

// SetSerializer sets the serializer.
func (p *Pipeline) SetSerializer(typ string, ser Serializer, s Setup) error {
	if p.reader != nil {
		return ErrMixed
	}
	if p.serializer != nil {
		return fmt.Errorf("serializer %q: %w", typ, ErrAlreadySet)
	}
	p.serializer = &Stage[Serializer]{Type: typ, Component: ser, Setup: s}
	return nil
}

// SetReader sets the reader.
func (p *Pipeline) SetReader(typ string, r Reader, s Setup) error {
	if p.generator != nil || p.serializer != nil || len(p.transformers) > 0 {
		return ErrMixed
	}
	if p.reader != nil {
		return fmt.Errorf("reader %q: %w", typ, ErrAlreadySet)
	}
	p.reader = &Stage[Reader]{Type: typ, Component: r, Setup: s}
	return nil
}

// HasGenerator reports whether a generator has been set.
func (p *Pipeline) HasGenerator() bool { return p.generator != nil }

// HasSerializer reports whether a serializer has been set.
func (p *Pipeline) HasSerializer() bool { return p.serializer != nil }

// HasReader reports whether a reader has been set.
func (p *Pipeline) HasReader() bool { return p.reader != nil }

// Complete reports whether the pipeline can produce bytes.
func (p *Pipeline) Complete() bool {
	return p.reader != nil || (p.generator != nil && p.serializer != nil)
}

// ContentType returns the content type of the pipeline output.
func (p *Pipeline) ContentType() string {
	switch {
	case p.MimeType != "":
		return p.MimeType
	case p.reader != nil:
		return p.reader.Component.MimeType(p.reader.Setup)
	case p.serializer != nil:
		return p.serializer.Component.MimeType()
	}
	return ""
}

// Process executes the pipeline into the environment's response.
func (p *Pipeline) Process(ctx context.Context, env *domain.Environment) error {
	if !p.Complete() {
		return ErrIncomplete
	}
	if ct := p.ContentType(); ct != "" {
		env.Response.ContentType = ct
	}
	if p.Status != 0 {
		env.Response.Status = p.Status
	}
	return p.Write(ctx, env.Response)
}

// Write executes the pipeline and writes the serialized output to w.
func (p *Pipeline) Write(ctx context.Context, w io.Writer) error {
	if p.reader != nil {
		return p.reader.Component.Read(ctx, p.reader.Setup, w)
	}
	if p.serializer == nil {
		return ErrIncomplete
	}
	h, err := p.serializer.Component.Serialize(ctx, p.serializer.Setup, w)
	if err != nil {
		return fmt.Errorf("serializer %q: %w", p.serializer.Type, err)
	}
	return p.generate(ctx, h)
}

// ToSAX streams the pipeline output as XML events, skipping the serializer.
// A reader pipeline is parsed as XML.
func (p *Pipeline) ToSAX(ctx context.Context, h sax.ContentHandler) error {
	if p.reader != nil {
		var buf bytes.Buffer
		if err := p.reader.Component.Read(ctx, p.reader.Setup, &buf); err != nil {
			return err
		}
		return sax.Parse(&buf, h)
	}
	return p.generate(ctx, h)
}

func (p *Pipeline) generate(ctx context.Context, h sax.ContentHandler) error {
	if p.generator == nil {
		return ErrIncomplete
	}
	var err error
	for i := len(p.transformers) - 1; i >= 0; i-- {
		t := p.transformers[i]
		h, err = t.Component.Transform(ctx, t.Setup, h)
		if err != nil {
			return fmt.Errorf("transformer %q: %w", t.Type, err)
		}
	}
	if err := p.generator.Component.Generate(ctx, p.generator.Setup, h); err != nil {
		return fmt.Errorf("generator %q: %w", p.generator.Type, err)
	}
	return nil
}

// Validity aggregates the validities of every component, or returns nil when
// any component is not cacheable.
func (p *Pipeline) Validity(ctx context.Context) validity.Validity {
	var agg validity.Aggregated
	add := func(c any, s Setup) bool {
		cc, ok := c.(Cacheable)
		if !ok {
			return false
		}
		v := cc.Validity(ctx, s)
		if v == nil {
			return false
		}
		agg = append(agg, v)
		return true
	}
	if p.reader != nil {
		if !add(p.reader.Component, p.reader.Setup) {
			return nil
		}
		return agg
	}
	if p.generator == nil || !add(p.generator.Component, p.generator.Setup) {
		return nil
	}
	for _, t := range p.transformers {
		if !add(t.Component, t.Setup) {
			return nil
		}
	}
	return agg
}

// Describe lists the component types in execution order, e.g.
// ["file", "xpath", "xml"].
func (p *Pipeline) Describe() []string {
	if p.reader != nil {
		return []string{p.reader.Type}
	}
	var out []string
	if p.generator != nil {
		out = append(out, p.generator.Type)
	}
	for _, t := range p.transformers {
		out = append(out, t.Type)
	}
	if p.serializer != nil {
		out = append(out, p.serializer.Type)
	}
	return out
}
