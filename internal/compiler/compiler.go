// Package compiler turns a parsed GraphQL request document into a
// plan.Document.
//
// Compilation is synchronous and either returns a complete Document or the
// first error met. Field expressions are built through the catalog; variable
// references in arguments are left as reads of the operation's variables
// parameter, while directive arguments and deferred queries are resolved
// with the variables of the request being compiled.
package compiler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hanpama/entityplan/internal/directive"
	"github.com/hanpama/entityplan/internal/eventbus"
	"github.com/hanpama/entityplan/internal/events"
	language "github.com/hanpama/entityplan/internal/language"
	"github.com/hanpama/entityplan/internal/plan"
	"github.com/hanpama/entityplan/internal/reqid"
)

// Request carries the caller's side of a compile.
type Request struct {
	Variables map[string]any
	// OperationName is only reported in logs and events.
	OperationName string
}

type Option func(*Compiler)

// WithLogger sets the logger debug records are written to.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Compiler) { c.log = l }
}

// WithDirectives adds processors that take precedence over the catalog's.
func WithDirectives(processors ...directive.Processor) Option {
	return func(c *Compiler) {
		for _, p := range processors {
			c.directives.Register(p)
		}
	}
}

// Compiler holds compile options. It keeps no per-compile state and can be
// shared.
type Compiler struct {
	log        zerolog.Logger
	directives *directive.Registry
}

func New(opts ...Option) *Compiler {
	c := &Compiler{log: zerolog.Nop(), directives: directive.NewRegistry()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compile is New(opts...).Compile.
func Compile(ctx context.Context, doc *language.QueryDocument, catalog Catalog, req Request, opts ...Option) (*plan.Document, error) {
	return New(opts...).Compile(ctx, doc, catalog, req)
}

func (c *Compiler) Compile(ctx context.Context, doc *language.QueryDocument, catalog Catalog, req Request) (*plan.Document, error) {
	ctx, _ = reqid.Ensure(ctx)
	eventbus.Publish(ctx, events.CompileStart{
		OperationName: req.OperationName,
		Operations:    len(doc.Operations),
		Fragments:     len(doc.Fragments),
	})
	start := time.Now()

	w := &walker{
		catalog:    catalog,
		directives: c.directives,
		vars:       req.Variables,
		log:        c.log,
	}
	out, err := w.visitDocument(doc, nil)

	eventbus.Publish(ctx, events.CompileFinish{
		OperationName: req.OperationName,
		Operations:    len(doc.Operations),
		Fragments:     len(doc.Fragments),
		Err:           err,
		Duration:      time.Since(start),
	})
	if err != nil {
		c.log.Debug().Err(err).Str("operation", req.OperationName).Msg("compile failed")
		return nil, err
	}
	c.log.Debug().
		Str("operation", req.OperationName).
		Int("operations", len(out.Operations)).
		Int("fragments", len(out.Fragments)).
		Int("nodes", out.Len()).
		Dur("took", time.Since(start)).
		Msg("document compiled")
	return out, nil
}
