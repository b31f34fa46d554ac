package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/hanpama/entityplan/internal/compiler"
	"github.com/hanpama/entityplan/internal/config"
	"github.com/hanpama/entityplan/internal/eventbus"
	"github.com/hanpama/entityplan/internal/executor"
	language "github.com/hanpama/entityplan/internal/language"
	"github.com/hanpama/entityplan/internal/logger"
	"github.com/hanpama/entityplan/internal/otel"
	"github.com/hanpama/entityplan/internal/plan"
	"github.com/hanpama/entityplan/internal/schema"
)

const rootUsage = `entityplan: GraphQL query plan compiler

USAGE:
  entityplan <command> [flags]

COMMANDS:
  compile          Compile a query document and print its plan as JSON
  schema           Print the SDL of a schema as it is understood
  exec             Compile a query and evaluate it against a JSON data file
  help             Show help for any command
`

const compileUsage = `compile FLAGS:
  -schema <file>       GraphQL SDL file (required)
  -query <file>        Query document (required)
  -vars <file>         JSON file with request variables
  -config <file>       YAML configuration file
  -id-arguments        Add by-id fields for list fields (overrides config)
`

const schemaUsage = `schema FLAGS:
  -schema <file>       GraphQL SDL file (required)
  -config <file>       YAML configuration file
  -id-arguments        Add by-id fields for list fields (overrides config)
`

const execUsage = `exec FLAGS:
  -schema <file>       GraphQL SDL file (required)
  -query <file>        Query document (required)
  -data <file>         JSON file with the root value (required)
  -vars <file>         JSON file with request variables
  -operation <name>    Operation to run when the document has several
  -config <file>       YAML configuration file
  -id-arguments        Add by-id fields for list fields (overrides config)
`

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("missing command")
	}
	cmd, cmdArgs := args[0], args[1:]
	switch cmd {
	case "compile":
		return cmdCompile(cmdArgs, stdout, stderr)
	case "schema":
		return cmdSchema(cmdArgs, stdout, stderr)
	case "exec":
		return cmdExec(cmdArgs, stdout, stderr)
	case "help":
		return cmdHelp(cmdArgs, stdout)
	default:
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "compile":
		fmt.Fprint(stdout, compileUsage)
	case "schema":
		fmt.Fprint(stdout, schemaUsage)
	case "exec":
		fmt.Fprint(stdout, execUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

// common holds the flags shared by every command.
type common struct {
	schemaFile  string
	configFile  string
	idArguments bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.schemaFile, "schema", "", "GraphQL SDL file")
	fs.StringVar(&c.configFile, "config", "", "YAML configuration file")
	fs.BoolVar(&c.idArguments, "id-arguments", false, "Add by-id fields for list fields")
}

// env is what a command runs with once flags and configuration are read.
type env struct {
	cfg    *config.Config
	log    zerolog.Logger
	schema *schema.Schema
}

func (c *common) setup(stderr io.Writer) (*env, error) {
	if c.schemaFile == "" {
		return nil, fmt.Errorf("-schema is required")
	}
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return nil, err
	}
	log, err := logger.FromConfig(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	namer, err := schema.NamerFor(cfg.Schema.Namer)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(c.schemaFile)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	s, err := schema.FromSDL(filepath.Base(c.schemaFile), string(src), schema.WithNamer(namer))
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	if c.idArguments || cfg.Schema.IDArguments {
		s.WithIDArguments()
	}
	log.Debug().Str("schema", c.schemaFile).Int("types", len(s.Types)).Msg("schema loaded")
	return &env{cfg: cfg, log: log, schema: s}, nil
}

// telemetry exports spans when an endpoint is configured.
func (e *env) telemetry(ctx context.Context) (func(), error) {
	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(ctx, e.cfg.Otel.Endpoint, e.cfg.Otel.Service)
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			e.log.Warn().Err(err).Msg("otel shutdown")
		}
	}, nil
}

func readJSON(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

func compileFile(ctx context.Context, e *env, queryFile string, vars map[string]any, operation string) (*plan.Document, error) {
	if queryFile == "" {
		return nil, fmt.Errorf("-query is required")
	}
	src, err := os.ReadFile(queryFile)
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}
	doc, err := language.ParseQueryNamed(filepath.Base(queryFile), string(src))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	out, err := compiler.Compile(ctx, doc, compiler.NewCatalog(e.schema, nil),
		compiler.Request{Variables: vars, OperationName: operation}, compiler.WithLogger(e.log))
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	return out, nil
}

func cmdCompile(args []string, stdout, stderr io.Writer) error {
	var c common
	queryFile, varsFile := "", ""
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	c.register(fs)
	fs.StringVar(&queryFile, "query", queryFile, "Query document")
	fs.StringVar(&varsFile, "vars", varsFile, "JSON file with request variables")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, compileUsage)
		return err
	}
	e, err := c.setup(stderr)
	if err != nil {
		fmt.Fprint(stderr, compileUsage)
		return err
	}
	ctx := context.Background()
	stop, err := e.telemetry(ctx)
	if err != nil {
		return err
	}
	defer stop()

	vars, err := readJSON(varsFile)
	if err != nil {
		return fmt.Errorf("read vars: %w", err)
	}
	doc, err := compileFile(ctx, e, queryFile, vars, "")
	if err != nil {
		return err
	}
	st, err := plan.Describe(doc)
	if err != nil {
		return fmt.Errorf("describe: %w", err)
	}
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(b))
	return err
}

func cmdSchema(args []string, stdout, stderr io.Writer) error {
	var c common
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, schemaUsage)
		return err
	}
	e, err := c.setup(stderr)
	if err != nil {
		fmt.Fprint(stderr, schemaUsage)
		return err
	}
	_, err = fmt.Fprint(stdout, schema.Render(e.schema))
	return err
}

func cmdExec(args []string, stdout, stderr io.Writer) error {
	var c common
	queryFile, varsFile, dataFile, operation := "", "", "", ""
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	c.register(fs)
	fs.StringVar(&queryFile, "query", queryFile, "Query document")
	fs.StringVar(&varsFile, "vars", varsFile, "JSON file with request variables")
	fs.StringVar(&dataFile, "data", dataFile, "JSON file with the root value")
	fs.StringVar(&operation, "operation", operation, "Operation to run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, execUsage)
		return err
	}
	if dataFile == "" {
		fmt.Fprint(stderr, execUsage)
		return fmt.Errorf("-data is required")
	}
	e, err := c.setup(stderr)
	if err != nil {
		fmt.Fprint(stderr, execUsage)
		return err
	}
	ctx := context.Background()
	stop, err := e.telemetry(ctx)
	if err != nil {
		return err
	}
	defer stop()

	vars, err := readJSON(varsFile)
	if err != nil {
		return fmt.Errorf("read vars: %w", err)
	}
	root, err := readJSON(dataFile)
	if err != nil {
		return fmt.Errorf("read data: %w", err)
	}
	doc, err := compileFile(ctx, e, queryFile, vars, operation)
	if err != nil {
		return err
	}
	ex := executor.NewExecutor(executor.WithCoercer(e.schema), executor.WithLogger(e.log))
	result := ex.Execute(ctx, doc, operation, vars, root)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
