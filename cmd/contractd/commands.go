package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	contracts "github.com/vivaneiona/genkit-contracts"
)

var (
	addr       string
	planFormat string
	noLLM      bool
)

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (default from HTTP_ADDR or :8000)")
	extractCmd.Flags().BoolVar(&noLLM, "no-llm", false, "run rule extraction only")
	planCmd.Flags().StringVar(&planFormat, "format", string(contracts.FormatText), "output format: text or json")
}

// serveCmd runs the HTTP service
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP extraction service",
	Long: `Serve the extraction API.

Endpoints:
  GET  /healthz /status /config /schema /models /version /plan /metrics
  POST /check  JSON {"text": "..."} or multipart "file"
  POST /test   multipart "text_file" and "gold_json"
  POST /qa     JSON {"text", "sections", "question", "keys"}`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// extractCmd extracts one document and prints the result
var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract fields from a document and print the result as JSON",
	Long: `Extract fields from a text document ("-" or no argument reads stdin).

Examples:
  contractd extract contract.txt
  cat contract.txt | contractd extract --no-llm`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

// planCmd prints the execution plan without calling the model
var planCmd = &cobra.Command{
	Use:   "plan [file]",
	Short: "Print the extraction plan for a document without calling the model",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPlan,
}

// modelsCmd lists the models of the inference backend
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models available on the inference backend",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	listen := e.cfg.HTTP.Addr
	if addr != "" {
		listen = addr
	}

	srv := NewServer(e.cfg, e.pipeline, e.registry, e.log)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(listen) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runExtract(cmd *cobra.Command, args []string) error {
	if noLLM {
		os.Setenv("USE_LLM", "false")
	}
	e, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	text, err := readDocument(args)
	if err != nil {
		return err
	}
	res, err := e.pipeline.Run(cmd.Context(), text)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"ok":                res.Valid(),
		"data":              res.Record,
		"warnings":          res.Warnings,
		"validation_errors": res.Errors,
		"debug":             res.Diagnostics,
	})
}

func runPlan(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	var text string
	if len(args) > 0 {
		if text, err = readDocument(args); err != nil {
			return err
		}
	}
	plan, err := e.pipeline.Explain(text)
	if err != nil {
		return err
	}
	out, err := contracts.FormatPlan(plan, contracts.FormatType(planFormat))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}

func runModels(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	client := e.pipeline.Client()
	if client == nil {
		return errors.New("no inference backend configured")
	}
	models, err := client.ListModels(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{"models": models})
}

// readDocument reads a file argument or stdin and decodes it as text.
func readDocument(args []string) (string, error) {
	name := "stdin"
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		name = filepath.Base(args[0])
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return contracts.DecodeText(name, data)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
