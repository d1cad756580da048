package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/martinemde/rlm/contextnorm"
	"github.com/martinemde/rlm/rlm"
)

type queryOptions struct {
	file          string
	text          string
	question      string
	model         string
	maxIterations int
}

func newQueryCmd(a *app) *cobra.Command {
	var opts queryOptions
	cmd := &cobra.Command{
		Use:   "query [question...]",
		Short: "Ask one question about a file, a string, or stdin",
		Example: `  rlm query -f server.log "which request ids failed?"
  cat transcript.txt | rlm query -q "who spoke last?"
  rlm query -t "$(cat notes.md)" -v "summarize the open items"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.question == "" {
				opts.question = strings.Join(args, " ")
			}
			if strings.TrimSpace(opts.question) == "" {
				return errors.New("a question is required (positional or --question)")
			}
			input, err := resolveContext(opts, cmd.InOrStdin())
			if err != nil {
				return err
			}

			registry, err := a.registry()
			if err != nil {
				return err
			}
			engine := registry.Default()
			if opts.model != "" {
				engine, err = registry.Engine(rlm.ParseModelPair(opts.model))
				if err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess := engine.NewSession(rlm.WithMaxIterations(opts.maxIterations))
			done := make(chan struct{})
			go func() {
				defer close(done)
				if a.cfg.Logging.Verbose {
					renderEvents(cmd.ErrOrStderr(), sess.Events())
					return
				}
				for range sess.Events() {
				}
			}()

			result, err := sess.Completion(ctx, rlm.Input{Context: input, Query: opts.question})
			sess.Close()
			<-done
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), result.Answer)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Load the context from a file")
	cmd.Flags().StringVarP(&opts.text, "text", "t", "", "Use this text as the context")
	cmd.Flags().StringVarP(&opts.question, "question", "q", "", "Question to answer")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", `Model or "model:recursive_model" pair`)
	cmd.Flags().IntVar(&opts.maxIterations, "max-iterations", 10, "Iteration budget before a forced answer")
	cmd.MarkFlagsMutuallyExclusive("file", "text")
	return cmd
}

// resolveContext picks the context source: --file, then --text, then stdin.
func resolveContext(opts queryOptions, stdin io.Reader) (any, error) {
	switch {
	case opts.file != "" && opts.text != "":
		return nil, errors.New("--file and --text are mutually exclusive")
	case opts.file != "":
		doc, err := contextnorm.LoadFile(opts.file)
		if err != nil {
			return nil, err
		}
		return doc, nil
	case opts.text != "":
		return opts.text, nil
	}
	if stdin == nil {
		return nil, errors.New("no context: pass --file, --text, or pipe to stdin")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("no context: pass --file, --text, or pipe to stdin")
	}
	return string(data), nil
}

// renderEvents prints a readable trace of a session until its event channel
// closes.
func renderEvents(w io.Writer, events <-chan rlm.SessionEvent) {
	for ev := range events {
		d := ev.Data
		switch ev.Kind {
		case rlm.EventSessionStart:
			fmt.Fprintf(w, "session %s: %v context, %v chars, model %v, up to %v iterations\n",
				ev.SessionID, d["context_kind"], d["context_chars"], d["model"], d["max_iterations"])
		case rlm.EventIterationStart:
			fmt.Fprintf(w, "\n== iteration %v ==\n", d["iteration"])
		case rlm.EventModelResponse:
			fmt.Fprintf(w, "model:\n%s\n", indent(fmt.Sprint(d["text"])))
		case rlm.EventCodeExecuted:
			status := "ok"
			if failed, _ := d["failed"].(bool); failed {
				status = "failed"
			}
			fmt.Fprintf(w, "repl block %v (%s, %v):\n%s\n", d["block"], status, d["duration"], indent(fmt.Sprint(d["output"])))
		case rlm.EventSubQueryStart:
			fmt.Fprintf(w, "sub-query %v: %q over %v chars\n", d["id"], d["question"], d["fragment_chars"])
		case rlm.EventSubQueryEnd:
			if e, ok := d["error"]; ok {
				fmt.Fprintf(w, "sub-query %v failed: %v\n", d["id"], e)
			} else {
				fmt.Fprintf(w, "sub-query %v returned %v chars\n", d["id"], d["result_chars"])
			}
		case rlm.EventLoopDetection, rlm.EventWarning:
			fmt.Fprintf(w, "warning: %v\n", d["message"])
		case rlm.EventForcedFinal:
			fmt.Fprintf(w, "iteration budget exhausted after %v, forcing an answer\n", d["iteration"])
		case rlm.EventFinalAnswer:
			fmt.Fprintf(w, "final answer at iteration %v\n", d["iteration"])
		case rlm.EventError:
			fmt.Fprintf(w, "error: %v\n", d["error"])
		}
	}
}

func indent(s string) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return "  (empty)"
	}
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
