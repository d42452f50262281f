package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sheetmail/internal/app"
	"sheetmail/internal/delivery"
	"sheetmail/internal/dispatch"
	"sheetmail/internal/eventbus"
)

func newSendCommand(flags *rootFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "send <group> <template>",
		Short: "Run one dispatch for a group in the foreground",
		Long: `Sends the template to every recipient of the group, one message per pacing
interval, and prints each outcome. Ctrl-C cancels between recipients.
Exits non-zero when the run fails (authentication failure or cancellation).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []app.Option
			if dryRun {
				opts = append(opts, app.WithClient(dryRunClient(cmd.OutOrStdout())))
			}
			a, err := flags.newApp(opts...)
			if err != nil {
				return err
			}
			defer func() { _ = a.Stop(context.Background(), app.StopCommandEnd) }()
			return sendOnce(cmd.Context(), a, args[0], args[1], cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "render and print messages instead of contacting the relay")
	return cmd
}

func dryRunClient(w io.Writer) delivery.Client {
	return delivery.ClientFunc(func(_ context.Context, env delivery.Envelope) error {
		fmt.Fprintf(w, "--- %s -> %s\nSubject: %s\n\n%s\n", env.From, env.To, env.Subject, env.Body)
		return nil
	})
}

func sendOnce(parent context.Context, a *app.App, group, template string, w io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	events, unsub := a.Bus().Subscribe(256, eventbus.ForGroup(group))
	defer unsub()

	h, err := a.Launcher().Launch(ctx, group, template)
	if err != nil {
		return err
	}
	st := h.Status()
	fmt.Fprintf(w, "run %s: %d recipients in %d batches, one every %s\n",
		h.RunID, st.Progress.Total, st.Progress.Batches, a.Registry().Options().Interval)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w, "cancelling after the current recipient...")
			h.Cancel()
			ctx = context.Background()
		case e := <-events:
			printEvent(w, e, h.RunID)
		case <-h.Done():
			// Outcomes are published before done closes; print whatever is still buffered.
			drainEvents(w, events, h.RunID)
			return finish(w, h)
		}
	}
}

func drainEvents(w io.Writer, events <-chan eventbus.Event, runID string) {
	for {
		select {
		case e := <-events:
			printEvent(w, e, runID)
		default:
			return
		}
	}
}

func printEvent(w io.Writer, e eventbus.Event, runID string) {
	if e.Type == eventbus.RunOutcome && e.Outcome != nil && e.RunID == runID {
		printOutcome(w, *e.Outcome)
	}
}

func printOutcome(w io.Writer, o dispatch.Outcome) {
	line := fmt.Sprintf("[batch %d] #%d %s %s", o.Batch, o.Index+1, o.Address, o.Kind)
	if o.Cause != dispatch.CauseNone {
		line += " (" + string(o.Cause) + ")"
	}
	if o.Reason != "" {
		line += ": " + o.Reason
	}
	fmt.Fprintln(w, line)
}

func finish(w io.Writer, h *dispatch.Handle) error {
	st := h.Status()
	p := st.Progress
	fmt.Fprintf(w, "%s: %d/%d processed, %d sent, %d rejected in %s\n",
		st.State, p.Processed, p.Total, p.Sent, p.Rejected, st.FinishedAt.Sub(st.StartedAt).Round(time.Second))
	if st.State == dispatch.StateFailed {
		if st.Fatal != nil {
			fmt.Fprintf(w, "stopped at %s\n", st.Fatal.Address)
		}
		return fmt.Errorf("run failed (%s): %s", st.Reason, st.Error())
	}
	return nil
}
