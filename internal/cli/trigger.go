package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewTriggerCmd создаёт команду отправки события на сервер.
func NewTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req TriggerRequest

	cmd := &cobra.Command{
		Use:   "trigger EVENT",
		Short: "Send a pull_request or workflow_dispatch event",
		Long: `Send an event to the API. Every workflow subscribed to the event
gets a new run, which the orchestrator picks up asynchronously.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"pull_request", "workflow_dispatch"},
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req.Event = args[0]
			runs, err := client.Trigger(req)
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				out.Success("No workflow is triggered by this event")
			} else {
				out.Success(fmt.Sprintf("Runs: %d", len(runs)))
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}
			out.Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Action, "action", "", "Pull request action (opened, synchronize, ...)")
	cmd.Flags().StringVar(&req.Ref, "ref", "", "Git ref passed to steps as CONVEYOR_REF")
	cmd.Flags().StringVar(&req.Workflow, "workflow", "", "Trigger only this workflow")
	cmd.Flags().StringVar(&req.IdempotencyKey, "idempotency-key", "", "Repeat-safe key (same key returns the same runs)")

	return cmd
}

// NewWorkflowCmd создаёт группу команд для каталога workflows на сервере.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect workflows loaded by the server",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			workflows, err := clientFn().ListWorkflows()
			if err != nil {
				return err
			}

			headers := []string{"NAME", "TRIGGERS", "JOBS", "STEPS", "FAIL_FAST", "REPORT"}
			rows := make([][]string, len(workflows))
			for i, wf := range workflows {
				rows[i] = []string{
					wf.Name,
					fmt.Sprint(wf.Triggers),
					fmt.Sprint(wf.Jobs),
					fmt.Sprint(wf.Steps),
					fmt.Sprint(wf.FailFast),
					fmt.Sprint(wf.Reports),
				}
			}

			outputFn().Print(headers, rows, workflows)
			return nil
		},
	})

	return cmd
}
