package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidwall/gjson"

	usrtaskmgtsdk "usrtaskmgt/sdk/go"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Work with user tasks through a running server"}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskCountCmd())
	cmd.AddCommand(taskGetCmd())
	cmd.AddCommand(taskClaimCmd())
	cmd.AddCommand(taskSubmitCmd("complete", "Validate, store and complete a task", func(ctx context.Context, c *usrtaskmgtsdk.Client, id string, fd usrtaskmgtsdk.FormData) (any, error) {
		return c.CompleteTask(ctx, id, fd)
	}))
	cmd.AddCommand(taskSubmitCmd("sign-officer", "Complete a task with an officer signature", func(ctx context.Context, c *usrtaskmgtsdk.Client, id string, fd usrtaskmgtsdk.FormData) (any, error) {
		return c.SignOfficerForm(ctx, id, fd)
	}))
	cmd.AddCommand(taskSubmitCmd("sign-citizen", "Complete a task with a citizen signature", func(ctx context.Context, c *usrtaskmgtsdk.Client, id string, fd usrtaskmgtsdk.FormData) (any, error) {
		return c.SignCitizenForm(ctx, id, fd)
	}))
	cmd.AddCommand(taskSubmitCmd("save", "Store a form draft without completing", func(ctx context.Context, c *usrtaskmgtsdk.Client, id string, fd usrtaskmgtsdk.FormData) (any, error) {
		if err := c.SaveFormData(ctx, id, fd); err != nil {
			return nil, err
		}
		return map[string]string{"id": id, "status": "saved"}, nil
	}))
	cmd.AddCommand(taskHistoryCmd())
	return cmd
}

func addPageFlags(cmd *cobra.Command, opts *usrtaskmgtsdk.ListOptions) {
	cmd.Flags().IntVar(&opts.FirstResult, "first", 0, "index of the first result")
	cmd.Flags().IntVar(&opts.MaxResults, "max", 0, "page size")
	cmd.Flags().StringVar(&opts.SortBy, "sort-by", "", "sort key")
	cmd.Flags().StringVar(&opts.SortOrder, "sort-order", "", "asc or desc")
}

func taskListCmd() *cobra.Command {
	var opts usrtaskmgtsdk.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks assigned to you or unassigned",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := apiClient().ListTasks(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(tasks)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Assignee", "Process", "Form", "Created"})
			for _, t := range tasks {
				tw.AppendRow(table.Row{t.ID, t.Name, t.Assignee, t.ProcessDefinitionName, t.FormKey, t.Created.Format("2006-01-02 15:04")})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.ProcessInstanceID, "process-instance", "", "process instance filter")
	addPageFlags(cmd, &opts)
	return cmd
}

func taskCountCmd() *cobra.Command {
	var processInstance string
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count tasks visible to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := apiClient().CountTasks(cmd.Context(), processInstance)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]int64{"count": n})
			}
			fmt.Println(n)
			return nil
		},
	}
	cmd.Flags().StringVar(&processInstance, "process-instance", "", "process instance filter")
	return cmd
}

func taskGetCmd() *cobra.Command {
	var field string
	cmd := &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a task with its staged form data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := apiClient().GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if field == "" {
				return printJSON(t)
			}
			v := gjson.GetBytes(t.Data, field)
			if !v.Exists() {
				return fmt.Errorf("field %s not present in form data", field)
			}
			fmt.Println(v.Raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "print one form data value by path (e.g. applicant.name)")
	return cmd
}

func taskClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Claim a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiClient().ClaimTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"id": args[0], "status": "claimed"})
			}
			fmt.Printf("claimed %s\n", args[0])
			return nil
		},
	}
}

type submitFunc func(ctx context.Context, c *usrtaskmgtsdk.Client, id string, fd usrtaskmgtsdk.FormData) (any, error)

func taskSubmitCmd(use, short string, submit submitFunc) *cobra.Command {
	var data, dataFile, signature string
	cmd := &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readData(data, dataFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			res, err := submit(cmd.Context(), apiClient(), args[0], usrtaskmgtsdk.FormData{Data: raw, Signature: signature})
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "form data as a JSON object")
	cmd.Flags().StringVar(&dataFile, "data-file", "", "read form data from a file (- for stdin)")
	cmd.Flags().StringVar(&signature, "signature", "", "detached signature over the form data")
	cmd.MarkFlagsMutuallyExclusive("data", "data-file")
	return cmd
}

func readData(inline, file string, stdin io.Reader) (json.RawMessage, error) {
	var raw []byte
	switch {
	case inline != "":
		raw = []byte(inline)
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		return json.RawMessage(`{}`), nil
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if !json.Valid(raw) || len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("form data must be a JSON object")
	}
	return raw, nil
}

func taskHistoryCmd() *cobra.Command {
	var opts usrtaskmgtsdk.ListOptions
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished tasks you worked on",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := apiClient().History(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Process", "Started", "Ended"})
			for _, h := range items {
				ended := ""
				if h.EndTime != nil {
					ended = h.EndTime.Format("2006-01-02 15:04")
				}
				tw.AppendRow(table.Row{h.ID, h.Name, h.ProcessDefinitionName, h.StartTime.Format("2006-01-02 15:04"), ended})
			}
			tw.Render()
			return nil
		},
	}
	addPageFlags(cmd, &opts)
	return cmd
}
