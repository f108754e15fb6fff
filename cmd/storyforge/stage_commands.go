package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"storyforge/internal/stages"
)

type stageView struct {
	Name        stages.Stage    `json:"name"`
	Category    stages.Category `json:"category"`
	Produces    stages.Kind     `json:"produces,omitempty"`
	OnPass      stages.Stage    `json:"on_pass,omitempty"`
	OnFail      stages.Stage    `json:"on_fail,omitempty"`
	Description string          `json:"description,omitempty"`
	Initial     bool            `json:"initial,omitempty"`
	Workers     int             `json:"workers,omitempty"`
}

func newStageCommand(ctx *commandContext) *cobra.Command {
	stageCmd := &cobra.Command{
		Use:   "stage",
		Short: "Inspect the stage table",
	}

	stageCmd.AddCommand(newStageListCommand(ctx))
	stageCmd.AddCommand(newStageShowCommand(ctx))

	return stageCmd
}

func (c *commandContext) registry() (*stages.Registry, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return stages.FromFile(cfg.Pipeline.StagesFile)
}

func (c *commandContext) stageViews() ([]stageView, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	reg, err := c.registry()
	if err != nil {
		return nil, err
	}
	views := make([]stageView, 0, len(reg.AllStages()))
	for _, name := range reg.AllStages() {
		md, err := reg.Lookup(name)
		if err != nil {
			return nil, err
		}
		view := stageView{
			Name:        md.Stage,
			Category:    md.Category,
			Produces:    md.Produces,
			OnPass:      md.OnPass,
			OnFail:      md.OnFail,
			Description: md.Description,
			Initial:     name == reg.Initial(),
		}
		if !md.Terminal() {
			view.Workers = cfg.WorkersFor(string(name))
		}
		views = append(views, view)
	}
	return views, nil
}

func newStageListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stages with their transitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := ctx.stageViews()
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, views)
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				name := string(v.Name)
				if v.Initial {
					name += " *"
				}
				workers := "-"
				if v.Workers > 0 {
					workers = strconv.Itoa(v.Workers)
				}
				rows = append(rows, []string{
					name,
					label(string(v.Category)),
					label(string(v.Produces)),
					string(v.OnPass),
					string(v.OnFail),
					workers,
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{
				{header: "Stage"},
				{header: "Category"},
				{header: "Produces"},
				{header: "On Pass"},
				{header: "On Fail"},
				{header: "Workers", right: true},
			}, rows))
			return nil
		},
	}
}

func newStageShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <stage>",
		Short: "Show one stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := ctx.stageViews()
			if err != nil {
				return err
			}
			for _, v := range views {
				if string(v.Name) != args[0] {
					continue
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, v)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Stage: %s\n", v.Name)
				fmt.Fprintf(out, "Category: %s\n", label(string(v.Category)))
				fmt.Fprintf(out, "Initial: %s\n", yesNo(v.Initial))
				if v.Category == stages.CategoryTerminal {
					fmt.Fprintln(out, "Transitions: none (terminal)")
				} else {
					fmt.Fprintf(out, "Produces: %s\n", label(string(v.Produces)))
					fmt.Fprintf(out, "On pass: %s\n", v.OnPass)
					fmt.Fprintf(out, "On fail: %s\n", v.OnFail)
					fmt.Fprintf(out, "Workers: %d\n", v.Workers)
				}
				if v.Description != "" {
					fmt.Fprintf(out, "Description: %s\n", v.Description)
				}
				return nil
			}
			return &stages.UnknownStageError{Stage: stages.Stage(args[0])}
		},
	}
}
