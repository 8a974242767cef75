package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/document"
	"github.com/joseph-ayodele/docbatch/internal/ingest"
)

type mergeFlags struct {
	dir    string
	retain bool
	warn   bool
}

func newMergeCmd(g *globals) *cobra.Command {
	f := &mergeFlags{}
	cmd := &cobra.Command{
		Use:   "merge NAME [ARTIFACT...]",
		Short: "Merge existing documents into NAME.xml",
		Long: `merge combines the items of every ARTIFACT (files or glob patterns) into
NAME.xml, keeping the header of the first. Without ARTIFACT arguments every
*.xml file in --dir is merged. Inputs are deleted afterwards unless --retain
is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("warn") {
				g.cfg.Run.Warn = f.warn
			}
			if cmd.Flags().Changed("retain") {
				g.cfg.Run.RetainTemps = f.retain
			}
			return runMerge(cmd, g, f, args[0], args[1:])
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.dir, "dir", ".", "directory searched when no artifacts are given")
	fl.BoolVarP(&f.retain, "retain", "d", false, "keep the input documents")
	fl.BoolVarP(&f.warn, "warn", "w", true, "ask before overwriting the output")
	return cmd
}

func runMerge(cmd *cobra.Command, g *globals, f *mergeFlags, name string, artifacts []string) error {
	v := common.NewValidator().
		Field("name", name, common.Required).
		Field("dir", f.dir, common.Required)
	if err := common.ValidateAndReturnError(v); err != nil {
		return err
	}

	output := constants.StripExt(name) + constants.DocumentExt
	if len(artifacts) == 0 && filepath.Dir(output) == "." {
		output = filepath.Join(f.dir, output)
	}
	inputs, err := ingest.ResolveArtifacts(artifacts, f.dir, output)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return common.EmptyInputError(fmt.Sprintf("no documents to merge in %s", f.dir))
	}

	if proceed, err := confirmOverwrite(cmd.Context(), g.cfg.Run.Warn, output); !proceed {
		return err
	}

	merger := document.NewMerger(g.logger, document.WithRetainInputs(g.cfg.Run.RetainTemps))
	res, err := merger.Merge(cmd.Context(), inputs, output)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d items from %d documents\n", res.OutputPath, res.Items, res.Inputs)
	return nil
}
