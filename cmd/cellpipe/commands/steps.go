package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwaller/cellpipe/internal/datapath"
	"github.com/mwaller/cellpipe/internal/features"
	"github.com/mwaller/cellpipe/internal/registry"
)

type stepInfo struct {
	Name     string          `json:"name"`
	Command  string          `json:"command"`
	Core     bool            `json:"core"`
	Defaults registry.Params `json:"defaults"`
}

func newStepsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "steps",
		Short: "List available processing steps and their default options",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := []stepInfo{{
				Name:     datapath.StepName,
				Command:  "structure",
				Core:     true,
				Defaults: datapath.StructureFactory{}.Defaults(),
			}}

			reg := features.NewRegistry()
			core := map[string]bool{}
			for _, n := range reg.Core() {
				core[n] = true
			}
			for _, name := range reg.Names() {
				f, err := reg.Lookup(name)
				if err != nil {
					return err
				}
				infos = append(infos, stepInfo{
					Name:     name,
					Command:  "featurize",
					Core:     core[name],
					Defaults: f.Defaults(),
				})
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"steps": infos})
			}

			for _, info := range infos {
				mark := ""
				if info.Core && info.Command == "featurize" {
					mark = " (core)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s%s\n", info.Command, info.Name, mark)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output results in JSON")
	return cmd
}
