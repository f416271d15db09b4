package cli

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/lacquerai/silhouette/internal/config"
	"github.com/lacquerai/silhouette/internal/distance"
	"github.com/lacquerai/silhouette/internal/store"
)

// SchemaOutput represents the combined output structure
type SchemaOutput struct {
	Settings  *jsonschema.Schema `json:"settings"`
	Model     *jsonschema.Schema `json:"model"`
	Methods   []string           `json:"methods"`
	Distances []string           `json:"distances"`
}

// schemaCmd represents the schema command
var schemaCmd = &cobra.Command{
	Use:    "schema",
	Short:  "Output JSON schemas and definitions",
	Long:   `Output the JSON schema of the analysis settings and of saved model files, with the available string distances.`,
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Schema()
		if err != nil {
			return fmt.Errorf("generating settings schema: %w", err)
		}

		output := SchemaOutput{
			Settings:  settings,
			Model:     config.NewReflector().Reflect(&store.ModelFile{}),
			Distances: []string{config.DistancePrecomputed, config.DistanceOnTheFly},
		}
		for _, m := range distance.Methods() {
			output.Methods = append(output.Methods, m.String())
		}

		outputBytes, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling output: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(outputBytes))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
