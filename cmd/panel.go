package main

import (
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/brandlens/geo-audit/internal/model"
)

// panelFile is the on-disk panel definition: one property and its queries.
type panelFile struct {
	Property struct {
		Name        string   `yaml:"name"`
		Domains     []string `yaml:"domains"`
		Competitors []string `yaml:"competitors"`
		City        string   `yaml:"city"`
		State       string   `yaml:"state"`
	} `yaml:"property"`
	Queries []struct {
		Text   string  `yaml:"text"`
		Type   string  `yaml:"type"`
		Geo    string  `yaml:"geo"`
		Weight float64 `yaml:"weight"`
	} `yaml:"queries"`
}

var panelCmd = &cobra.Command{
	Use:   "panel <file>",
	Short: "Load a property and its query panel from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "panel: read file")
		}

		var pf panelFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return eris.Wrap(err, "panel: parse file")
		}
		if pf.Property.Name == "" {
			return eris.New("panel: property.name is required")
		}
		if len(pf.Property.Domains) == 0 {
			return eris.New("panel: property.domains is required")
		}
		if len(pf.Queries) == 0 {
			return eris.New("panel: at least one query is required")
		}
		for i, q := range pf.Queries {
			if q.Text == "" {
				return eris.Errorf("panel: query %d has no text", i)
			}
			if !model.ValidQueryType(model.QueryType(q.Type)) {
				return eris.Errorf("panel: query %d has unknown type %q", i, q.Type)
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		property, err := st.CreateProperty(ctx, model.Property{
			ID:          uuid.NewString(),
			Name:        pf.Property.Name,
			Domains:     pf.Property.Domains,
			Competitors: pf.Property.Competitors,
			City:        pf.Property.City,
			State:       pf.Property.State,
		})
		if err != nil {
			return eris.Wrap(err, "panel: create property")
		}

		for _, q := range pf.Queries {
			weight := q.Weight
			if weight == 0 {
				weight = 1
			}
			_, err := st.CreateQuery(ctx, model.Query{
				ID:         uuid.NewString(),
				PropertyID: property.ID,
				Text:       q.Text,
				Type:       model.QueryType(q.Type),
				Geo:        q.Geo,
				Weight:     weight,
				IsActive:   true,
			})
			if err != nil {
				return eris.Wrap(err, "panel: create query")
			}
		}

		zap.L().Info("panel loaded",
			zap.String("property_id", property.ID),
			zap.String("property", property.Name),
			zap.Int("queries", len(pf.Queries)),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(panelCmd)
}
