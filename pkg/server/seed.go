package server

import (
	"context"
	"fmt"
	"os"

	"github.com/agentoven/agentoven/data-agent/internal/store"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML shape of AGENTOVEN_SEED_FILE:
//
//	agents:
//	  - id: sales-analyst
//	    name: Sales analyst
//	    owner_id: alice
//	    collections: [sales_deals]
//	documents:
//	  sales_deals:
//	    - {id: d1, name: Acme, value: 12000, stage: won}
type seedFile struct {
	Agents    []models.Agent              `yaml:"agents"`
	Documents map[string][]store.Document `yaml:"documents"`
}

// Seed loads agents and documents from a YAML file. Agents with an id that
// already exists are replaced; documents are upserted by id.
func Seed(ctx context.Context, s store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for i := range f.Agents {
		agent := &f.Agents[i]
		if agent.ID == "" || agent.OwnerID == "" {
			return fmt.Errorf("seed agent %q needs an id and an owner_id", agent.Name)
		}
		_, err := s.GetAgent(ctx, agent.ID)
		switch {
		case err == nil:
			err = s.UpdateAgent(ctx, agent)
		case store.IsNotFound(err):
			err = s.CreateAgent(ctx, agent)
		}
		if err != nil {
			return fmt.Errorf("seed agent %s: %w", agent.ID, err)
		}
	}

	docs := 0
	for collection, rows := range f.Documents {
		for _, doc := range rows {
			if doc.ID() == "" {
				return fmt.Errorf("seed document in %s has no id", collection)
			}
			if err := s.PutDocument(ctx, collection, doc); err != nil {
				return fmt.Errorf("seed %s/%s: %w", collection, doc.ID(), err)
			}
			docs++
		}
	}

	log.Info().
		Int("agents", len(f.Agents)).
		Int("documents", docs).
		Str("file", path).
		Msg("🌱 Seed data loaded")
	return nil
}
