// Package refdata loads the externally-owned reference tables the enricher
// joins against: procedure-code categories, the provider-group registry
// cross-reference, the provider registry itself, and geocoded practice
// locations. All tables fit in memory; the catalog is immutable after Load.
package refdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chrscato/workcomp-rates-etl/codec"
	"github.com/chrscato/workcomp-rates-etl/model"
	"github.com/chrscato/workcomp-rates-etl/store"
)

// Config names the reference objects inside the reference store.
type Config struct {
	CodeCategoryKey     string `yaml:"code_category_key"`
	ProviderGroupNPIKey string `yaml:"provider_group_npi_key"`
	NPIRegistryKey      string `yaml:"npi_registry_key"`
	NPIGeoKey           string `yaml:"npi_geo_key"`
}

func (c *Config) Validate() error {
	if c.CodeCategoryKey == "" {
		return fmt.Errorf("reference: code_category_key is required")
	}
	if c.ProviderGroupNPIKey == "" {
		return fmt.Errorf("reference: provider_group_npi_key is required")
	}
	if c.NPIRegistryKey == "" {
		return fmt.Errorf("reference: npi_registry_key is required")
	}
	if c.NPIGeoKey == "" {
		return fmt.Errorf("reference: npi_geo_key is required")
	}
	return nil
}

// Catalog is the loaded reference data, keyed for the enricher's lookups.
type Catalog struct {
	categories map[string]model.CodeCategory
	groupNPIs  map[string][]string
	registry   map[string]model.NPIRecord
	geo        map[string]model.NPIGeo
}

// Load reads all reference tables from the store in parallel and indexes
// them. Any missing or unreadable table fails the load; reference data is a
// preflight requirement, not a per-chunk concern.
func Load(ctx context.Context, st store.Store, cfg Config, logger *zap.Logger) (*Catalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Catalog{
		categories: map[string]model.CodeCategory{},
		groupNPIs:  map[string][]string{},
		registry:   map[string]model.NPIRecord{},
		geo:        map[string]model.NPIGeo{},
	}

	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, 4)

	wg.Add(4)
	go func() {
		defer wg.Done()
		rows, err := fetch[model.CodeCategory](ctx, st, cfg.CodeCategoryKey)
		if err != nil {
			errs[0] = err
			return
		}
		for _, r := range rows {
			c.categories[r.ProcCD] = r
		}
	}()
	go func() {
		defer wg.Done()
		rows, err := fetch[model.ProviderGroupNPI](ctx, st, cfg.ProviderGroupNPIKey)
		if err != nil {
			errs[1] = err
			return
		}
		for _, r := range rows {
			c.groupNPIs[r.PGUID] = append(c.groupNPIs[r.PGUID], r.NPI)
		}
	}()
	go func() {
		defer wg.Done()
		rows, err := fetch[model.NPIRecord](ctx, st, cfg.NPIRegistryKey)
		if err != nil {
			errs[2] = err
			return
		}
		for _, r := range rows {
			c.registry[r.NPI] = r
		}
	}()
	go func() {
		defer wg.Done()
		rows, err := fetch[model.NPIGeo](ctx, st, cfg.NPIGeoKey)
		if err != nil {
			errs[3] = err
			return
		}
		for _, r := range rows {
			c.geo[r.NPI] = r
		}
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	logger.Info("reference catalog loaded",
		zap.Int("code_categories", len(c.categories)),
		zap.Int("provider_groups", len(c.groupNPIs)),
		zap.Int("npi_records", len(c.registry)),
		zap.Int("npi_geo", len(c.geo)),
		zap.Duration("elapsed", time.Since(start)))
	return c, nil
}

func fetch[T any](ctx context.Context, st store.Store, key string) ([]T, error) {
	data, err := st.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading reference table %s: %w", key, err)
	}
	rows, err := codec.Read[T](data)
	if err != nil {
		return nil, fmt.Errorf("decoding reference table %s: %w", key, err)
	}
	return rows, nil
}

// Category looks up the set/class rollup for a procedure code.
func (c *Catalog) Category(code string) (model.CodeCategory, bool) {
	cat, ok := c.categories[code]
	return cat, ok
}

// GroupNPIs returns the registry numbers cross-referenced to a provider
// group UID, in load order.
func (c *Catalog) GroupNPIs(pgUID string) []string {
	return c.groupNPIs[pgUID]
}

// Registry looks up a provider-registry entry by NPI.
func (c *Catalog) Registry(npi string) (model.NPIRecord, bool) {
	r, ok := c.registry[npi]
	return r, ok
}

// Geo looks up the geocoded practice location for an NPI.
func (c *Catalog) Geo(npi string) (model.NPIGeo, bool) {
	g, ok := c.geo[npi]
	return g, ok
}
