package v1

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"servicecatalog-cron/models"

	"gopkg.in/yaml.v3"
)

// SeedFile is a YAML catalog loaded at startup.
type SeedFile struct {
	Services []SeedService `yaml:"services"`
}

type SeedService struct {
	models.ServiceDefinition `yaml:",inline"`
	Enrollments              []models.Enrollment `yaml:"enrollments"`
}

// LoadSeed reads a seed file. A missing file yields an empty seed.
func LoadSeed(path string) (SeedFile, error) {
	var seed SeedFile
	if path == "" {
		return seed, nil
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("[SEED] %s not found, skipping", path)
		return seed, nil
	}
	if err != nil {
		return seed, fmt.Errorf("read seed: %w", err)
	}
	if err := yaml.Unmarshal(content, &seed); err != nil {
		return seed, fmt.Errorf("parse seed: %w", err)
	}
	for i, svc := range seed.Services {
		if svc.ID == "" {
			return seed, fmt.Errorf("seed service %d is missing id", i)
		}
	}
	return seed, nil
}

// ApplySeed imports every seeded service and its enrollments. Approvals in
// the seed that carry no hash are pinned to the body as written.
func ApplySeed(ctx context.Context, c *Catalog, seed SeedFile) error {
	for _, svc := range seed.Services {
		def := svc.ServiceDefinition
		if def.HealthCheck != nil {
			for os, script := range def.HealthCheck.Scripts {
				if script.Version < 1 {
					script.Version = 1
				}
				if a := script.Approval; a != nil {
					if a.ContentHash == "" {
						a.ContentHash = HashScript(script.Body)
					}
					if a.Version == 0 {
						a.Version = script.Version
					}
				}
				def.HealthCheck.Scripts[os] = script
			}
		}
		if _, err := c.Import(ctx, def); err != nil {
			return fmt.Errorf("import service %s: %w", def.ID, err)
		}
		for _, e := range svc.Enrollments {
			e.ServiceID = def.ID
			if _, err := c.Enroll(ctx, e); err != nil {
				return fmt.Errorf("enroll %s into %s: %w", e.DeviceID, def.ID, err)
			}
		}
		log.Printf("[SEED] Loaded service %s with %d enrollment(s)", def.ID, len(svc.Enrollments))
	}
	return nil
}
