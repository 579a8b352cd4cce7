package rbac

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// SeedFile is the YAML document that declares the resource registry:
//
//	resources:
//	  - name: Role
//	    slug: role
//	    description: Role management
type SeedFile struct {
	Resources []ResourceInput `yaml:"resources"`
}

// ParseSeed decodes a seed document. Unknown keys are rejected.
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	return &seed, nil
}

// LoadSeedFile reads and decodes a seed file
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// DefaultSeed registers the resources this service guards itself
func DefaultSeed() *SeedFile {
	return &SeedFile{Resources: []ResourceInput{
		{Name: "Role", Slug: ResourceSlugRole, Description: "Roles and their grants"},
		{Name: "Resource", Slug: ResourceSlugResource, Description: "The resource registry"},
	}}
}

// SeedResult counts what a seed run changed
type SeedResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// Seed upserts every resource in the seed by slug. Resources missing from
// the seed are kept.
func (s *ResourceService) Seed(ctx context.Context, seed *SeedFile) (*SeedResult, error) {
	result := &SeedResult{}
	for i, input := range seed.Resources {
		_, outcome, err := s.Upsert(ctx, input)
		if err != nil {
			return result, fmt.Errorf("seed resource %d (%s): %w", i, input.Slug, err)
		}
		switch outcome {
		case UpsertCreated:
			result.Created++
		case UpsertUpdated:
			result.Updated++
		default:
			result.Unchanged++
		}
	}
	return result, nil
}

// SeedWatcher re-applies a seed file whenever it changes on disk
type SeedWatcher struct {
	path     string
	service  *ResourceService
	audit    audit.Logger
	logger   *observability.Logger
	debounce time.Duration

	mu      sync.Mutex
	applied chan *SeedResult
}

// NewSeedWatcher creates a watcher for path. Changes are applied after
// debounce has passed without further writes.
func NewSeedWatcher(path string, service *ResourceService, auditLogger audit.Logger, logger *observability.Logger, debounce time.Duration) *SeedWatcher {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &SeedWatcher{
		path:     path,
		service:  service,
		audit:    auditLogger,
		logger:   logger,
		debounce: debounce,
	}
}

// Applied returns a channel that receives the result of every reload. It
// is meant for tests and must be requested before Run.
func (sw *SeedWatcher) Applied() <-chan *SeedResult {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.applied == nil {
		sw.applied = make(chan *SeedResult, 8)
	}
	return sw.applied
}

// Apply loads the seed file and upserts it once
func (sw *SeedWatcher) Apply(ctx context.Context) (*SeedResult, error) {
	seed, err := LoadSeedFile(sw.path)
	if err != nil {
		return nil, err
	}
	result, err := sw.service.Seed(ctx, seed)

	event := audit.NewEvent(ctx, nil, audit.EventTypeResourceSeed, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeResource
	event.Message = fmt.Sprintf("applied seed file %s", sw.path)
	event.Metadata["created"] = result.Created
	event.Metadata["updated"] = result.Updated
	if err != nil {
		event.Status = audit.EventStatusFailure
		event.ErrorMessage = err.Error()
	}
	if logErr := sw.audit.Log(ctx, event); logErr != nil {
		sw.logger.WithError(logErr).Warn("failed to write audit event")
	}

	return result, err
}

// Run watches the seed file until ctx is cancelled. The parent directory
// is watched so that editors which replace the file are noticed.
func (sw *SeedWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(sw.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	timer := time.NewTimer(sw.debounce)
	timer.Stop()
	defer timer.Stop()

	sw.logger.WithField("path", target).Info("watching seed file")
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(sw.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			sw.logger.WithError(err).Warn("seed watcher error")

		case <-timer.C:
			result, err := sw.Apply(ctx)
			if err != nil {
				sw.logger.WithError(err).Error("failed to apply seed file")
				continue
			}
			sw.logger.WithFields(map[string]interface{}{
				"created":   result.Created,
				"updated":   result.Updated,
				"unchanged": result.Unchanged,
			}).Info("seed file applied")
			sw.notify(result)
		}
	}
}

func (sw *SeedWatcher) notify(result *SeedResult) {
	sw.mu.Lock()
	ch := sw.applied
	sw.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- result:
	default:
	}
}
