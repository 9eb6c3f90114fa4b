package blockstorage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/testprobe/testprobe/internal/blockstorage/backend"
	"github.com/testprobe/testprobe/internal/kafka"
)

// manifestFile is the one object under a test's prefix that is not a
// feature/glue artifact: it describes the TopicDirectives, user glue
// package names, and tag filters BlockStorageDirective needs but that
// cannot be inferred from the feature tree alone.
const manifestFile = "manifest.json"

// manifest is the on-disk JSON shape of manifestFile.
type manifest struct {
	Topics          []manifestTopic `json:"topics"`
	StepDefPackages []string        `json:"stepDefinitionPackages"`
	TagFilters      []string        `json:"tagFilters"`
}

type manifestTopic struct {
	Topic     string                `json:"topic"`
	Role      string                `json:"role"`
	Principal string                `json:"principal"`
	Filters   []manifestEventFilter `json:"filters"`
}

type manifestEventFilter struct {
	Type           string `json:"type"`
	PayloadVersion string `json:"payloadVersion"`
}

// ManifestArtifactSource is the production ArtifactSource: it lists
// every object under the test's prefix in bucket, pulls manifest.json
// out of that listing to build the TopicDirective/tag/glue-package
// parts of the Directive, and returns the remaining objects (feature
// files, user glue plugins) to be materialized into the virtual FS.
type ManifestArtifactSource struct {
	reader backend.Reader
}

// NewManifestArtifactSource wraps reader as the BlockStorage child's
// ArtifactSource.
func NewManifestArtifactSource(reader backend.Reader) *ManifestArtifactSource {
	return &ManifestArtifactSource{reader: reader}
}

// Resolve implements ArtifactSource.
func (s *ManifestArtifactSource) Resolve(ctx context.Context, testID, bucket string) (Directive, []backend.Object, error) {
	objects, err := s.reader.Fetch(ctx, bucket, testID)
	if err != nil {
		return Directive{}, nil, fmt.Errorf("list objects for test %s: %w", testID, err)
	}

	var m manifest
	remaining := objects[:0:0]
	for _, obj := range objects {
		if obj.Path == manifestFile {
			if err := json.Unmarshal(obj.Data, &m); err != nil {
				return Directive{}, nil, fmt.Errorf("parse manifest for test %s: %w", testID, err)
			}
			continue
		}
		remaining = append(remaining, obj)
	}

	topics := make([]kafka.TopicDirective, 0, len(m.Topics))
	for _, t := range m.Topics {
		filters := make([]kafka.EventFilter, 0, len(t.Filters))
		for _, f := range t.Filters {
			filters = append(filters, kafka.EventFilter{Type: f.Type, PayloadVersion: f.PayloadVersion})
		}
		topics = append(topics, kafka.TopicDirective{
			Topic:     t.Topic,
			Role:      kafka.Role(t.Role),
			Principal: t.Principal,
			Filters:   filters,
		})
	}

	directive := Directive{
		Bucket:          bucket,
		ObjectPath:      testID,
		Topics:          topics,
		StepDefPackages: m.StepDefPackages,
		TagFilters:      m.TagFilters,
	}
	return directive, remaining, nil
}
