// Package blockstorage implements the BlockStorage child (spec.md §4.5):
// fetching feature/glue artifacts from object storage into an in-memory
// virtual filesystem, and uploading evidence back at the end of a test.
package blockstorage

import (
	"github.com/testprobe/testprobe/internal/kafka"
	"github.com/testprobe/testprobe/internal/testresult"
)

// Directory layout within the virtual FS mounted for each test
// (spec.md §6).
const (
	DirFeatureFiles    = "feature-files"
	DirStepDefinitions = "step-definitions"
	DirEvidence        = "evidence"
	DirEvidenceReports = "evidence/cucumber-reports"
	DirEvidenceEvents  = "evidence/event-logs"
	FileEvidenceMeta   = "evidence/metadata.json"
	DirResults         = "results"
)

// Directive is the materialized description of one test's artifacts,
// produced by BlockStorage.Initialize once feature/glue downloads land
// in the virtual FS (spec.md §3 BlockStorageDirective).
type Directive struct {
	Bucket            string
	ObjectPath        string
	MountPathValue    string
	EvidenceOutputDir string
	Topics            []kafka.TopicDirective
	StepDefPackages   []string
	TagFilters        []string
}

func (d Directive) MountPath() string { return d.MountPathValue }

// UploadSpec is what LoadToBlockStorage serializes and uploads: the
// structured result plus whatever evidence files landed in the virtual
// FS's evidence/ subtree during the run.
type UploadSpec struct {
	Result       testresult.TestExecutionResult
	EvidenceRoot string // path within the virtual FS to upload, e.g. "<mount>/evidence"
}

func (u UploadSpec) EvidencePath() string { return u.EvidenceRoot }
