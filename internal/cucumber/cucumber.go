package cucumber

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cucumber/godog"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/testprobe/testprobe/internal/blockstorage"
	"github.com/testprobe/testprobe/internal/testresult"
)

// defaultTagExpression excludes @Ignore-tagged scenarios unless the
// directive names an explicit override.
const defaultTagExpression = "~@Ignore"

// GluePackage registers step definitions and any scenario-level hooks
// it needs into sc. The framework's own DSL-facing steps and every
// user-contributed step package share this shape, so Initialize can
// treat them identically.
type GluePackage func(sc *godog.ScenarioContext, deps Dependencies)

// Dependencies is what glue code needs from the running test. Kept as
// an interface so this package does not import dsl or kafka directly;
// the FSM supplies a concrete implementation when it constructs a
// CucumberExecution child.
type Dependencies interface {
	TestID() string
}

// scenarioContext is the per-scenario execution state godog hooks
// populate and clear. It is looked up by step code that needs to know
// which scenario it's running inside (e.g. to derive an
// eventTestId-scoped correlation id).
type scenarioContext struct {
	ScenarioName string
}

// CucumberExecution is the C11 child: one instance per test, embedding
// a godog suite over the feature/glue artifacts BlockStorage
// materialized into the virtual FS.
type CucumberExecution struct {
	testID  string
	fs      afero.Fs
	mount   string
	glue    []GluePackage
	deps    Dependencies
	pool    *Pool
	logger  log.Logger

	tagExpression string

	scenarios sync.Map // *godog.Scenario -> *scenarioContext

	mu     sync.Mutex
	result accumulator
}

// accumulator tallies step/scenario outcomes as godog hooks fire.
// Godog may run scenarios on more than one goroutine when configured
// with Concurrency > 1, so every method here is guarded by
// CucumberExecution.mu rather than relying on single-threaded access.
type accumulator struct {
	scenarioCount    int
	scenariosPassed  int
	scenariosFailed  int
	scenariosSkipped int
	stepCount        int
	stepsPassed      int
	stepsFailed      int
	stepsSkipped     int
	stepsUndefined   int
	failedNames      []string
}

// New builds a CucumberExecution child. fs/mount locate the virtual FS
// and the test's mount path within it (as materialized by
// BlockStorage.Initialize); glue is the framework's own step package
// plus every user-contributed package named in the directive.
func New(testID string, fs afero.Fs, mount string, glue []GluePackage, deps Dependencies, pool *Pool, logger log.Logger) *CucumberExecution {
	return &CucumberExecution{
		testID: testID,
		fs:     fs,
		mount:  mount,
		glue:   glue,
		deps:   deps,
		pool:   pool,
		logger: logger,
	}
}

// Initialize prepares the suite configuration: feature paths under the
// virtual FS and the tag filter. It performs no I/O of its own beyond
// deciding the tag expression; godog resolves feature paths lazily
// when StartTest actually runs the suite.
func (c *CucumberExecution) Initialize(directive blockstorage.Directive) error {
	if len(directive.TagFilters) > 0 {
		c.tagExpression = strings.Join(directive.TagFilters, " && ")
	} else {
		c.tagExpression = defaultTagExpression
	}
	level.Info(c.logger).Log("msg", "cucumber execution configured", "testId", c.testID, "tags", c.tagExpression, "gluePackages", len(c.glue))
	return nil
}

// StartTest runs the suite on the shared worker pool and invokes
// onFinished with the structured result once godog's run returns.
// Running on the pool (rather than directly) keeps this blocking call
// off whatever goroutine called StartTest, matching the cooperative
// scheduler the rest of the actor tree relies on.
func (c *CucumberExecution) StartTest(onFinished func(testresult.TestExecutionResult)) {
	c.pool.Submit(func() {
		onFinished(c.runSuite())
	})
}

func (c *CucumberExecution) runSuite() testresult.TestExecutionResult {
	start := time.Now()

	suite := godog.TestSuite{
		Name:                c.testID,
		ScenarioInitializer: c.initializeScenario,
		Options: &godog.Options{
			Format: "progress",
			Paths:  []string{path.Join(c.mount, blockstorage.DirFeatureFiles)},
			FS:     afero.NewIOFS(c.fs),
			Tags:   c.tagExpression,
		},
	}

	status := suite.Run()
	duration := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	result := testresult.TestExecutionResult{
		TestID:              c.testID,
		Passed:              status == 0 && c.result.scenariosFailed == 0 && c.result.scenarioCount > 0,
		Duration:            duration,
		ScenarioCount:       c.result.scenarioCount,
		ScenariosPassed:     c.result.scenariosPassed,
		ScenariosFailed:     c.result.scenariosFailed,
		ScenariosSkipped:    c.result.scenariosSkipped,
		StepCount:           c.result.stepCount,
		StepsPassed:         c.result.stepsPassed,
		StepsFailed:         c.result.stepsFailed,
		StepsSkipped:        c.result.stepsSkipped,
		StepsUndefined:      c.result.stepsUndefined,
		FailedScenarioNames: append([]string(nil), c.result.failedNames...),
	}
	if !result.Passed && result.ErrorMessage == "" {
		result.ErrorMessage = fmt.Sprintf("%d of %d scenarios failed", result.ScenariosFailed, result.ScenarioCount)
	}
	return result
}

// initializeScenario is godog's ScenarioInitializer: it wires scenario
// and step hooks for result aggregation and the scope-exit guard for
// scenarioContext, then registers every glue package.
func (c *CucumberExecution) initializeScenario(sc *godog.ScenarioContext) {
	sc.Before(func(ctx context.Context, scenario *godog.Scenario) (context.Context, error) {
		c.scenarios.Store(scenario, &scenarioContext{ScenarioName: scenario.Name})
		return ctx, nil
	})

	sc.After(func(ctx context.Context, scenario *godog.Scenario, err error) (context.Context, error) {
		// Runs on every path (success, failure, or panic recovery
		// inside godog itself), so the scenario-scoped context never
		// leaks into the next scenario.
		c.scenarios.Delete(scenario)

		c.mu.Lock()
		c.result.scenarioCount++
		if err != nil {
			c.result.scenariosFailed++
			c.result.failedNames = append(c.result.failedNames, scenario.Name)
		} else {
			c.result.scenariosPassed++
		}
		c.mu.Unlock()
		return ctx, nil
	})

	sc.StepContext().After(func(ctx context.Context, step *godog.Step, status godog.StepResultStatus, err error) (context.Context, error) {
		c.mu.Lock()
		c.result.stepCount++
		switch status {
		case godog.StepPassed:
			c.result.stepsPassed++
		case godog.StepFailed:
			c.result.stepsFailed++
		case godog.StepSkipped, godog.StepPending:
			c.result.stepsSkipped++
		case godog.StepUndefined, godog.StepAmbiguous:
			c.result.stepsUndefined++
		}
		c.mu.Unlock()
		return ctx, nil
	})

	for _, glue := range c.glue {
		glue(sc, c.deps)
	}
}

// scenarioFor returns the per-scenario context stored for sc, for glue
// code that needs to correlate a step to the scenario it belongs to.
func (c *CucumberExecution) scenarioFor(sc *godog.Scenario) (*scenarioContext, bool) {
	v, ok := c.scenarios.Load(sc)
	if !ok {
		return nil, false
	}
	return v.(*scenarioContext), true
}

// Stop releases no resources of its own beyond letting any in-flight
// suite.Run finish on the pool; it does not attempt to cancel a
// running suite, matching godog's lack of a mid-run cancellation hook.
func (c *CucumberExecution) Stop() {}
