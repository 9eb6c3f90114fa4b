package dsl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/cloudevent"
	"github.com/testprobe/testprobe/internal/codec"
)

// StepDependencies is the richer shape the framework glue package
// needs from a running test: its id, the registry to address, and the
// event source used to build outbound CloudEvent keys.
// A concrete implementation is supplied by the owning TestExecutionActor
// when it builds a CucumberExecution child; it satisfies
// cucumber.Dependencies structurally (TestID() string) as well.
type StepDependencies interface {
	TestID() string
	DSLRegistry() *Registry
	EventSource() string
}

// FrameworkGlue returns the built-in step package every
// CucumberExecution registers ahead of user glue: generic
// produce/consume steps addressing the DSL registry by topic and a
// stable eventTestId, so feature authors don't need topic-specific
// step definitions for the common case.
//
// sc and deps match the shape cucumber.GluePackage expects
// (func(*godog.ScenarioContext, cucumber.Dependencies)); deps is
// type-asserted to StepDependencies here rather than imported by
// signature, so this package never imports cucumber and cucumber
// never imports dsl.
func FrameworkGlue(sc *godog.ScenarioContext, deps interface{}) {
	d, ok := deps.(StepDependencies)
	if !ok {
		return
	}

	sc.Step(`^I produce an event "([^"]*)" of type "([^"]*)" with payload version "([^"]*)" on topic "([^"]*)" with payload:$`,
		func(ctx context.Context, eventTestID, eventType, payloadVersion, topic string, payloadDoc *godog.DocString) error {
			return produceStep(ctx, d, eventTestID, eventType, payloadVersion, topic, payloadDoc.Content)
		})

	sc.Step(`^I should receive the event "([^"]*)" on topic "([^"]*)" within (\d+) seconds$`,
		func(ctx context.Context, eventTestID, topic string, timeoutSeconds int) error {
			return awaitConsumedStep(ctx, d, eventTestID, topic, time.Duration(timeoutSeconds)*time.Second)
		})
}

func produceStep(ctx context.Context, d StepDependencies, eventTestID, eventType, payloadVersion, topic, payloadJSON string) error {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return &apperrors.ValidationError{Msg: fmt.Sprintf("step payload is not valid JSON: %v", err)}
	}

	correlationID := cloudevent.DeriveCorrelationID(d.TestID(), eventTestID)
	ce := cloudevent.New(uuid.NewString(), d.EventSource(), eventType, topic, "application/json", correlationID, payloadVersion)

	_, err := d.DSLRegistry().ProduceEvent(ctx, d.TestID(), topic, ce, payload, nil, codec.FormatJSONSchema, eventType, "")
	return err
}

func awaitConsumedStep(ctx context.Context, d StepDependencies, eventTestID, topic string, timeout time.Duration) error {
	correlationID := cloudevent.DeriveCorrelationID(d.TestID(), eventTestID)

	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		var out map[string]interface{}
		_, err := d.DSLRegistry().FetchConsumedEvent(ctx, d.TestID(), topic, correlationID, codec.FormatJSONSchema, &out)
		if err == nil {
			return nil
		}
		lastErr = err

		var notAvailable *apperrors.ConsumerNotAvailable
		if !errors.As(err, &notAvailable) {
			return err
		}
		if time.Now().After(deadline) {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
