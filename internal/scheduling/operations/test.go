// Package operations implements the built-in "test" Operation; the
// domain-specific "stream" operation lives in its own subpackage because of
// its size and external dependencies.
package operations

import (
	"context"
	"encoding/json"

	"github.com/radio-aktywne/mantis/internal/scheduling"
)

// Test echoes its parameters and resolved dependencies back as the result.
// It exists so the scheduler's lifecycle machinery can be exercised without
// any external services, the way spec section 8's scenario 1 uses it.
type Test struct{}

func NewTest() scheduling.Operation { return Test{} }

type testResult struct {
	Parameters   json.RawMessage            `json:"parameters"`
	Dependencies map[string]json.RawMessage `json:"dependencies"`
}

func (Test) Run(_ context.Context, parameters json.RawMessage, dependencies map[string]json.RawMessage) (json.RawMessage, error) {
	if dependencies == nil {
		dependencies = map[string]json.RawMessage{}
	}
	return json.Marshal(testResult{Parameters: parameters, Dependencies: dependencies})
}

// Register installs the built-in "test" operation into factory. The
// "stream" operation is registered separately by its own package, since it
// needs external service clients the factory alone can't provide.
func Register(factory *scheduling.OperationFactory) {
	factory.Register("test", NewTest)
}
