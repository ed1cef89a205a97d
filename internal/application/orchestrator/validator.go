package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/orchestration"
)

// Validator checks graphs and run inputs
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks that exec is named, has nodes and passes its own validation
func (v *Validator) Validate(exec orchestration.Executable) error {
	if exec == nil {
		return fmt.Errorf("graph is nil")
	}
	if exec.Name() == "" {
		return fmt.Errorf("graph name is required")
	}
	if len(exec.Runnables()) == 0 {
		return fmt.Errorf("graph must have at least one node")
	}
	if err := exec.Validate(); err != nil {
		return err
	}
	return nil
}

// DecodeInput decodes raw JSON into the input type of exec's entry. Empty input
// decodes as null. Unknown fields are rejected for struct inputs.
func (v *Validator) DecodeInput(exec orchestration.Executable, raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("null")
	}

	target := reflect.New(exec.InputType())

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target.Interface()); err != nil {
		return nil, fmt.Errorf("%w: %s expects %s: %v", domain.ErrInvalidInput, exec.Name(), exec.InputType(), err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after input", domain.ErrInvalidInput)
	}

	return target.Elem().Interface(), nil
}
