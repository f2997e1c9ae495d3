package steps

import (
	"github.com/jaqedu/jaqflow/internal/actions"
	"github.com/jaqedu/jaqflow/internal/expressions"
)

// NewDefaultDispatcher wires a handler for every step type.
func NewDefaultDispatcher(reg *actions.Registry) (*Dispatcher, error) {
	exprs, err := expressions.NewSet()
	if err != nil {
		return nil, err
	}
	return NewDispatcher(
		NewActionHandler(reg),
		NewTransformHandler(exprs),
		NewConditionHandler(exprs.CEL()),
		DelayHandler{},
		NewTriggerHandler(),
	), nil
}
