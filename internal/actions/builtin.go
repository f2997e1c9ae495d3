package actions

import (
	"log/slog"

	"github.com/jaqedu/jaqflow/internal/validation"
)

// BuiltinDeps are the collaborators of the built-in actions. Nil fields fall
// back to defaults; a nil Validator disables assert.schema.
type BuiltinDeps struct {
	Validator *validation.JSONSchemaValidator
	HTTP      HTTPConfig
	Logger    *slog.Logger
	Events    Emitter
}

// RegisterBuiltins registers every built-in action in reg.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) error {
	all := make([]Action, 0, 16)
	all = append(all, WorkflowActions(deps.Logger, deps.Events)...)
	all = append(all, NewHTTPRequestAction(deps.HTTP))
	all = append(all, CryptoActions()...)
	all = append(all, AssertActions(deps.Validator)...)

	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
