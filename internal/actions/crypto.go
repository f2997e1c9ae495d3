package actions

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"github.com/google/uuid"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

var hashes = map[string]func() hash.Hash{
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
	"sha1":   sha1.New,
	"md5":    md5.New,
}

// CryptoActions returns crypto.hash, crypto.hmac and crypto.uuid.
func CryptoActions() []Action {
	return []Action{
		&digestAction{name: "crypto.hash", field: "hash"},
		&digestAction{name: "crypto.hmac", field: "hmac", keyed: true},
		uuidAction{},
	}
}

// digestAction computes a hex digest of 'data', keyed by 'key' for HMACs.
type digestAction struct {
	name  string
	field string
	keyed bool
}

func (a *digestAction) Name() string { return a.name }

func (a *digestAction) Schema() ActionSchema {
	if a.keyed {
		return ActionSchema{Description: "Compute an HMAC of 'data' with 'key'."}
	}
	return ActionSchema{Description: "Compute a hash of 'data'."}
}

func (a *digestAction) Validate(params map[string]any) error {
	if _, ok := params["data"].(string); !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s requires 'data' string parameter", a.name)
	}
	if _, ok := params["key"].(string); a.keyed && !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s requires 'key' string parameter", a.name)
	}
	if _, ok := hashes[stringParam(params, "algorithm", "sha256")]; !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unsupported hash algorithm: %s", params["algorithm"])
	}
	return nil
}

func (a *digestAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	algorithm := stringParam(input.Params, "algorithm", "sha256")
	newHash := hashes[algorithm]

	var h hash.Hash
	if a.keyed {
		h = hmac.New(newHash, []byte(stringParam(input.Params, "key", "")))
	} else {
		h = newHash()
	}
	h.Write([]byte(stringParam(input.Params, "data", "")))

	return jsonOutput(a.name, map[string]any{
		a.field:     hex.EncodeToString(h.Sum(nil)),
		"algorithm": algorithm,
	})
}

type uuidAction struct{}

func (uuidAction) Name() string                  { return "crypto.uuid" }
func (uuidAction) Schema() ActionSchema          { return ActionSchema{Description: "Generate a v4 UUID."} }
func (uuidAction) Validate(map[string]any) error { return nil }

func (uuidAction) Execute(context.Context, ActionInput) (*ActionOutput, error) {
	return jsonOutput("crypto.uuid", map[string]any{"uuid": uuid.NewString()})
}
