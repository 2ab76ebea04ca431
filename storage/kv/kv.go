package kv

import (
	"fmt"

	"github.com/jrife/versionkv/storage/kv/keys"
)

// Range converts listing parameters to a half-open key range
func (params ListParams) Range() keys.Range {
	r := keys.All()

	if params.Gte != "" {
		r = r.Gte([]byte(params.Gte))
	}

	if params.Gt != "" {
		r = r.Gt([]byte(params.Gt))
	}

	if params.Lt != "" {
		r = r.Lt([]byte(params.Lt))
	}

	if params.Lte != "" {
		r = r.Lte([]byte(params.Lte))
	}

	return r
}

// ValidateOps makes sure every op in a batch
// can be applied
func ValidateOps(ops []Op) error {
	for i, op := range ops {
		if op.Key == "" {
			return fmt.Errorf("op %d: %w", i, ErrEmptyKey)
		}

		if op.Type != OpPut && op.Type != OpDelete {
			return fmt.Errorf("op %d: unknown op type %d", i, op.Type)
		}
	}

	return nil
}
