package inventory

import (
	"encoding/json"
	"fmt"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// MaterialKind distinguishes the two stocked item tables.
type MaterialKind string

const (
	KindRawMaterial     MaterialKind = "raw_material"
	KindFinishedProduct MaterialKind = "finished_product"
)

// MaterialRef points at exactly one raw material or finished product. The zero
// value is invalid; build refs with RawMaterial or FinishedProduct.
type MaterialRef struct {
	kind MaterialKind
	id   int64
}

// RawMaterial references a raw material row.
func RawMaterial(id int64) MaterialRef { return MaterialRef{kind: KindRawMaterial, id: id} }

// FinishedProduct references a finished product row.
func FinishedProduct(id int64) MaterialRef { return MaterialRef{kind: KindFinishedProduct, id: id} }

// ParseMaterialRef builds a ref from its wire form.
func ParseMaterialRef(kind string, id int64) (MaterialRef, error) {
	if id <= 0 {
		return MaterialRef{}, ErrMaterialRequired
	}
	switch MaterialKind(kind) {
	case KindRawMaterial:
		return RawMaterial(id), nil
	case KindFinishedProduct:
		return FinishedProduct(id), nil
	}
	return MaterialRef{}, shared.Validation(fmt.Sprintf("inventory: unknown material type %q", kind))
}

// Kind returns the referenced table.
func (r MaterialRef) Kind() MaterialKind { return r.kind }

// ID returns the row id inside its table.
func (r MaterialRef) ID() int64 { return r.id }

// IsZero reports an unset ref.
func (r MaterialRef) IsZero() bool { return r.kind == "" || r.id == 0 }

func (r MaterialRef) String() string { return fmt.Sprintf("%s:%d", r.kind, r.id) }

// Match dispatches on the ref kind. An unset ref panics.
func Match[T any](r MaterialRef, onRaw func(id int64) T, onFinished func(id int64) T) T {
	switch r.kind {
	case KindRawMaterial:
		return onRaw(r.id)
	case KindFinishedProduct:
		return onFinished(r.id)
	}
	panic("inventory: match on unset material ref")
}

type materialRefJSON struct {
	Type MaterialKind `json:"type"`
	ID   int64        `json:"id"`
}

// MarshalJSON renders {"type": ..., "id": ...}.
func (r MaterialRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(materialRefJSON{Type: r.kind, ID: r.id})
}

// UnmarshalJSON validates the kind while decoding.
func (r *MaterialRef) UnmarshalJSON(data []byte) error {
	var raw materialRefJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ref, err := ParseMaterialRef(string(raw.Type), raw.ID)
	if err != nil {
		return err
	}
	*r = ref
	return nil
}
