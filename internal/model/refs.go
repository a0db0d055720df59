package model

// RefKind distinguishes the two constructors of a BlockRef, implementing
// Design Note "Dynamic references": a reference is either a point id or a
// global-variable name, resolved uniformly wherever a block names a source.
type RefKind int

const (
	RefNone RefKind = iota
	RefPoint
	RefVariable
)

// BlockRef is the tagged-union reference type. Zero value is RefNone (no
// reference configured).
type BlockRef struct {
	Kind RefKind
	Name string // point id or global-variable name, depending on Kind
}

// PointRef constructs a BlockRef naming a point id.
func PointRef(pointID string) BlockRef {
	return BlockRef{Kind: RefPoint, Name: pointID}
}

// VariableRef constructs a BlockRef naming a global variable.
func VariableRef(varName string) BlockRef {
	return BlockRef{Kind: RefVariable, Name: varName}
}

// IsZero reports whether the reference is unconfigured.
func (r BlockRef) IsZero() bool {
	return r.Kind == RefNone
}
