package catalog

import "context"

var _ Reader = (*FakeReader)(nil)

// FakeReader is an in-memory Reader double. Tests populate its fields
// directly with exactly the rows relevant to the scenario under test; it
// never filters by the oids a caller passes in, since a test already
// scopes its fixture to what it wants visible.
type FakeReader struct {
	LockRows        []Lock
	ColumnRows      []Column
	ConstraintRows  []Constraint
	IndexRows       []Index
	RelfilenodeRows map[uint32]uint32
	LockTimeoutMs   int64
	Relations       map[[2]string]resolvedRelation
	LockableRows    []LockableTarget
}

type resolvedRelation struct {
	OID     uint32
	RelKind byte
}

// NewFakeReader returns an empty FakeReader ready for its fields to be
// filled in by a test.
func NewFakeReader() *FakeReader {
	return &FakeReader{
		RelfilenodeRows: make(map[uint32]uint32),
		Relations:       make(map[[2]string]resolvedRelation),
	}
}

// AddRelation registers (schema, name) so ResolveRelation can find it.
func (f *FakeReader) AddRelation(schema, name string, oid uint32, relkind byte) {
	if schema == "" {
		schema = "public"
	}
	f.Relations[[2]string{schema, name}] = resolvedRelation{OID: oid, RelKind: relkind}
}

func (f *FakeReader) Locks(ctx context.Context) ([]Lock, error) {
	return f.LockRows, nil
}

func (f *FakeReader) Columns(ctx context.Context, oids []uint32) ([]Column, error) {
	return f.ColumnRows, nil
}

func (f *FakeReader) Constraints(ctx context.Context, oids []uint32) ([]Constraint, error) {
	return f.ConstraintRows, nil
}

func (f *FakeReader) Indexes(ctx context.Context, oids []uint32) ([]Index, error) {
	return f.IndexRows, nil
}

func (f *FakeReader) Relfilenodes(ctx context.Context, oids []uint32) (map[uint32]uint32, error) {
	out := make(map[uint32]uint32, len(f.RelfilenodeRows))
	for k, v := range f.RelfilenodeRows {
		out[k] = v
	}
	return out, nil
}

func (f *FakeReader) LockTimeoutMillis(ctx context.Context) (int64, error) {
	return f.LockTimeoutMs, nil
}

// LockableObjects returns LockableRows minus any oid in skip.
func (f *FakeReader) LockableObjects(ctx context.Context, skip []uint32) ([]LockableTarget, error) {
	skipSet := make(map[uint32]bool, len(skip))
	for _, oid := range skip {
		skipSet[oid] = true
	}
	var out []LockableTarget
	for _, t := range f.LockableRows {
		if !skipSet[t.OID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *FakeReader) ResolveRelation(ctx context.Context, schema, name string) (uint32, byte, bool, error) {
	if schema == "" {
		schema = "public"
	}
	rel, ok := f.Relations[[2]string{schema, name}]
	if !ok {
		return 0, 0, false, nil
	}
	return rel.OID, rel.RelKind, true, nil
}
