package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticegraph/lattice/pkg/address"
	"github.com/latticegraph/lattice/pkg/element"
	"github.com/latticegraph/lattice/pkg/gctx"
)

func TestParseFileBuildsTemplateAndParams(t *testing.T) {
	data := []byte(`
params:
  existing: "0:5"
triples:
  - source: {name: a, kind: node}
    connector: {kind: arc_common}
    target: {name: b, kind: node, subtype: 3}
`)
	tmpl, params, err := ParseFile(data)
	require.NoError(t, err)

	require.Equal(t, address.New(0, 5), params["existing"])
	require.Len(t, tmpl, 1)
	assert.Equal(t, "a", tmpl[0].Source.Name)
	assert.Equal(t, element.KindNode, tmpl[0].Source.Type)
	assert.Equal(t, element.KindArcCommon, tmpl[0].Connector.Type)
	assert.Equal(t, "b", tmpl[0].Target.Name)
	assert.Equal(t, element.KindNode|element.Type(3)<<8, tmpl[0].Target.Type)
}

func TestParseFileFixedItem(t *testing.T) {
	data := []byte(`
triples:
  - source: {fixed: "1:2", kind: node}
    connector: {kind: arc_membership}
    target: {name: b, kind: node}
`)
	tmpl, _, err := ParseFile(data)
	require.NoError(t, err)
	require.Len(t, tmpl, 1)
	assert.True(t, tmpl[0].Source.Fixed)
	assert.Equal(t, address.New(1, 2), tmpl[0].Source.Addr)
}

func TestParseFileUnknownKindFails(t *testing.T) {
	data := []byte(`
triples:
  - source: {name: a, kind: bogus}
    connector: {kind: arc_common}
    target: {name: b, kind: node}
`)
	_, _, err := ParseFile(data)
	assert.Error(t, err)
}

func TestParseFileThenLoadRoundTrips(t *testing.T) {
	st := newTestStorage(t)
	ctx := gctx.New(1)

	data := []byte(`
triples:
  - source: {name: a, kind: node}
    connector: {kind: arc_common}
    target: {name: b, kind: node}
`)
	tmpl, params, err := ParseFile(data)
	require.NoError(t, err)

	structAddr, err := Load(ctx, st, tmpl, params)
	require.NoError(t, err)
	assert.True(t, st.IsElement(ctx, structAddr))
}
