package transfer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifestEnvelope(t *testing.T) {
	doc := `{
		"HTTPAsyncData": {
			"PUT": {"http://h/b": "/tmp/b", "http://h/a": "/tmp/a"},
			"get": {"http://h/c": "/tmp/c"},
			"username": "alice",
			"password": "secret"
		}
	}`

	m, err := ParseManifest(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "alice", m.Username)
	assert.Equal(t, "secret", m.Password)
	assert.Equal(t, []Method{MethodGet, MethodPut}, m.Methods())

	items := m.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "http://h/c", items[0].URL)
	assert.Equal(t, MethodGet, items[0].Method)
	assert.Equal(t, "http://h/a", items[1].URL)
	assert.Equal(t, "/tmp/a", items[1].LocalPath)
	assert.Equal(t, "http://h/b", items[2].URL)
}

func TestParseManifestBare(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(`{"HEAD": {"http://h/a": "/a"}, "PATCH": {"http://h/p": "/p"}}`))
	require.NoError(t, err)
	assert.Equal(t, []Method{MethodHead, Method("PATCH")}, m.Methods())
	assert.Empty(t, m.Username)
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty", doc: "  "},
		{name: "not json", doc: "PUT http://h/a"},
		{name: "array", doc: `[1, 2]`},
		{name: "envelope not object", doc: `{"HTTPAsyncData": 3}`},
		{name: "bad method", doc: `{"BAD METHOD": {"http://h/a": "/a"}}`},
		{name: "group not mapping", doc: `{"PUT": ["http://h/a"]}`},
		{name: "empty url", doc: `{"PUT": {"": "/a"}}`},
		{name: "no groups", doc: `{"username": "u"}`},
		{name: "username type", doc: `{"PUT": {"http://h/a": "/a"}, "username": 5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest(strings.NewReader(tt.doc))
			require.Error(t, err)
			var me *ManifestError
			assert.True(t, errors.As(err, &me), "want *ManifestError, got %T", err)
		})
	}
}

func TestGroupByMethod(t *testing.T) {
	items := []*Item{
		NewItem(MethodPut, "http://h/1", "/1"),
		NewItem(MethodGet, "http://h/2", "/2"),
		NewItem(MethodPut, "http://h/3", "/3"),
	}

	groups := GroupByMethod(items)
	assert.Equal(t, []Method{MethodGet, MethodPut}, SortedMethods(groups))
	require.Len(t, groups[MethodPut], 2)
	assert.Equal(t, "http://h/1", groups[MethodPut][0].URL)
	assert.Equal(t, "http://h/3", groups[MethodPut][1].URL)
}
