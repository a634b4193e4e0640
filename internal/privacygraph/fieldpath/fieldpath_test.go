package fieldpath_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medisync/privacygraph/internal/privacygraph/fieldpath"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		dotted string
		want   fieldpath.Path
	}{
		{"empty", "", nil},
		{"single segment", "email", fieldpath.Path{"email"}},
		{"nested", "contact.email", fieldpath.Path{"contact", "email"}},
		{"drops empty segments", "contact..email", fieldpath.Path{"contact", "email"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fieldpath.Parse(tt.dotted)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestPath_HeadTail(t *testing.T) {
	p := fieldpath.New("a", "b", "c")

	head, ok := p.Head()
	assert.True(t, ok)
	assert.Equal(t, "a", head)

	tail := p.Tail()
	assert.True(t, tail.Equal(fieldpath.New("b", "c")))

	empty := fieldpath.New()
	_, ok = empty.Head()
	assert.False(t, ok)
	assert.Nil(t, empty.Tail())

	single := fieldpath.New("a")
	assert.Nil(t, single.Tail())
}

func TestPath_Child(t *testing.T) {
	p := fieldpath.New("contact")
	child := p.Child("email")
	assert.True(t, child.Equal(fieldpath.New("contact", "email")))
	// original untouched
	assert.True(t, p.Equal(fieldpath.New("contact")))
}

func TestPath_String(t *testing.T) {
	assert.Equal(t, "contact.email", fieldpath.New("contact", "email").String())
	assert.Equal(t, "", fieldpath.New().String())
}

func TestCategory_IsPrefixOf(t *testing.T) {
	tests := []struct {
		name   string
		prefix fieldpath.Category
		target fieldpath.Category
		want   bool
	}{
		{"exact match", "user.provided.identifiable", "user.provided.identifiable", true},
		{"segment prefix", "user.provided", "user.provided.identifiable.contact.email", true},
		{"string prefix but not segment prefix", "user.prov", "user.provided", false},
		{"longer than target", "user.provided.identifiable", "user.provided", false},
		{"unrelated", "system", "user.provided", false},
		{"empty prefix matches everything", "", "user.provided", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.prefix.IsPrefixOf(tt.target))
		})
	}
}

func TestMatchesAny(t *testing.T) {
	requested := []fieldpath.Category{"user.provided.identifiable.contact"}
	declared := []fieldpath.Category{"user.provided.identifiable.contact.email"}
	assert.True(t, fieldpath.MatchesAny(requested, declared))

	declaredOther := []fieldpath.Category{"system.operations.improve"}
	assert.False(t, fieldpath.MatchesAny(requested, declaredOther))

	assert.False(t, fieldpath.MatchesAny(requested, nil))
	assert.False(t, fieldpath.MatchesAny(nil, declared))
}
