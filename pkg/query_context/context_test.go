package query_context

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pmkol/rdapx/pkg/rdap"
)

func Test_Context(t *testing.T) {
	q := rdap.Query{Type: rdap.TypeDomain, Value: "example.com"}
	a := NewContext(q, "10.0.0.1")
	b := NewContext(q, "")

	assert.NotEqual(t, a.Id(), b.Id())
	assert.Equal(t, q, a.Q())
	assert.Equal(t, "10.0.0.1", a.Caller())
	assert.Contains(t, a.String(), "domain example.com")
	assert.False(t, a.StartTime().IsZero())
	assert.GreaterOrEqual(t, a.Elapsed().Nanoseconds(), int64(0))

	a.SetSource("https://rdap.example/domain/example.com")
	a.SetCached(true)
	assert.Equal(t, "https://rdap.example/domain/example.com", a.Source())
	assert.True(t, a.Cached())
	assert.Equal(t, "query", a.InfoField().Key)
}
