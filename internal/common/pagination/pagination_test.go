package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseParams_Defaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/deliveries", nil)
	params := ParseParams(r)
	assert.Equal(t, DefaultLimit, params.Limit)
	assert.Equal(t, 0, params.Offset)
}

func TestParseParams_Clamping(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/deliveries?limit=500&offset=-3", nil)
	params := ParseParams(r)
	assert.Equal(t, MaxLimit, params.Limit)
	assert.Equal(t, 0, params.Offset)
}

func TestNewPage_NextOffset(t *testing.T) {
	page := NewPage([]string{"a", "b"}, Params{Limit: 2, Offset: 0}, 5)
	assert.NotNil(t, page.NextOffset)
	assert.Equal(t, 2, *page.NextOffset)
}

func TestNewPage_LastPage(t *testing.T) {
	page := NewPage([]string{"e"}, Params{Limit: 2, Offset: 4}, 5)
	assert.Nil(t, page.NextOffset)
	assert.Equal(t, 5, page.Total)
}
