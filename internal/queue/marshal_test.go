package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/tilequeue-go/internal/coord"
)

func TestSingleCoordMarshaller(t *testing.T) {
	m := SingleCoordMarshaller{}
	c := coord.Coord{Zoom: 10, Column: 300, Row: 400}

	payload := m.Marshal([]coord.Coord{c})
	assert.Equal(t, "10/300/400", payload)

	got, err := m.Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, []coord.Coord{c}, got)

	assert.Panics(t, func() { m.Marshal(nil) })
	assert.Panics(t, func() { m.Marshal([]coord.Coord{c, c}) })

	_, err = m.Unmarshal("10/300/400,10/300/401")
	assert.Error(t, err)
	_, err = m.Unmarshal("garbage")
	assert.ErrorIs(t, err, coord.ErrInvalid)
}

func TestCommaSeparatedMarshaller(t *testing.T) {
	m := CommaSeparatedMarshaller{}
	coords := []coord.Coord{{Zoom: 1, Column: 1, Row: 0}, {Zoom: 10, Column: 300, Row: 400}}

	payload := m.Marshal(coords)
	assert.Equal(t, "1/1/0,10/300/400", payload)
	got, err := m.Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, coords, got)

	assert.Equal(t, "", m.Marshal(nil))
	empty, err := m.Unmarshal("")
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, "", m.Marshal(empty))

	_, err = m.Unmarshal("1/1/0,,2/0/0")
	assert.Error(t, err)
}
