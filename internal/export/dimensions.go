package export

import (
	"github.com/bowmanmike/libsync/internal/app"
	"github.com/bowmanmike/libsync/internal/catalog"
)

// dimension assigns ids 1..n to distinct normalized names in first-seen order.
type dimension struct {
	ids  map[string]int64
	rows []app.Dimension
}

func newDimension() *dimension {
	return &dimension{ids: make(map[string]int64)}
}

func (d *dimension) add(name, sortName string) {
	name = catalog.Normalize(name)
	if name == "" {
		return
	}
	if _, ok := d.ids[name]; ok {
		return
	}
	id := int64(len(d.rows) + 1)
	d.ids[name] = id
	d.rows = append(d.rows, app.Dimension{
		ID:       id,
		Name:     name,
		SortName: catalog.SortName(name, sortName),
	})
}

// lookup returns nil for an empty or unknown name.
func (d *dimension) lookup(name string) *int64 {
	id, ok := d.ids[catalog.Normalize(name)]
	if !ok {
		return nil
	}
	return &id
}

// dimensions holds the id maps of one export run.
type dimensions struct {
	genres  *dimension
	artists *dimension
	albums  *dimension
}

func newDimensions() *dimensions {
	return &dimensions{
		genres:  newDimension(),
		artists: newDimension(),
		albums:  newDimension(),
	}
}
