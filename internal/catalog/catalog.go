package catalog

// Item is one trackable inventory item. Target is the stock level the
// agent tries to hold (a safe 3-day supply).
type Item struct {
	ID     string
	Name   string
	Unit   string
	Target int
}

// Catalog is the static registry of trackable items, loaded once at
// startup. Item order is canonical: snapshots and order lines follow it.
type Catalog struct {
	items []Item
	index map[string]int
}

func New(items []Item) *Catalog {
	c := &Catalog{
		items: make([]Item, len(items)),
		index: make(map[string]int, len(items)),
	}
	copy(c.items, items)
	for i, it := range c.items {
		c.index[it.ID] = i
	}
	return c
}

// Default is the built-in catalog for the Central Hong Kong store.
func Default() *Catalog {
	return New([]Item{
		{ID: "ketchup", Name: "Ketchup", Unit: "packs", Target: 2},
		{ID: "thai-hot-spicy-sauce", Name: "Thai & Hot Spicy Sauce", Unit: "packs", Target: 4},
		{ID: "straws", Name: "Straws", Unit: "packs", Target: 5},
	})
}

func (c *Catalog) Get(id string) (Item, bool) {
	i, ok := c.index[id]
	if !ok {
		return Item{}, false
	}
	return c.items[i], true
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Items returns the catalog in canonical order. The slice is a copy.
func (c *Catalog) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Catalog) Len() int { return len(c.items) }

// StandardItem is a supplier staple the operator can bulk-add to a
// purchase order with a natural-language command.
type StandardItem struct {
	Name string
	Unit string
}

// StandardItems is the fixed add-on list offered by the "add items"
// intent. Quantities are chosen when the lines are created.
func StandardItems() []StandardItem {
	return []StandardItem{
		{Name: "Regular Beef Patty 10:1", Unit: "cases"},
		{Name: "McSpicy Chicken Patty", Unit: "cases"},
		{Name: "Chicken McNuggets", Unit: "cases"},
		{Name: "Leaf Lettuce", Unit: "cases"},
		{Name: "Frozen French Fries", Unit: "cases"},
		{Name: "Coca-Cola Syrup", Unit: "cases"},
	}
}
