package session

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"github.com/jask/shelfwatch/internal/catalog"
	"github.com/jask/shelfwatch/internal/inventory"
)

// customPrefix marks operator-created lines; only these may be renamed
// or re-united.
const customPrefix = "custom-"

// Session is the mutable record of one analysis cycle awaiting operator
// disposition. It never holds both order lines and a promotion: the
// decision engine guarantees that at construction, and the mutation set
// below cannot introduce a promotion.
type Session struct {
	Snapshot       inventory.Snapshot
	Lines          []inventory.StockItem
	Promotion      *inventory.Promotion
	PromotionImage []byte
	Reasoning      string
	ErrorMessage   string
}

func New() *Session { return &Session{} }

// IsCustom reports whether a line id marks an operator-created line.
func IsCustom(id string) bool { return strings.HasPrefix(id, customPrefix) }

// AddCustomLine appends a fresh editable line with a default quantity
// of 1 and returns its id.
func (s *Session) AddCustomLine() string {
	id := customPrefix + uuid.NewString()
	s.Lines = append(s.Lines, inventory.StockItem{ID: id, Name: "New Item", Quantity: 1, Unit: "units"})
	return id
}

// RemoveLine deletes a line by id, preserving the order of the rest.
func (s *Session) RemoveLine(id string) bool {
	for i, l := range s.Lines {
		if l.ID == id {
			s.Lines = append(s.Lines[:i], s.Lines[i+1:]...)
			return true
		}
	}
	return false
}

// SetQuantity sets a line's quantity, clamped to >= 0.
func (s *Session) SetQuantity(id string, n int) bool {
	if n < 0 {
		n = 0
	}
	for i, l := range s.Lines {
		if l.ID == id {
			s.Lines[i].Quantity = n
			return true
		}
	}
	return false
}

// RenameLine updates a custom line's name or unit. Catalog-derived
// lines are immutable in those fields.
func (s *Session) RenameLine(id, field, value string) error {
	if !IsCustom(id) {
		return fmt.Errorf("line %s is catalog-derived and cannot be edited", id)
	}
	for i, l := range s.Lines {
		if l.ID != id {
			continue
		}
		switch field {
		case "name":
			s.Lines[i].Name = value
		case "unit":
			s.Lines[i].Unit = value
		default:
			return fmt.Errorf("unknown field %q", field)
		}
		return nil
	}
	return fmt.Errorf("no line with id %s", id)
}

// AppendStandardItems adds the standard supplier list to the order,
// skipping items whose name is already present (near-identical
// operator-typed names count as present). Returns how many were added.
func (s *Session) AppendStandardItems(std []catalog.StandardItem, quantity func() int) int {
	added := 0
	for _, item := range std {
		if s.hasName(item.Name) {
			continue
		}
		s.Lines = append(s.Lines, inventory.StockItem{
			ID:       customPrefix + uuid.NewString(),
			Name:     item.Name,
			Quantity: quantity(),
			Unit:     item.Unit,
		})
		added++
	}
	return added
}

func (s *Session) hasName(name string) bool {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, l := range s.Lines {
		have := strings.ToLower(strings.TrimSpace(l.Name))
		if have == want {
			return true
		}
		if levenshtein.ComputeDistance(have, want) <= 1 {
			return true
		}
	}
	return false
}

// AppendNote records an agent-side note beneath the cycle reasoning.
func (s *Session) AppendNote(note string) {
	if s.Reasoning == "" {
		s.Reasoning = note
		return
	}
	s.Reasoning += "\n\n" + note
}

// DefaultQuantity picks a standard-item order quantity in [5, 30].
func DefaultQuantity() int { return 5 + rand.Intn(26) }
