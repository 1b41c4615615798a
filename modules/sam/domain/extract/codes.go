package extract

// Code is the per-row extract tag.
type Code string

const (
	CodeDelete Code = "1"
	CodeInsert Code = "2"
	CodeUpdate Code = "3"
	CodeActive Code = "A"
	CodeExpire Code = "E"
)

// Known reports whether c is one of the codes the loader acts on.
func (c Code) Known() bool {
	switch c {
	case CodeDelete, CodeInsert, CodeUpdate, CodeActive, CodeExpire:
		return true
	default:
		return false
	}
}

func (c Code) IsDelete() bool { return c == CodeDelete }

// IsAdd reports whether c introduces an entity (A, E and 2).
func (c Code) IsAdd() bool {
	return c == CodeActive || c == CodeExpire || c == CodeInsert
}

func (c Code) IsUpdate() bool { return c == CodeUpdate }

// Less orders deletes before adds and updates. The byte order of the known codes already does that.
func (c Code) Less(other Code) bool { return c < other }
