package replay

import (
	"strconv"
	"strings"
)

// CellKind represents the type of a maze tile
type CellKind int

const (
	CellEmpty CellKind = iota
	CellWall
	CellFloor
	CellFinish
	CellStart
)

func (k CellKind) String() string {
	switch k {
	case CellWall:
		return "WALL"
	case CellFloor:
		return "FLOOR"
	case CellFinish:
		return "FINISH"
	case CellStart:
		return "START"
	default:
		return "EMPTY"
	}
}

// ParseCellKind maps a kind name (as written by legacy recordings) to a CellKind.
// Unknown names decode to CellEmpty.
func ParseCellKind(name string) CellKind {
	switch strings.ToUpper(name) {
	case "WALL":
		return CellWall
	case "FLOOR":
		return CellFloor
	case "FINISH":
		return CellFinish
	case "START":
		return CellStart
	default:
		return CellEmpty
	}
}

// MarshalText implements encoding.TextMarshaler
func (k CellKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *CellKind) UnmarshalText(text []byte) error {
	*k = ParseCellKind(string(text))
	return nil
}

// kind characters used by compact cell tokens
const (
	kindCharWall   = "W"
	kindCharEmpty  = "E"
	kindCharFloor  = "F"
	kindCharFinish = "N"
	kindCharStart  = "S"

	markerField       = "S"
	finishOwnerPrefix = "F:"
)

func kindFromChar(c string) CellKind {
	switch c {
	case kindCharWall:
		return CellWall
	case kindCharFloor:
		return CellFloor
	case kindCharFinish:
		return CellFinish
	case kindCharStart:
		return CellStart
	default:
		return CellEmpty
	}
}

func kindChar(k CellKind) string {
	switch k {
	case CellWall:
		return kindCharWall
	case CellFloor:
		return kindCharFloor
	case CellFinish:
		return kindCharFinish
	case CellStart:
		return kindCharStart
	default:
		return kindCharEmpty
	}
}

// Cell is one maze tile.
// FormOwner is only meaningful when Form is set; FinishOwnerID only when Kind is CellFinish.
type Cell struct {
	Kind          CellKind `json:"type"`
	X             int      `json:"x"`
	Y             int      `json:"y"`
	Form          string   `json:"form,omitempty"`
	FormOwner     *int     `json:"formOwner,omitempty"`
	HasMarker     bool     `json:"hasSheet"`
	FinishOwnerID *int     `json:"finishPlayerId,omitempty"`
}

// FinishOwner returns the owning player of a finish cell
func (c Cell) FinishOwner() (int, bool) {
	if c.Kind != CellFinish || c.FinishOwnerID == nil {
		return 0, false
	}
	return *c.FinishOwnerID, true
}

// clone returns a copy of the cell that shares no pointers with c
func (c Cell) clone() Cell {
	out := c
	if c.FormOwner != nil {
		v := *c.FormOwner
		out.FormOwner = &v
	}
	if c.FinishOwnerID != nil {
		v := *c.FinishOwnerID
		out.FinishOwnerID = &v
	}
	return out
}

// DecodeCell decodes a compact cell token of the form
// <kind>[,<form>[,<formOwner>]][,S][,F:<playerId>].
//
// The kind and form fields are positional. The marker and finish-owner flags are matched
// by content in any later field, so their order does not matter. A finish-owner flag in
// the form position is accepted as a flag, since finish cells never carry a form, and so
// is an "S" there with no owner after it: "F,S" and "F,,S" both mark a floor cell.
// DecodeCell never fails: unknown kinds decode to CellEmpty and unparsable integers are
// left unset.
func DecodeCell(token string, x, y int) Cell {
	parts := strings.Split(token, ",")
	cell := Cell{
		Kind: kindFromChar(parts[0]),
		X:    x,
		Y:    y,
	}

	flagsFrom := 2
	if len(parts) > 1 {
		switch {
		case strings.HasPrefix(parts[1], finishOwnerPrefix), isLoneMarker(parts):
			flagsFrom = 1
		case parts[1] != "":
			cell.Form = parts[1]
		}
	}

	if flagsFrom == 2 && len(parts) > 2 && parts[2] != "" {
		if owner, ok := parseLeadingInt(parts[2]); ok {
			cell.FormOwner = &owner
		}
	}

	for _, part := range parts[min(flagsFrom, len(parts)):] {
		switch {
		case part == markerField:
			cell.HasMarker = true
		case strings.HasPrefix(part, finishOwnerPrefix):
			if id, ok := parseLeadingInt(part[len(finishOwnerPrefix):]); ok {
				cell.FinishOwnerID = &id
			}
		}
	}

	return cell
}

// isLoneMarker reports whether the form position holds the marker rather than a form.
// Forms always come with an owner, so an "S" with no owner after it is the marker.
func isLoneMarker(parts []string) bool {
	if parts[1] != markerField {
		return false
	}
	if len(parts) < 3 {
		return true
	}
	_, hasOwner := parseLeadingInt(parts[2])
	return !hasOwner
}

// EncodeCell produces the canonical compact token for a cell.
// DecodeCell(EncodeCell(c), c.X, c.Y) reproduces c, except for an ownerless form "S",
// which reads back as the marker.
func EncodeCell(c Cell) string {
	fields := []string{kindChar(c.Kind)}

	switch {
	case c.FormOwner != nil:
		fields = append(fields, c.Form, strconv.Itoa(*c.FormOwner))
	case c.Form != "":
		fields = append(fields, c.Form)
	}
	if c.HasMarker {
		fields = append(fields, markerField)
	}
	if c.FinishOwnerID != nil {
		fields = append(fields, finishOwnerPrefix+strconv.Itoa(*c.FinishOwnerID))
	}

	return strings.Join(fields, ",")
}

// parseLeadingInt parses an optional sign followed by the leading run of digits,
// ignoring anything after it.
func parseLeadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
