package core

// Harmonize produces one canonical row from a raw row of the plan's source.
// The result always has one cell per header label; labels the source does
// not provide are null.
func (p *SourcePlan) Harmonize(raw RawRow) Row {
	row := make(Row, len(p.transforms))
	for i, t := range p.transforms {
		if t.Format == 0 {
			continue
		}
		row[i] = applyCell(t, raw)
	}
	return row
}

// applyCell contains a panicking transformation to its own cell.
func applyCell(t Transform, raw RawRow) (v Value) {
	defer func() {
		if recover() != nil {
			v = Null
		}
	}()
	return t.Apply(raw)
}
