package drift

import "sort"

// diffSnapshots classifies every table in reference or actual against the
// other, in the manner spec.md §4.9 step 3 describes: matched by name,
// then column/index/constraint drift computed within matched tables.
func diffSnapshots(reference, actual Snapshot) []TableDrift {
	names := map[string]bool{}
	for n := range reference.Tables {
		names[n] = true
	}
	for n := range actual.Tables {
		names[n] = true
	}

	var drifts []TableDrift
	for _, name := range sortedKeys(names) {
		refTable, inRef := reference.Tables[name]
		actTable, inAct := actual.Tables[name]

		switch {
		case inRef && !inAct:
			drifts = append(drifts, TableDrift{Table: name, Status: "missing"})
		case !inRef && inAct:
			drifts = append(drifts, TableDrift{Table: name, Status: "extra"})
		default:
			td := diffTable(refTable, actTable)
			if len(td.Columns) == 0 && len(td.Indexes) == 0 && len(td.Constraints) == 0 {
				drifts = append(drifts, TableDrift{Table: name, Status: "ok"})
			} else {
				td.Table = name
				td.Status = "drifted"
				drifts = append(drifts, td)
			}
		}
	}
	return drifts
}

func diffTable(ref, act Table) TableDrift {
	return TableDrift{
		Columns:     diffColumns(ref.Columns, act.Columns),
		Indexes:     diffIndexes(ref.Indexes, act.Indexes),
		Constraints: diffConstraints(ref.Constraints, act.Constraints),
	}
}

func diffColumns(ref, act map[string]ColumnSnapshot) []ColumnDrift {
	names := map[string]bool{}
	for n := range ref {
		names[n] = true
	}
	for n := range act {
		names[n] = true
	}

	var out []ColumnDrift
	for _, name := range sortedKeys(names) {
		refCol, inRef := ref[name]
		actCol, inAct := act[name]

		switch {
		case inRef && !inAct:
			out = append(out, ColumnDrift{Column: name, Kind: "missing"})
		case !inRef && inAct:
			out = append(out, ColumnDrift{Column: name, Kind: "extra", ActualType: actCol.DataType})
		case refCol.DataType != actCol.DataType:
			out = append(out, ColumnDrift{
				Column: name, Kind: "type_mismatch",
				ReferenceType: refCol.DataType, ActualType: actCol.DataType,
			})
		case refCol.Nullable != actCol.Nullable:
			out = append(out, ColumnDrift{
				Column: name, Kind: "nullable_mismatch",
				ReferenceNullable: refCol.Nullable, ActualNullable: actCol.Nullable,
			})
		case refCol.Default != actCol.Default:
			out = append(out, ColumnDrift{
				Column: name, Kind: "default_mismatch",
				ReferenceDefault: refCol.Default, ActualDefault: actCol.Default,
			})
		}
	}
	return out
}

func diffIndexes(ref, act map[string]IndexSnapshot) []IndexDrift {
	names := map[string]bool{}
	for n := range ref {
		names[n] = true
	}
	for n := range act {
		names[n] = true
	}

	var out []IndexDrift
	for _, name := range sortedKeys(names) {
		refIdx, inRef := ref[name]
		actIdx, inAct := act[name]

		switch {
		case inRef && !inAct:
			out = append(out, IndexDrift{Index: name, Kind: "missing"})
		case !inRef && inAct:
			out = append(out, IndexDrift{Index: name, Kind: "extra"})
		case refIdx.Unique != actIdx.Unique || !sameColumnSet(refIdx.Columns, actIdx.Columns):
			out = append(out, IndexDrift{Index: name, Kind: "definition_mismatch"})
		}
	}
	return out
}

func diffConstraints(ref, act map[string]ConstraintSnapshot) []ConstraintDrift {
	names := map[string]bool{}
	for n := range ref {
		names[n] = true
	}
	for n := range act {
		names[n] = true
	}

	var out []ConstraintDrift
	for _, name := range sortedKeys(names) {
		refCon, inRef := ref[name]
		actCon, inAct := act[name]

		switch {
		case inRef && !inAct:
			out = append(out, ConstraintDrift{Name: name, Kind: "missing"})
		case !inRef && inAct:
			out = append(out, ConstraintDrift{Name: name, Kind: "extra"})
		case refCon.Type != actCon.Type || !sameColumnSet(refCon.Columns, actCon.Columns):
			out = append(out, ConstraintDrift{Name: name, Kind: "definition_mismatch"})
		}
	}
	return out
}

// sameColumnSet compares column lists structurally (as sets), not as raw
// DDL text (spec.md §4.9 step 3).
func sameColumnSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := make([]string, len(a))
	sb := make([]string, len(b))
	copy(sa, a)
	copy(sb, b)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
