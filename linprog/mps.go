package linprog

import (
	"bufio"
	"fmt"
	"io"
	"math"
)

// WriteMPS writes the model in free MPS format, the interchange format spoken
// by HiGHS, CBC, GLPK and CPLEX alike. Columns are emitted in variable order
// and rows in constraint order so repeated writes of the same model are
// byte-identical.
func (m *Model) WriteMPS(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "NAME %s\n", sanitize(m.name))

	// Rows: the objective plus every constraint.
	fmt.Fprintln(bw, "ROWS")
	fmt.Fprintln(bw, " N OBJ")
	for i, c := range m.cons {
		fmt.Fprintf(bw, " %s %s\n", senseCode(c.Sense), rowName(i, c))
	}

	// Column-major coefficient lists.
	type entry struct {
		row  string
		coef float64
	}
	cols := make([][]entry, len(m.vars))
	for _, t := range m.obj {
		cols[t.Var] = append(cols[t.Var], entry{"OBJ", t.Coef})
	}
	for i, c := range m.cons {
		name := rowName(i, c)
		for _, t := range c.Terms {
			cols[t.Var] = append(cols[t.Var], entry{name, t.Coef})
		}
	}

	fmt.Fprintln(bw, "COLUMNS")
	inInteger := false
	marker := 0
	for _, v := range m.vars {
		if (v.Type == Binary) != inInteger {
			state := "'INTORG'"
			if inInteger {
				state = "'INTEND'"
			}
			fmt.Fprintf(bw, "    MARKER%d 'MARKER' %s\n", marker, state)
			marker++
			inInteger = !inInteger
		}
		for _, e := range cols[v.ID] {
			fmt.Fprintf(bw, "    %s %s %.12g\n", sanitize(v.Name), e.row, e.coef)
		}
	}
	if inInteger {
		fmt.Fprintf(bw, "    MARKER%d 'MARKER' 'INTEND'\n", marker)
	}

	fmt.Fprintln(bw, "RHS")
	for i, c := range m.cons {
		if c.RHS != 0 {
			fmt.Fprintf(bw, "    RHS %s %.12g\n", rowName(i, c), c.RHS)
		}
	}

	fmt.Fprintln(bw, "BOUNDS")
	for _, v := range m.vars {
		name := sanitize(v.Name)
		if v.Type == Binary {
			fmt.Fprintf(bw, " BV BND %s\n", name)
			continue
		}
		loInf := math.IsInf(v.Lo, -1)
		hiInf := math.IsInf(v.Hi, 1)
		switch {
		case loInf && hiInf:
			fmt.Fprintf(bw, " FR BND %s\n", name)
		case loInf:
			fmt.Fprintf(bw, " MI BND %s\n", name)
			fmt.Fprintf(bw, " UP BND %s %.12g\n", name, v.Hi)
		default:
			if v.Lo != 0 {
				fmt.Fprintf(bw, " LO BND %s %.12g\n", name, v.Lo)
			}
			if !hiInf {
				fmt.Fprintf(bw, " UP BND %s %.12g\n", name, v.Hi)
			}
		}
	}

	fmt.Fprintln(bw, "ENDATA")
	return bw.Flush()
}

func senseCode(s Sense) string {
	switch s {
	case LessEq:
		return "L"
	case GreaterEq:
		return "G"
	default:
		return "E"
	}
}

func rowName(i int, c Constraint) string {
	if c.Name != "" {
		return sanitize(c.Name)
	}
	return fmt.Sprintf("R%d", i)
}

// sanitize maps arbitrary names onto the character set accepted by every MPS
// reader: spaces and separators become underscores.
func sanitize(name string) string {
	if name == "" {
		return "UNNAMED"
	}
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '_', ch == '.':
			out[i] = ch
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
