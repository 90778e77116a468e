package solver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cepro/microplan/linprog"
)

// Local drives a solver binary installed on this machine over MPS files: the
// model is written to a temp file, the binary is run with a solution-file
// argument and the solution file is parsed back. This is the backend that
// handles true mixed-integer programs.
type Local struct {
	backend string
	path    string
}

// LocalOptions configure the local backend.
type LocalOptions struct {
	// Backend selects the binary dialect: "highs" or "cbc".
	Backend string `mapstructure:"backend"`

	// Path overrides the binary location. Empty means look up Backend on PATH.
	Path string `mapstructure:"path"`
}

// NewLocal returns a backend for the given binary dialect. The binary itself
// is looked up at solve time, so a solver installed after startup still works.
func NewLocal(opts LocalOptions) (*Local, error) {
	switch opts.Backend {
	case "highs", "cbc":
	case "":
		opts.Backend = "highs"
	default:
		return nil, fmt.Errorf("unsupported local solver backend %q", opts.Backend)
	}
	return &Local{backend: opts.Backend, path: opts.Path}, nil
}

func (l *Local) Name() string { return "local/" + l.backend }

func (l *Local) Solve(ctx context.Context, m *linprog.Model, opts Options) (*linprog.Solution, error) {
	bin := l.path
	if bin == "" {
		found, err := exec.LookPath(l.backend)
		if err != nil {
			return nil, &UnavailableError{Solver: l.Name(), Reason: fmt.Sprintf("binary %q not found on PATH", l.backend)}
		}
		bin = found
	}

	dir, err := os.MkdirTemp("", "microplan-solve-*")
	if err != nil {
		return nil, fmt.Errorf("creating solve workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	mpsPath := filepath.Join(dir, "model.mps")
	solPath := filepath.Join(dir, "model.sol")

	f, err := os.Create(mpsPath)
	if err != nil {
		return nil, fmt.Errorf("creating model file: %w", err)
	}
	if err := m.WriteMPS(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing model file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("writing model file: %w", err)
	}

	if opts.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TimeLimit)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, l.args(mpsPath, solPath, opts)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		cmd.Stdout = &logWriter{name: l.Name()}
	}

	runErr := cmd.Run()
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Solver: l.Name(), Elapsed: time.Since(start)}
		}
		return nil, ctx.Err()
	}
	if runErr != nil {
		// CBC exits nonzero on infeasibility too, so only fail here when no
		// solution file was produced.
		if _, statErr := os.Stat(solPath); statErr != nil {
			return nil, fmt.Errorf("%s failed: %w: %s", l.Name(), runErr, strings.TrimSpace(stderr.String()))
		}
	}

	sol, err := l.parse(solPath, m)
	if err != nil {
		return nil, err
	}
	sol.SolverName = l.Name()
	return sol, nil
}

// logWriter forwards each line the solver binary prints to the debug log, so
// verbose runs surface the solver's own progress output.
type logWriter struct {
	name string
	buf  bytes.Buffer
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			w.buf.WriteString(line)
			return len(p), nil
		}
		slog.Debug("Solver output", "solver", w.name, "line", strings.TrimRight(line, "\r\n"))
	}
}

func (l *Local) args(mpsPath, solPath string, opts Options) []string {
	switch l.backend {
	case "cbc":
		args := []string{mpsPath}
		if opts.TimeLimit > 0 {
			args = append(args, "sec", strconv.Itoa(int(opts.TimeLimit.Seconds())))
		}
		return append(args, "solve", "solution", solPath)
	default: // highs
		args := []string{"--solution_file", solPath}
		if opts.TimeLimit > 0 {
			args = append(args, "--time_limit", strconv.Itoa(int(opts.TimeLimit.Seconds())))
		}
		return append(args, mpsPath)
	}
}

func (l *Local) parse(solPath string, m *linprog.Model) (*linprog.Solution, error) {
	f, err := os.Open(solPath)
	if err != nil {
		return nil, fmt.Errorf("reading solution file: %w", err)
	}
	defer f.Close()

	switch l.backend {
	case "cbc":
		return l.parseCBC(f, m)
	default:
		return l.parseHiGHS(f, m)
	}
}

// statusFromText maps the status words the binaries print onto outcomes.
func (l *Local) statusFromText(text string) (linprog.Status, error) {
	switch {
	case strings.Contains(text, "Optimal") || strings.Contains(text, "optimal"):
		return linprog.StatusOptimal, nil
	case strings.Contains(text, "Infeasible") || strings.Contains(text, "infeasible"):
		return linprog.StatusInfeasible, &InfeasibleError{Solver: l.Name()}
	case strings.Contains(text, "Unbounded") || strings.Contains(text, "unbounded"):
		return linprog.StatusUnbounded, &UnboundedError{Solver: l.Name()}
	case strings.Contains(text, "Time") || strings.Contains(text, "time"):
		return linprog.StatusTimeLimit, &TimeoutError{Solver: l.Name()}
	default:
		return linprog.StatusUnknown, fmt.Errorf("%s reported unrecognized status %q", l.Name(), text)
	}
}

// parseHiGHS reads the solution file written by "highs --solution_file": a
// "Model status" header, an "Objective" line and a "# Columns" section of
// name/value pairs.
func (l *Local) parseHiGHS(f *os.File, m *linprog.Model) (*linprog.Solution, error) {
	sol := &linprog.Solution{ColValues: make([]float64, m.NumVars())}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var inColumns bool
	var wantStatus bool
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "Model status":
			wantStatus = true
		case wantStatus:
			wantStatus = false
			status, err := l.statusFromText(line)
			if err != nil {
				return nil, err
			}
			sol.Status = status
		case strings.HasPrefix(line, "Objective"):
			fields := strings.Fields(line)
			v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
			if err != nil {
				return nil, fmt.Errorf("parsing objective line %q: %w", line, err)
			}
			sol.Objective = v
		case strings.HasPrefix(line, "# Columns"):
			inColumns = true
		case strings.HasPrefix(line, "# Rows"):
			inColumns = false
		case inColumns:
			name, value, err := splitNameValue(line)
			if err != nil {
				return nil, err
			}
			if id, ok := m.VarByName(name); ok {
				sol.ColValues[id] = value
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading solution file: %w", err)
	}
	return sol, nil
}

// parseCBC reads the solution file written by "cbc ... solution": a first line
// like "Optimal - objective value 40186", then one "index name value cost"
// line per nonbasic column.
func (l *Local) parseCBC(f *os.File, m *linprog.Model) (*linprog.Solution, error) {
	sol := &linprog.Solution{ColValues: make([]float64, m.NumVars())}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			status, err := l.statusFromText(line)
			if err != nil {
				return nil, err
			}
			sol.Status = status
			if i := strings.LastIndex(line, "value"); i >= 0 {
				fields := strings.Fields(line[i:])
				if len(fields) >= 2 {
					if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
						sol.Objective = v
					}
				}
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("parsing solution line %q: %w", line, err)
		}
		if id, ok := m.VarByName(fields[1]); ok {
			sol.ColValues[id] = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading solution file: %w", err)
	}
	if first {
		return nil, errors.New("solution file is empty")
	}
	return sol, nil
}

func splitNameValue(line string) (string, float64, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("malformed solution line %q", line)
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return "", 0, fmt.Errorf("parsing solution line %q: %w", line, err)
	}
	return fields[0], v, nil
}
