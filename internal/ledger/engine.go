package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// ErrNotReady is returned by queries when the ledger is disabled or has no program.
var ErrNotReady = errors.New("ledger not ready")

// Fact is one ground atom together with the time it was recorded.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds query variables to values.
type QueryResult map[string]interface{}

// lowValuePredicates may be sampled when the buffer fills up. Outcomes and
// results are never dropped.
var lowValuePredicates = map[string]bool{
	"status_line": true,
	"artifact":    true,
}

// Engine wraps a Mangle program and fact store with a bounded, indexed
// buffer of the facts that were added.
type Engine struct {
	enabled     bool
	bufferLimit int

	mu          sync.RWMutex
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore

	facts []Fact
	index map[string][]int

	samplingRate float64
}

// NewEngine returns an engine evaluating the program in source. A disabled
// engine accepts facts and drops them.
func NewEngine(enabled bool, bufferLimit int, source string) (*Engine, error) {
	e := &Engine{
		enabled:      enabled,
		bufferLimit:  bufferLimit,
		store:        factstore.NewSimpleInMemoryStore(),
		facts:        make([]Fact, 0, bufferLimit),
		index:        make(map[string][]int),
		samplingRate: 1.0,
	}
	if enabled && source != "" {
		if err := e.LoadProgram(source); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// LoadProgram parses and analyzes source and makes it the active program.
func (e *Engine) LoadProgram(source string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(source)))
	if err != nil {
		return fmt.Errorf("parse program: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze program: %w", err)
	}

	e.mu.Lock()
	e.programInfo = info
	e.mu.Unlock()
	return nil
}

// AddRule analyzes extra rules against the loaded declarations and merges them in.
func (e *Engine) AddRule(source string) error {
	if !e.enabled {
		return nil
	}
	unit, err := parse.Unit(bytes.NewReader([]byte(source)))
	if err != nil {
		return fmt.Errorf("parse rule: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing := make(map[ast.PredicateSym]ast.Decl)
	if e.programInfo != nil {
		for k, v := range e.programInfo.Decls {
			if v != nil {
				existing[k] = *v
			}
		}
	}
	info, err := analysis.AnalyzeOneUnit(unit, existing)
	if err != nil {
		return fmt.Errorf("analyze rule: %w", err)
	}

	if e.programInfo == nil {
		e.programInfo = info
		return nil
	}
	for k, v := range info.Decls {
		e.programInfo.Decls[k] = v
	}
	e.programInfo.Rules = append(e.programInfo.Rules, info.Rules...)
	return nil
}

// AddFacts buffers facts, adds them to the store and re-evaluates the program.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.enabled {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.updateSamplingRate()
	accepted := make([]Fact, 0, len(facts))
	for _, f := range facts {
		if e.accept(f) {
			accepted = append(accepted, f)
		}
	}

	base := len(e.facts)
	e.facts = append(e.facts, accepted...)
	if e.bufferLimit > 0 && len(e.facts) > e.bufferLimit {
		e.facts = e.facts[len(e.facts)-e.bufferLimit:]
		e.rebuildIndex()
	} else {
		for i, f := range accepted {
			e.index[f.Predicate] = append(e.index[f.Predicate], base+i)
		}
	}

	for _, f := range accepted {
		e.store.Add(factToAtom(f))
	}

	if e.programInfo == nil {
		return nil
	}
	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		return fmt.Errorf("eval program after fact insertion: %w", err)
	}
	return nil
}

// updateSamplingRate lowers the acceptance rate of low-value facts as the
// buffer fills.
func (e *Engine) updateSamplingRate() {
	if e.bufferLimit <= 0 {
		e.samplingRate = 1.0
		return
	}
	fill := float64(len(e.facts)) / float64(e.bufferLimit)
	switch {
	case fill < 0.5:
		e.samplingRate = 1.0
	case fill < 0.7:
		e.samplingRate = 0.8
	case fill < 0.85:
		e.samplingRate = 0.5
	case fill < 0.95:
		e.samplingRate = 0.2
	default:
		e.samplingRate = 0.1
	}
}

func (e *Engine) accept(f Fact) bool {
	if !lowValuePredicates[f.Predicate] || e.samplingRate >= 1.0 {
		return true
	}
	return rand.Float64() < e.samplingRate
}

// SamplingRate returns the current low-value acceptance rate.
func (e *Engine) SamplingRate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.samplingRate
}

// Query runs a single-atom query such as `failed_step(R, S, "ElementNotFound").`
// against the store, falling back to the buffer for base facts.
func (e *Engine) Query(ctx context.Context, query string) ([]QueryResult, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}
	unit, err := parse.Unit(bytes.NewReader([]byte(query)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(unit.Clauses) == 0 {
		return nil, errors.New("no query found")
	}
	atom := unit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	if arity := e.arity(atom.Predicate.Symbol); arity >= 0 {
		atom.Predicate.Arity = arity
	}

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(atom, func(found ast.Atom) error {
		if !matches(atom.Args, found.Args) {
			return nil
		}
		res := make(QueryResult)
		for i, arg := range atom.Args {
			if v, ok := arg.(ast.Variable); ok && i < len(found.Args) && v.Symbol != "_" {
				res[v.Symbol] = convertConstant(found.Args[i])
			}
		}
		results = append(results, res)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	if len(results) == 0 {
		results = e.queryBuffer(atom.Predicate.Symbol, atom.Args)
	}
	return results, nil
}

func matches(pattern, args []ast.BaseTerm) bool {
	for i, p := range pattern {
		c, ok := p.(ast.Constant)
		if !ok {
			continue
		}
		if i >= len(args) || !c.Equals(args[i]) {
			return false
		}
	}
	return true
}

func (e *Engine) queryBuffer(predicate string, pattern []ast.BaseTerm) []QueryResult {
	results := make([]QueryResult, 0)
	for _, idx := range e.index[predicate] {
		f := e.facts[idx]
		if len(f.Args) < len(pattern) {
			continue
		}
		res := make(QueryResult)
		ok := true
		for i, p := range pattern {
			switch term := p.(type) {
			case ast.Variable:
				if term.Symbol != "_" {
					res[term.Symbol] = f.Args[i]
				}
			case ast.Constant:
				if fmt.Sprint(f.Args[i]) != fmt.Sprint(convertConstant(term)) {
					ok = false
				}
			}
		}
		if ok {
			results = append(results, res)
		}
	}
	return results
}

// Evaluate runs the program and returns every fact of predicate, derived or base.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		return nil, fmt.Errorf("eval program: %w", err)
	}

	arity := e.arity(predicate)
	if arity < 0 {
		return nil, fmt.Errorf("unknown predicate %q", predicate)
	}
	args := make([]ast.BaseTerm, arity)
	for i := range args {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
	}
	query := ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}, Args: args}

	facts := make([]Fact, 0)
	now := time.Now()
	err := e.store.GetFacts(query, func(atom ast.Atom) error {
		facts = append(facts, atomToFact(atom, now))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return facts, nil
}

// arity looks predicate up in the program declarations; callers hold mu.
func (e *Engine) arity(predicate string) int {
	if e.programInfo == nil {
		return -1
	}
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			return sym.Arity
		}
	}
	return -1
}

// FactsByPredicate returns buffered facts of predicate in insertion order.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Fact, 0, len(e.index[predicate]))
	for _, idx := range e.index[predicate] {
		out = append(out, e.facts[idx])
	}
	return out
}

// QueryTemporal returns buffered facts of predicate recorded strictly between
// after and before. Zero times leave that side open.
func (e *Engine) QueryTemporal(predicate string, after, before time.Time) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Fact, 0)
	for _, idx := range e.index[predicate] {
		f := e.facts[idx]
		if (after.IsZero() || f.Timestamp.After(after)) && (before.IsZero() || f.Timestamp.Before(before)) {
			out = append(out, f)
		}
	}
	return out
}

// Facts returns a copy of the buffer.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Fact(nil), e.facts...)
}

// Ready reports whether queries can run.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled && e.programInfo != nil
}

func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)}, Args: args}
}

func atomToFact(atom ast.Atom, ts time.Time) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = convertConstant(arg)
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args, Timestamp: ts}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprint(v))
	}
}

func convertConstant(t ast.BaseTerm) interface{} {
	switch term := t.(type) {
	case ast.Constant:
		switch term.Type {
		case ast.StringType:
			if s, err := term.StringValue(); err == nil {
				return s
			}
		case ast.NumberType:
			if n, err := term.NumberValue(); err == nil {
				return n
			}
		case ast.Float64Type:
			if f, err := term.Float64Value(); err == nil {
				return f
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprint(t)
	}
}
