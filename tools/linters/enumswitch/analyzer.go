// Package enumswitch reports switches over string enum types that miss a
// declared constant without a default clause, and string literals assigned
// to enum-typed struct fields.
//
// A type counts as an enum when it is a named string type with at least two
// constants of that type declared in its own package.
package enumswitch

import (
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

var Analyzer = &analysis.Analyzer{
	Name:     "enumswitch",
	Doc:      "check that switches over string enums are exhaustive and enum fields are not assigned raw literals",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (any, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	filter := []ast.Node{
		(*ast.SwitchStmt)(nil),
		(*ast.AssignStmt)(nil),
		(*ast.CompositeLit)(nil),
	}
	insp.Preorder(filter, func(n ast.Node) {
		switch n := n.(type) {
		case *ast.SwitchStmt:
			checkSwitch(pass, n)
		case *ast.AssignStmt:
			checkAssign(pass, n)
		case *ast.CompositeLit:
			checkCompositeLit(pass, n)
		}
	})
	return nil, nil
}

func checkSwitch(pass *analysis.Pass, sw *ast.SwitchStmt) {
	if sw.Tag == nil {
		return
	}
	named, members := enumOf(pass.TypesInfo.TypeOf(sw.Tag))
	if named == nil {
		return
	}

	covered := make(map[string]bool)
	for _, stmt := range sw.Body.List {
		clause, ok := stmt.(*ast.CaseClause)
		if !ok {
			continue
		}
		if clause.List == nil {
			return // default
		}
		for _, expr := range clause.List {
			if tv, ok := pass.TypesInfo.Types[expr]; ok && tv.Value != nil && tv.Value.Kind() == constant.String {
				covered[constant.StringVal(tv.Value)] = true
			}
		}
	}

	var missing []string
	for _, c := range members {
		v := constant.StringVal(c.Val())
		if covered[v] {
			continue
		}
		covered[v] = true
		missing = append(missing, c.Name())
	}
	if len(missing) > 0 {
		pass.Reportf(sw.Pos(), "switch on %s is missing cases: %s", named.Obj().Name(), strings.Join(missing, ", "))
	}
}

func checkAssign(pass *analysis.Pass, as *ast.AssignStmt) {
	if len(as.Lhs) != len(as.Rhs) {
		return
	}
	for i, lhs := range as.Lhs {
		sel, ok := lhs.(*ast.SelectorExpr)
		if !ok {
			continue
		}
		reportLiteral(pass, sel.Sel.Name, pass.TypesInfo.TypeOf(sel), as.Rhs[i])
	}
}

func checkCompositeLit(pass *analysis.Pass, lit *ast.CompositeLit) {
	typ := pass.TypesInfo.TypeOf(lit)
	if typ == nil {
		return
	}
	if ptr, ok := typ.Underlying().(*types.Pointer); ok {
		typ = ptr.Elem()
	}
	st, ok := typ.Underlying().(*types.Struct)
	if !ok {
		return
	}
	for _, elt := range lit.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			continue
		}
		key, ok := kv.Key.(*ast.Ident)
		if !ok {
			continue
		}
		for i := range st.NumFields() {
			if f := st.Field(i); f.Name() == key.Name {
				reportLiteral(pass, key.Name, f.Type(), kv.Value)
				break
			}
		}
	}
}

func reportLiteral(pass *analysis.Pass, field string, typ types.Type, value ast.Expr) {
	lit, ok := ast.Unparen(value).(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return
	}
	named, _ := enumOf(typ)
	if named == nil {
		return
	}
	pass.Reportf(lit.Pos(), "enum field %s assigned string literal %s, use a %s constant", field, lit.Value, named.Obj().Name())
}

// enumOf returns the named type and its constants in declaration scope
// order, or nil when t is not a string enum.
func enumOf(t types.Type) (*types.Named, []*types.Const) {
	if t == nil {
		return nil, nil
	}
	named, ok := types.Unalias(t).(*types.Named)
	if !ok {
		return nil, nil
	}
	basic, ok := named.Underlying().(*types.Basic)
	if !ok || basic.Info()&types.IsString == 0 {
		return nil, nil
	}
	pkg := named.Obj().Pkg()
	if pkg == nil {
		return nil, nil
	}

	var members []*types.Const
	scope := pkg.Scope()
	for _, name := range scope.Names() {
		c, ok := scope.Lookup(name).(*types.Const)
		if ok && types.Identical(c.Type(), named) {
			members = append(members, c)
		}
	}
	if len(members) < 2 {
		return nil, nil
	}
	return named, members
}
