package validator

import (
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"

	"github.com/dkoval/scriptbox/config"
)

// ReservedPrefix marks names that belong to the sandbox machinery. Scripts
// may not reference such a name anywhere, reads included: escape attempts
// typically read restricted names rather than assign them.
const ReservedPrefix = "__"

// Violation describes a single rule the submitted code breaks.
type Violation struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

func (v Violation) String() string {
	if v.Line > 0 {
		return fmt.Sprintf("%d:%d: %s", v.Line, v.Column, v.Message)
	}
	return v.Message
}

// Result is the outcome of validating one submission. It is created once per
// request and discarded after the gate.
type Result struct {
	Valid  bool        `json:"valid"`
	Errors []Violation `json:"errors,omitempty"`
}

// Validator statically checks submitted scripts against the sandbox rules.
type Validator struct {
	maxCodeBytes   int
	maxASTNodes    int
	allowedImports map[string]bool
}

// New creates a Validator from the sandbox configuration.
func New(cfg *config.SandboxConfig) *Validator {
	allowed := make(map[string]bool, len(cfg.AllowedImports))
	for _, name := range cfg.AllowedImports {
		allowed[name] = true
	}
	return &Validator{
		maxCodeBytes:   cfg.MaxCodeBytes,
		maxASTNodes:    cfg.MaxASTNodes,
		allowedImports: allowed,
	}
}

// Validate checks one script and returns every violation found.
func (v *Validator) Validate(code string) Result {
	// Size gate first: parsing an oversized submission would already be
	// spending the cost the limit exists to avoid.
	if len(code) > v.maxCodeBytes {
		return invalid(Violation{
			Message: fmt.Sprintf("script is %d bytes, limit is %d", len(code), v.maxCodeBytes),
		})
	}

	program, err := parser.ParseFile(nil, "script.js", code, 0)
	if err != nil {
		return invalid(Violation{Message: fmt.Sprintf("syntax error: %v", err)})
	}

	scan := &scanner{validator: v, program: program}
	for _, st := range program.Body {
		scan.statement(st)
	}

	if scan.nodeCount > v.maxASTNodes {
		scan.violations = append(scan.violations, Violation{
			Message: fmt.Sprintf("parse tree has %d nodes, limit is %d", scan.nodeCount, v.maxASTNodes),
		})
	}

	if len(scan.violations) > 0 {
		return Result{Valid: false, Errors: scan.violations}
	}
	return Result{Valid: true}
}

func invalid(violations ...Violation) Result {
	return Result{Valid: false, Errors: violations}
}

const importFunc = "require"

// scanner walks the parse tree collecting violations. goja's ast package
// ships plain node structs without a generic traversal, so the walk is an
// explicit recursion over every concrete node type: each node counted, all
// reserved-prefix access paths checked (identifiers, dot properties,
// string-keyed bracket access) plus the require() rules.
type scanner struct {
	validator  *Validator
	program    *ast.Program
	nodeCount  int
	violations []Violation
}

func (s *scanner) statement(node ast.Statement) {
	if node == nil {
		return
	}
	s.nodeCount++

	switch n := node.(type) {
	case *ast.BlockStatement:
		for _, st := range n.List {
			s.statement(st)
		}
	case *ast.ExpressionStatement:
		s.expression(n.Expression)
	case *ast.VariableStatement:
		s.bindings(n.List)
	case *ast.LexicalDeclaration:
		s.bindings(n.List)
	case *ast.FunctionDeclaration:
		s.functionLiteral(n.Function)
	case *ast.ClassDeclaration:
		s.classLiteral(n.Class)
	case *ast.IfStatement:
		s.expression(n.Test)
		s.statement(n.Consequent)
		s.statement(n.Alternate)
	case *ast.ForStatement:
		s.forInitializer(n.Initializer)
		s.expression(n.Test)
		s.expression(n.Update)
		s.statement(n.Body)
	case *ast.ForInStatement:
		s.forInto(n.Into)
		s.expression(n.Source)
		s.statement(n.Body)
	case *ast.ForOfStatement:
		s.forInto(n.Into)
		s.expression(n.Source)
		s.statement(n.Body)
	case *ast.WhileStatement:
		s.expression(n.Test)
		s.statement(n.Body)
	case *ast.DoWhileStatement:
		s.statement(n.Body)
		s.expression(n.Test)
	case *ast.SwitchStatement:
		s.expression(n.Discriminant)
		for _, c := range n.Body {
			s.nodeCount++
			s.expression(c.Test)
			for _, st := range c.Consequent {
				s.statement(st)
			}
		}
	case *ast.ReturnStatement:
		s.expression(n.Argument)
	case *ast.ThrowStatement:
		s.expression(n.Argument)
	case *ast.TryStatement:
		s.statement(n.Body)
		if n.Catch != nil {
			s.nodeCount++
			s.expression(n.Catch.Parameter)
			s.statement(n.Catch.Body)
		}
		if n.Finally != nil {
			s.statement(n.Finally)
		}
	case *ast.LabelledStatement:
		s.checkReserved(n.Label.Name.String(), n.Label.Idx)
		s.statement(n.Statement)
	case *ast.BranchStatement:
		if n.Label != nil {
			s.checkReserved(n.Label.Name.String(), n.Label.Idx)
		}
	case *ast.WithStatement:
		s.expression(n.Object)
		s.statement(n.Body)
	}
	// EmptyStatement, DebuggerStatement, BadStatement: counted, no children.
}

func (s *scanner) expression(node ast.Expression) {
	if node == nil {
		return
	}
	s.nodeCount++

	switch n := node.(type) {
	case *ast.Identifier:
		s.checkIdentifier(n)
	case *ast.DotExpression:
		s.nodeCount++
		s.checkReserved(n.Identifier.Name.String(), n.Identifier.Idx)
		s.expression(n.Left)
	case *ast.PrivateDotExpression:
		s.nodeCount++
		s.expression(n.Left)
	case *ast.BracketExpression:
		if lit, ok := n.Member.(*ast.StringLiteral); ok {
			s.checkName(lit.Value.String(), lit.Idx, false)
		}
		s.expression(n.Left)
		s.expression(n.Member)
	case *ast.CallExpression:
		s.call(n)
	case *ast.NewExpression:
		s.expression(n.Callee)
		for _, arg := range n.ArgumentList {
			s.expression(arg)
		}
	case *ast.AssignExpression:
		s.expression(n.Left)
		s.expression(n.Right)
	case *ast.BinaryExpression:
		s.expression(n.Left)
		s.expression(n.Right)
	case *ast.UnaryExpression:
		s.expression(n.Operand)
	case *ast.ConditionalExpression:
		s.expression(n.Test)
		s.expression(n.Consequent)
		s.expression(n.Alternate)
	case *ast.SequenceExpression:
		for _, e := range n.Sequence {
			s.expression(e)
		}
	case *ast.ArrayLiteral:
		for _, e := range n.Value {
			s.expression(e)
		}
	case *ast.ObjectLiteral:
		for _, p := range n.Value {
			s.property(p)
		}
	case *ast.FunctionLiteral:
		s.functionLiteral(n)
	case *ast.ArrowFunctionLiteral:
		s.parameterList(n.ParameterList)
		s.conciseBody(n.Body)
	case *ast.ClassLiteral:
		s.classLiteral(n)
	case *ast.TemplateLiteral:
		s.expression(n.Tag)
		s.nodeCount += len(n.Elements)
		for _, e := range n.Expressions {
			s.expression(e)
		}
	case *ast.YieldExpression:
		s.expression(n.Argument)
	case *ast.AwaitExpression:
		s.expression(n.Argument)
	case *ast.OptionalChain:
		s.expression(n.Expression)
	case *ast.Optional:
		s.expression(n.Expression)
	case *ast.SpreadElement:
		s.expression(n.Expression)
	case *ast.ObjectPattern:
		for _, p := range n.Properties {
			s.property(p)
		}
		s.expression(n.Rest)
	case *ast.ArrayPattern:
		for _, e := range n.Elements {
			s.expression(e)
		}
		s.expression(n.Rest)
	case *ast.Binding:
		s.expression(n.Target)
		s.expression(n.Initializer)
	}
	// Literals, ThisExpression, SuperExpression, MetaProperty,
	// BadExpression: counted, no children worth visiting.
}

// call enforces the require() rules. A direct require call is the sanctioned
// form, so its callee is not reported as aliasing; any other appearance of
// the name goes through checkIdentifier and is rejected there.
func (s *scanner) call(call *ast.CallExpression) {
	if callee, ok := call.Callee.(*ast.Identifier); ok && callee.Name.String() == importFunc {
		s.nodeCount++
		s.checkImport(call)
		for _, arg := range call.ArgumentList {
			s.expression(arg)
		}
		return
	}
	s.expression(call.Callee)
	for _, arg := range call.ArgumentList {
		s.expression(arg)
	}
}

func (s *scanner) checkImport(call *ast.CallExpression) {
	if len(call.ArgumentList) != 1 {
		s.report(call.LeftParenthesis, "require takes exactly one argument")
		return
	}
	lit, ok := call.ArgumentList[0].(*ast.StringLiteral)
	if !ok {
		s.report(call.LeftParenthesis, "require argument must be a string literal, dynamic module names are not allowed")
		return
	}

	name := lit.Value.String()
	if !s.validator.allowedImports[name] {
		s.report(lit.Idx, fmt.Sprintf("import of %q not allowed", name))
	}
}

func (s *scanner) bindings(list []*ast.Binding) {
	for _, b := range list {
		s.nodeCount++
		s.expression(b.Target)
		s.expression(b.Initializer)
	}
}

func (s *scanner) functionLiteral(fn *ast.FunctionLiteral) {
	if fn == nil {
		return
	}
	s.nodeCount++
	if fn.Name != nil {
		s.checkIdentifier(fn.Name)
	}
	s.parameterList(fn.ParameterList)
	s.statement(fn.Body)
}

func (s *scanner) parameterList(params *ast.ParameterList) {
	if params == nil {
		return
	}
	s.bindings(params.List)
	s.expression(params.Rest)
}

func (s *scanner) conciseBody(body ast.ConciseBody) {
	switch b := body.(type) {
	case *ast.BlockStatement:
		s.statement(b)
	case *ast.ExpressionBody:
		s.expression(b.Expression)
	}
}

func (s *scanner) classLiteral(class *ast.ClassLiteral) {
	if class == nil {
		return
	}
	s.nodeCount++
	if class.Name != nil {
		s.checkIdentifier(class.Name)
	}
	s.expression(class.SuperClass)
	for _, el := range class.Body {
		s.nodeCount++
		switch e := el.(type) {
		case *ast.FieldDefinition:
			s.expression(e.Key)
			s.expression(e.Initializer)
		case *ast.MethodDefinition:
			s.expression(e.Key)
			s.functionLiteral(e.Body)
		case *ast.ClassStaticBlock:
			s.statement(e.Block)
		}
	}
}

func (s *scanner) property(prop ast.Property) {
	s.nodeCount++
	switch p := prop.(type) {
	case *ast.PropertyShort:
		s.checkIdentifier(&p.Name)
		s.expression(p.Initializer)
	case *ast.PropertyKeyed:
		s.expression(p.Key)
		s.expression(p.Value)
	case *ast.SpreadElement:
		s.expression(p.Expression)
	}
}

func (s *scanner) forInitializer(init ast.ForLoopInitializer) {
	if init == nil {
		return
	}
	s.nodeCount++
	switch i := init.(type) {
	case *ast.ForLoopInitializerExpression:
		s.expression(i.Expression)
	case *ast.ForLoopInitializerVarDeclList:
		s.bindings(i.List)
	case *ast.ForLoopInitializerLexicalDecl:
		s.bindings(i.LexicalDeclaration.List)
	}
}

func (s *scanner) forInto(into ast.ForInto) {
	if into == nil {
		return
	}
	s.nodeCount++
	switch i := into.(type) {
	case *ast.ForIntoVar:
		s.expression(i.Binding.Target)
		s.expression(i.Binding.Initializer)
	case *ast.ForDeclaration:
		s.expression(i.Target)
	case *ast.ForIntoExpression:
		s.expression(i.Expression)
	}
}

func (s *scanner) checkIdentifier(id *ast.Identifier) {
	s.checkName(id.Name.String(), id.Idx, false)
}

// checkName flags reserved-prefix names and unsanctioned uses of require.
// It covers bare identifiers and string-keyed bracket access; direct require
// calls never reach it for their callee.
func (s *scanner) checkName(name string, idx file.Idx, sanctionedRequire bool) {
	if hasReservedPrefix(name) {
		s.report(idx, fmt.Sprintf("reference to reserved name %q", name))
		return
	}
	if name == importFunc && !sanctionedRequire {
		s.report(idx, "require may only be called directly with a string literal, not aliased or referenced")
	}
}

func (s *scanner) checkReserved(name string, idx file.Idx) {
	if hasReservedPrefix(name) {
		s.report(idx, fmt.Sprintf("reference to reserved name %q", name))
	}
}

func (s *scanner) report(idx file.Idx, message string) {
	pos := s.program.File.Position(int(idx))
	s.violations = append(s.violations, Violation{
		Message: message,
		Line:    pos.Line,
		Column:  pos.Column,
	})
}

// hasReservedPrefix reports whether a name starts with the reserved prefix.
func hasReservedPrefix(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}
