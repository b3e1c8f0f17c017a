package vm

import (
	"fmt"

	"github.com/jsvmp-lang/jsvmp/internal/config"
	"github.com/jsvmp-lang/jsvmp/internal/lexer"
	"github.com/jsvmp-lang/jsvmp/internal/token"
)

// Compiler is the single-pass lexer-consuming, recursive-descent,
// backpatching emitter spec.md §4.2 describes. Variable resolution is
// purely dynamic (every read/write goes through the runtime Environment
// by name), so — unlike the teacher's internal/vm.Compiler, which tracks
// local slots and upvalues for its lexically-scoped stack VM — this
// Compiler carries no scope state at all: compiling a nested function is
// exactly the same recursive call as compiling a top-level statement.
type Compiler struct {
	toks []token.Token
	pos  int
	c    *Chunk
}

// Compile tokenizes source and compiles it into a Chunk, or returns the
// first lexical or syntax error encountered.
func Compile(source string) (*Chunk, error) {
	toks, err := lexer.Tokenize(source)
	if err != nil {
		return nil, err
	}
	cp := &Compiler{toks: toks, c: NewChunk()}
	if err := cp.program(); err != nil {
		return nil, err
	}
	if cp.c.Len() > config.MaxProgramLength {
		return nil, errProgramTooLong
	}
	return cp.c, nil
}

func (cp *Compiler) cur() token.Token  { return cp.toks[cp.pos] }
func (cp *Compiler) advance() token.Token {
	t := cp.toks[cp.pos]
	if t.Type != token.EOF {
		cp.pos++
	}
	return t
}

func (cp *Compiler) check(t token.Type) bool { return cp.cur().Type == t }

func (cp *Compiler) expect(t token.Type) (token.Token, error) {
	if cp.cur().Type != t {
		return token.Token{}, fmt.Errorf("Expect %s, got %s", t, cp.cur().Type)
	}
	return cp.advance(), nil
}

// --- emission helpers ---

func (cp *Compiler) emitByte(b byte) { cp.c.Code = append(cp.c.Code, b) }

func (cp *Compiler) emitOp(op Opcode) { cp.emitByte(byte(op)) }

func (cp *Compiler) emitOpImm(op Opcode, imm byte) {
	cp.emitByte(byte(op))
	cp.emitByte(imm)
}

// emitJump writes op followed by a placeholder immediate and returns the
// offset of that placeholder for patchJump to fill in later.
func (cp *Compiler) emitJump(op Opcode) int {
	cp.emitByte(byte(op))
	cp.emitByte(0)
	return len(cp.c.Code) - 1
}

// patchJump sets the placeholder byte at offset to the current code
// length, failing if that target exceeds the 1-byte address space.
func (cp *Compiler) patchJump(offset int) error {
	target := len(cp.c.Code)
	if target > config.MaxProgramLength {
		return errProgramTooLong
	}
	cp.c.Code[offset] = byte(target)
	return nil
}

func (cp *Compiler) constIdx(v Value) (byte, error) {
	idx, err := cp.c.AddConst(v)
	if err != nil {
		return 0, err
	}
	return byte(idx), nil
}

// --- grammar ---

func (cp *Compiler) program() error {
	for !cp.check(token.EOF) {
		if err := cp.statement(); err != nil {
			return err
		}
	}
	return nil
}

func (cp *Compiler) statement() error {
	switch cp.cur().Type {
	case token.LET:
		return cp.letStatement()
	case token.PRINT:
		return cp.printStatement()
	case token.FUNCTION:
		return cp.functionStatement()
	case token.RETURN:
		return cp.returnStatement()
	case token.IF:
		return cp.ifStatement()
	case token.WHILE:
		return cp.whileStatement()
	case token.LBRACE:
		return cp.block()
	case token.IDENT:
		if cp.peekNext().Type == token.ASSIGN {
			return cp.assignStatement()
		}
		return cp.expressionStatement()
	default:
		return cp.expressionStatement()
	}
}

// peekNext returns the token after the current one, or the current token
// itself if already at EOF (EOF repeats).
func (cp *Compiler) peekNext() token.Token {
	if cp.pos+1 < len(cp.toks) {
		return cp.toks[cp.pos+1]
	}
	return cp.cur()
}

// assignStatement compiles `name = Expr;`, reassigning an existing binding
// wherever it lives in the environment chain (see Environment.Assign) —
// distinct from `let`, which always binds in the current node.
func (cp *Compiler) assignStatement() error {
	name := cp.advance()
	if _, err := cp.expect(token.ASSIGN); err != nil {
		return err
	}
	if err := cp.expr(); err != nil {
		return err
	}
	if _, err := cp.expect(token.SEMI); err != nil {
		return err
	}
	idx, err := cp.constIdx(Str(name.Lexeme))
	if err != nil {
		return err
	}
	cp.emitOpImm(OpAssignVar, idx)
	return nil
}

func (cp *Compiler) letStatement() error {
	cp.advance() // 'let'
	name, err := cp.expect(token.IDENT)
	if err != nil {
		return err
	}
	if _, err := cp.expect(token.ASSIGN); err != nil {
		return err
	}
	if err := cp.expr(); err != nil {
		return err
	}
	if _, err := cp.expect(token.SEMI); err != nil {
		return err
	}
	idx, err := cp.constIdx(Str(name.Lexeme))
	if err != nil {
		return err
	}
	cp.emitOpImm(OpStoreVar, idx)
	return nil
}

func (cp *Compiler) printStatement() error {
	cp.advance() // 'print'
	if _, err := cp.expect(token.LPAREN); err != nil {
		return err
	}
	if err := cp.expr(); err != nil {
		return err
	}
	if _, err := cp.expect(token.RPAREN); err != nil {
		return err
	}
	if _, err := cp.expect(token.SEMI); err != nil {
		return err
	}
	cp.emitOp(OpPrint)
	return nil
}

func (cp *Compiler) returnStatement() error {
	cp.advance() // 'return'
	if cp.check(token.SEMI) {
		idx, err := cp.constIdx(Undefined)
		if err != nil {
			return err
		}
		cp.emitOpImm(OpPushConst, idx)
	} else if err := cp.expr(); err != nil {
		return err
	}
	if _, err := cp.expect(token.SEMI); err != nil {
		return err
	}
	cp.emitOp(OpRet)
	return nil
}

func (cp *Compiler) expressionStatement() error {
	if err := cp.expr(); err != nil {
		return err
	}
	if _, err := cp.expect(token.SEMI); err != nil {
		return err
	}
	cp.emitOp(OpPop)
	return nil
}

func (cp *Compiler) block() error {
	if _, err := cp.expect(token.LBRACE); err != nil {
		return err
	}
	for !cp.check(token.RBRACE) && !cp.check(token.EOF) {
		if err := cp.statement(); err != nil {
			return err
		}
	}
	_, err := cp.expect(token.RBRACE)
	return err
}

func (cp *Compiler) ifStatement() error {
	cp.advance() // 'if'
	if _, err := cp.expect(token.LPAREN); err != nil {
		return err
	}
	if err := cp.expr(); err != nil {
		return err
	}
	if _, err := cp.expect(token.RPAREN); err != nil {
		return err
	}
	elseJump := cp.emitJump(OpJmpIfFalse)
	if err := cp.statement(); err != nil {
		return err
	}
	if cp.check(token.ELSE) {
		cp.advance()
		endJump := cp.emitJump(OpJmp)
		if err := cp.patchJump(elseJump); err != nil {
			return err
		}
		if err := cp.statement(); err != nil {
			return err
		}
		return cp.patchJump(endJump)
	}
	return cp.patchJump(elseJump)
}

func (cp *Compiler) whileStatement() error {
	cp.advance() // 'while'
	loopStart := cp.c.Len()
	if _, err := cp.expect(token.LPAREN); err != nil {
		return err
	}
	if err := cp.expr(); err != nil {
		return err
	}
	if _, err := cp.expect(token.RPAREN); err != nil {
		return err
	}
	exitJump := cp.emitJump(OpJmpIfFalse)
	if err := cp.statement(); err != nil {
		return err
	}
	if loopStart > config.MaxProgramLength {
		return errProgramTooLong
	}
	cp.emitOpImm(OpJmp, byte(loopStart))
	return cp.patchJump(exitJump)
}

func (cp *Compiler) functionStatement() error {
	cp.advance() // 'function'
	name, err := cp.expect(token.IDENT)
	if err != nil {
		return err
	}
	if _, err := cp.expect(token.LPAREN); err != nil {
		return err
	}
	var params []token.Token
	if !cp.check(token.RPAREN) {
		p, err := cp.expect(token.IDENT)
		if err != nil {
			return err
		}
		params = append(params, p)
		for cp.check(token.COMMA) {
			cp.advance()
			p, err := cp.expect(token.IDENT)
			if err != nil {
				return err
			}
			params = append(params, p)
		}
	}
	if _, err := cp.expect(token.RPAREN); err != nil {
		return err
	}

	paramIdx := make([]int, len(params))
	for i, p := range params {
		idx, err := cp.constIdx(Str(p.Lexeme))
		if err != nil {
			return err
		}
		paramIdx[i] = int(idx)
	}

	fidx, err := cp.c.AddFunc(FuncDescriptor{Arity: len(params), ParamNameIdx: paramIdx})
	if err != nil {
		return err
	}
	if fidx > config.MaxProgramLength {
		return errFuncTableFull
	}
	cp.emitOpImm(OpMakeClos, byte(fidx))

	nameIdx, err := cp.constIdx(Str(name.Lexeme))
	if err != nil {
		return err
	}
	cp.emitOpImm(OpStoreVar, nameIdx)

	skipJump := cp.emitJump(OpJmp)
	if cp.c.Len() > config.MaxProgramLength {
		return errProgramTooLong
	}
	cp.c.Funcs[fidx].Entry = cp.c.Len()

	if err := cp.block(); err != nil {
		return err
	}
	undefIdx, err := cp.constIdx(Undefined)
	if err != nil {
		return err
	}
	cp.emitOpImm(OpPushConst, undefIdx)
	cp.emitOp(OpRet)

	return cp.patchJump(skipJump)
}

// expr is the equality/relational level: Comparison (('=='|'!='|'<'|'>'|'<='|'>=') Comparison)*
func (cp *Compiler) expr() error {
	if err := cp.comparison(); err != nil {
		return err
	}
	for {
		var op Opcode
		switch cp.cur().Type {
		case token.EQ:
			op = OpEq
		case token.NOT_EQ:
			op = OpNe
		case token.LT:
			op = OpLt
		case token.GT:
			op = OpGt
		case token.LTE:
			op = OpLe
		case token.GTE:
			op = OpGe
		default:
			return nil
		}
		cp.advance()
		if err := cp.comparison(); err != nil {
			return err
		}
		cp.emitOp(op)
	}
}

// comparison is the additive level: Term (('+'|'-') Term)*
func (cp *Compiler) comparison() error {
	if err := cp.term(); err != nil {
		return err
	}
	for {
		var op Opcode
		switch cp.cur().Type {
		case token.PLUS:
			op = OpAdd
		case token.MINUS:
			op = OpSub
		default:
			return nil
		}
		cp.advance()
		if err := cp.term(); err != nil {
			return err
		}
		cp.emitOp(op)
	}
}

// term is the multiplicative level: Factor (('*'|'/') Factor)*
func (cp *Compiler) term() error {
	if err := cp.factor(); err != nil {
		return err
	}
	for {
		var op Opcode
		switch cp.cur().Type {
		case token.STAR:
			op = OpMul
		case token.SLASH:
			op = OpDiv
		default:
			return nil
		}
		cp.advance()
		if err := cp.factor(); err != nil {
			return err
		}
		cp.emitOp(op)
	}
}

// factor is the atom level: num | str | '(' Expr ')' | id | id '(' Args? ')',
// plus the unary-minus supplement from SPEC_FULL.md.
func (cp *Compiler) factor() error {
	switch cp.cur().Type {
	case token.MINUS:
		cp.advance()
		zeroIdx, err := cp.constIdx(Num(0))
		if err != nil {
			return err
		}
		cp.emitOpImm(OpPushConst, zeroIdx)
		if err := cp.factor(); err != nil {
			return err
		}
		cp.emitOp(OpSub)
		return nil

	case token.NUMBER:
		t := cp.advance()
		idx, err := cp.constIdx(Num(t.Number))
		if err != nil {
			return err
		}
		cp.emitOpImm(OpPushConst, idx)
		return nil

	case token.STRING:
		t := cp.advance()
		idx, err := cp.constIdx(Str(t.Str))
		if err != nil {
			return err
		}
		cp.emitOpImm(OpPushConst, idx)
		return nil

	case token.LPAREN:
		cp.advance()
		if err := cp.expr(); err != nil {
			return err
		}
		_, err := cp.expect(token.RPAREN)
		return err

	case token.IDENT:
		t := cp.advance()
		if cp.check(token.LPAREN) {
			return cp.call(t)
		}
		idx, err := cp.constIdx(Str(t.Lexeme))
		if err != nil {
			return err
		}
		cp.emitOpImm(OpLoadVar, idx)
		return nil

	default:
		return fmt.Errorf("Unexpected token in Factor: %s", cp.cur().Type)
	}
}

func (cp *Compiler) call(callee token.Token) error {
	idx, err := cp.constIdx(Str(callee.Lexeme))
	if err != nil {
		return err
	}
	cp.emitOpImm(OpLoadVar, idx)

	cp.advance() // '('
	argc := 0
	if !cp.check(token.RPAREN) {
		if err := cp.expr(); err != nil {
			return err
		}
		argc++
		for cp.check(token.COMMA) {
			cp.advance()
			if err := cp.expr(); err != nil {
				return err
			}
			argc++
		}
	}
	if _, err := cp.expect(token.RPAREN); err != nil {
		return err
	}
	if argc > 255 {
		return fmt.Errorf("too many arguments in call")
	}
	cp.emitOpImm(OpCall, byte(argc))
	return nil
}
