package expr

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/pkg/errors"
)

// 语法按优先级从低到高分层：or, and, not, 比较, 加减, 乘除, 一元负号, 成员访问, 基本项

type Expression struct {
	Or *Or `@@`
}

type Or struct {
	Left  *And   `@@`
	Right []*And `( ( "or" | "||" ) @@ )*`
}

type And struct {
	Left  *Not   `@@`
	Right []*Not `( ( "and" | "&&" ) @@ )*`
}

type Not struct {
	Not     *Not     `  ( "not" | "!" ) @@`
	Compare *Compare `| @@`
}

type Compare struct {
	Left  *Add   `@@`
	Op    string `( @( "==" | "!=" | "<=" | ">=" | "<" | ">" | "in" )`
	Right *Add   `  @@ )?`
}

type Add struct {
	Left  *Mul     `@@`
	Right []*AddOp `@@*`
}

type AddOp struct {
	Op    string `@( "+" | "-" )`
	Right *Mul   `@@`
}

type Mul struct {
	Left  *Unary   `@@`
	Right []*MulOp `@@*`
}

type MulOp struct {
	Op    string `@( "*" | "/" | "%" )`
	Right *Unary `@@`
}

type Unary struct {
	Neg     *Unary   `  "-" @@`
	Postfix *Postfix `| @@`
}

type Postfix struct {
	Primary *Primary `@@`
	Members []string `( "." @Ident )*`
}

type Primary struct {
	Number *string       `  @Number`
	String *string       `| @String`
	Bool   *string       `| @( "true" | "false" | "True" | "False" )`
	Null   bool          `| @( "null" | "None" )`
	Call   *Call         `| @@`
	Ident  *string       `| @Ident`
	List   *List         `| @@`
	Sub    *Expression   `| "(" @@ ")"`
}

type Call struct {
	Name string        `@Ident "("`
	Args []*Expression `( @@ ( "," @@ )* )? ")"`
}

type List struct {
	Items []*Expression `"[" ( @@ ( "," @@ )* )? "]"`
}

var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Number", Pattern: `\d+(?:\.\d+)?`},
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"|'(?:\\.|[^'\\])*'`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Operator", Pattern: `==|!=|<=|>=|&&|\|\||[-+*/%<>!().,\[\]]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var exprParser = participle.MustBuild[Expression](
	participle.Lexer(exprLexer),
	participle.Elide("Whitespace"),
	participle.Map(unquoteToken, "String"),
	participle.UseLookahead(2),
)

func unquoteToken(t lexer.Token) (lexer.Token, error) {
	s, err := unquote(t.Value)
	if err != nil {
		return t, participle.Errorf(t.Pos, "%s", err.Error())
	}
	t.Value = s
	return t, nil
}

// unquote 支持单引号和双引号，转义序列 \\ \' \" \n \t
func unquote(quoted string) (string, error) {
	if len(quoted) < 2 {
		return "", errors.Errorf("invalid string literal %s", quoted)
	}
	body := quoted[1 : len(quoted)-1]
	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i >= len(body) {
			return "", errors.Errorf("unterminated escape in %s", quoted)
		}
		switch body[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case '\\', '\'', '"':
			sb.WriteByte(body[i])
		default:
			return "", errors.Errorf("unknown escape \\%c in %s", body[i], quoted)
		}
	}
	return sb.String(), nil
}
