package schema

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// typeExpr is the root of a shorthand expression such as
// "{name: string, age?: integer, tags: [string]}".
type typeExpr struct {
	Object   *objectExpr `parser:"( @@"`
	Array    *arrayExpr  `parser:"| @@"`
	Name     string      `parser:"| @Ident )"`
	Optional bool        `parser:"@'?'?"`
}

type objectExpr struct {
	Fields []*fieldExpr `parser:"'{' ( @@ ( ',' @@ )* ','? )? '}'"`
}

type fieldExpr struct {
	Name     string    `parser:"@( Ident | String )"`
	Optional bool      `parser:"@'?'?"`
	Type     *typeExpr `parser:"':' @@"`
}

type arrayExpr struct {
	Items []*typeExpr `parser:"'[' ( @@ ( ',' @@ )* )? ']'"`
}

var shorthandParser = participle.MustBuild[typeExpr](
	participle.Lexer(lexer.MustSimple([]lexer.SimpleRule{
		{Name: "String", Pattern: `"(\\"|[^"])*"`},
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_.]*`},
		{Name: "Punct", Pattern: `[{}\[\]:,?]`},
		{Name: "Whitespace", Pattern: `\s+`},
	})),
	participle.Unquote("String"),
	participle.Elide("Whitespace"),
)

func parseShorthand(input string) (*typeExpr, error) {
	return shorthandParser.ParseString("", input)
}
