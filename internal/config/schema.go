package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/stoewer/go-strcase"
)

//go:embed config.go
var configGoFile embed.FS

// NewReflector returns a JSON schema reflector using snake_case names.
func NewReflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		KeyNamer: strcase.SnakeCase,
		Namer: func(t reflect.Type) string {
			return strcase.SnakeCase(t.Name())
		},
		ExpandedStruct: true,
	}
}

// Schema returns the JSON schema of Settings. Field descriptions come from the
// doc comments in config.go.
func Schema() (*jsonschema.Schema, error) {
	r := NewReflector()
	comments, err := goComments(reflect.TypeOf(Settings{}).PkgPath())
	if err != nil {
		return nil, err
	}
	r.CommentMap = comments

	return r.Reflect(&Settings{}), nil
}

// SchemaJSON returns the indented JSON form of Schema.
func SchemaJSON() ([]byte, error) {
	s, err := Schema()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(s, "", "  ")
}

func goComments(pkg string) (map[string]string, error) {
	src, err := configGoFile.ReadFile("config.go")
	if err != nil {
		return nil, err
	}

	f, err := parser.ParseFile(token.NewFileSet(), "config.go", src, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	comments := make(map[string]string)
	typ, pending := "", ""
	ast.Inspect(f, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.GenDecl:
			// a single type declaration carries its doc on the GenDecl
			pending = x.Doc.Text()
		case *ast.TypeSpec:
			typ = ""
			if !ast.IsExported(x.Name.String()) {
				return true
			}
			typ = x.Name.String()
			txt := x.Doc.Text()
			if txt == "" {
				txt, pending = pending, ""
			}
			if txt != "" {
				comments[fmt.Sprintf("%s.%s", pkg, typ)] = strings.TrimSpace(txt)
			}
		case *ast.Field:
			txt := x.Doc.Text()
			if txt == "" {
				txt = x.Comment.Text()
			}
			if typ == "" || txt == "" {
				return true
			}
			for _, name := range x.Names {
				if ast.IsExported(name.String()) {
					comments[fmt.Sprintf("%s.%s.%s", pkg, typ, name)] = strings.TrimSpace(txt)
				}
			}
		}
		return true
	})

	return comments, nil
}
