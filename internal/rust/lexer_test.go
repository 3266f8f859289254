package rust

import "testing"

func TestLex(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		src   string
		kinds []TokenKind
		texts []string
	}{
		{
			name:  "lifetime_vs_char",
			src:   "'a 'b' '\\n'",
			kinds: []TokenKind{TokLifetime, TokLiteral, TokLiteral},
			texts: []string{"'a", "'b'", "'\\n'"},
		},
		{
			name:  "raw_string",
			src:   `r#"has " quote"# x`,
			kinds: []TokenKind{TokLiteral, TokIdent},
			texts: []string{`r#"has " quote"#`, "x"},
		},
		{
			name:  "nested_block_comment",
			src:   "a /* outer /* inner */ still */ b",
			kinds: []TokenKind{TokIdent, TokIdent},
			texts: []string{"a", "b"},
		},
		{
			name:  "doc_comments",
			src:   "/// outer\n//! inner\n//// plain\n",
			kinds: []TokenKind{TokDoc, TokDoc},
			texts: []string{" outer", " inner"},
		},
		{
			name:  "punctuation",
			src:   "a::b->c..=d>>e",
			kinds: []TokenKind{TokIdent, TokPunct, TokIdent, TokPunct, TokIdent, TokPunct, TokIdent, TokPunct, TokPunct, TokIdent},
			texts: []string{"a", "::", "b", "->", "c", "..=", "d", ">", ">", "e"},
		},
		{
			name:  "numbers",
			src:   "1_000u32 2.5e-3 0xff 1..2",
			kinds: []TokenKind{TokLiteral, TokLiteral, TokLiteral, TokLiteral, TokPunct, TokLiteral},
			texts: []string{"1_000u32", "2.5e-3", "0xff", "1", "..", "2"},
		},
		{
			name:  "raw_ident",
			src:   "r#type b\"bytes\"",
			kinds: []TokenKind{TokIdent, TokLiteral},
			texts: []string{"type", "b\"bytes\""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks, errs := Lex(tt.src)
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			toks = toks[:len(toks)-1] // EOF
			if len(toks) != len(tt.kinds) {
				t.Fatalf("got %d tokens, want %d: %+v", len(toks), len(tt.kinds), toks)
			}
			for i, tok := range toks {
				if tok.Kind != tt.kinds[i] || tok.Text != tt.texts[i] {
					t.Errorf("token %d = (%v, %q), want (%v, %q)", i, tok.Kind, tok.Text, tt.kinds[i], tt.texts[i])
				}
			}
		})
	}
}

func TestLexUnterminated(t *testing.T) {
	t.Parallel()
	_, errs := Lex("fn f() {\n    \"open\n}\n")
	if len(errs) != 1 || errs[0].Line != 2 {
		t.Errorf("errs = %v", errs)
	}
}

func TestLexLines(t *testing.T) {
	t.Parallel()
	toks, _ := Lex("a\n/* x\ny */\nb")
	if toks[0].Line != 1 || toks[1].Line != 4 {
		t.Errorf("lines = %d, %d", toks[0].Line, toks[1].Line)
	}
}
