package tools

import (
	"strings"
	"testing"
)

func TestValidateScriptSourceRejectsForbiddenPatterns(t *testing.T) {
	cases := []string{
		`process.exit(1)`,
		`require("fs")`,
		`import("fs")`,
		`globalThis.x = 1`,
		`new ArrayBuffer(8)`,
		`Reflect.get(obj, "x")`,
		`new Proxy({}, {})`,
		`Function("return 1")()`,
		`eval("1+1")`,
		`while (true) {}`,
	}
	for _, src := range cases {
		if err := ValidateScriptSource(src); err == nil {
			t.Errorf("expected forbidden-pattern rejection for %q", src)
		}
	}
}

func TestValidateScriptSourceRejectsOversizedSource(t *testing.T) {
	src := strings.Repeat("a", maxScriptSourceBytes+1)
	if err := ValidateScriptSource(src); err == nil {
		t.Fatal("expected oversized source to be rejected")
	}
}

func TestValidateScriptSourceAcceptsBenignSource(t *testing.T) {
	if err := ValidateScriptSource(`return args.x + 1;`); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}
