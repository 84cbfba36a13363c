package document

import (
	"strings"
	"testing"
)

func TestAssembleLayout(t *testing.T) {
	got, err := Assemble(Input{
		Script:      "let a=1;draw();",
		Seed:        "0xABCD",
		TokenID:     3000042,
		LibraryDeps: []string{"https://cdn.example/p5.js", "https://cdn.example/three.js"},
		Marker:      "__RENDERER_SELECTOR",
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	want := `<html>
  <body id="__RENDERER_SELECTOR"></body>
  <script src="https://cdn.example/p5.js"></script>
  <script src="https://cdn.example/three.js"></script>
  <script>window.tokenData = { hash: "0xABCD", tokenId: 3000042 }</script>
  <script>let a=1;draw();</script>
</html>
`
	if got != want {
		t.Fatalf("unexpected document:\n%s\nwant:\n%s", got, want)
	}
}

func TestAssembleEmptyScriptAndNoDeps(t *testing.T) {
	got, err := Assemble(Input{Seed: "0x01", TokenID: 5, Marker: "m"})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if strings.Contains(got, "<script src=") {
		t.Fatalf("unexpected library include:\n%s", got)
	}
	if !strings.Contains(got, "<script></script>") {
		t.Fatalf("expected empty script block:\n%s", got)
	}
}

func TestAssembleDoesNotEscapeChainContent(t *testing.T) {
	script := `if (a < b && c > d) { s = "<p>" }`
	got, err := Assemble(Input{Script: script, Seed: "0x01", TokenID: 1, Marker: "m"})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(got, "<script>"+script+"</script>") {
		t.Fatalf("script was altered:\n%s", got)
	}
}

func TestAssembleDeterministic(t *testing.T) {
	in := Input{Script: "x()", Seed: "0xff", TokenID: 9, LibraryDeps: []string{"a.js"}, Marker: "m"}
	first, err := Assemble(in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, _ := Assemble(in)
		if again != first {
			t.Fatalf("run %d differs", i)
		}
	}
}
