package validate

import (
	"strings"
	"testing"
)

func TestValidateAllowsCleanScripts(t *testing.T) {
	v := New(DefaultPolicy())

	scripts := []struct {
		name string
		code string
	}{
		{"arithmetic", "print(2+2)"},
		{"pandas", "import pandas as pd\nprint(pd.DataFrame({'a': [1, 2]}).sum())"},
		{"numpy stats", "import numpy as np\nx = np.arange(10)\nprint(x.mean())"},
		{"plotting", "import matplotlib.pyplot as plt\nplt.plot([1, 2, 3])\nplt.show()"},
		{"stdlib", "import math, statistics\nprint(math.sqrt(2), statistics.mean([1, 2]))"},
		{"loops", "total = 0\nfor i in range(10):\n    total += i\nprint(total)"},
		{"functions", "def f(x):\n    return x * 2\n\nprint(f(21))"},
	}

	for _, tt := range scripts {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.code)
			if !res.Valid {
				t.Errorf("Validate rejected clean script: %s", res.Error)
			}
			if res.Code != tt.code {
				t.Errorf("clean script was modified")
			}
		})
	}
}

func TestValidateRejectsForbiddenImports(t *testing.T) {
	v := New(DefaultPolicy())

	scripts := []struct {
		name   string
		code   string
		substr string
	}{
		{"os", "import os", "os"},
		{"os with whitespace", "   import os\n", "os"},
		{"os dotted", "import os.path", "os"},
		{"from os", "from os import system", "os"},
		{"sys", "import sys", "sys"},
		{"subprocess", "import subprocess", "subprocess"},
		{"socket", "import socket", "socket"},
		{"pickle", "import pickle", "pickle"},
		{"multi", "import math, os", "os"},
		{"aliased", "import os as safe", "os"},
		{"after compound colon", "if True: import os\nos.listdir('/')", "os"},
		{"after semicolon", "x = 1; import os\nos.listdir('/')", "os"},
		{"nested compound", "while True: import subprocess; break", "subprocess"},
		{"from after colon", "if True: from os import system", "os"},
		{"indented in block", "if True:\n    import os", "os"},
	}

	for _, tt := range scripts {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.code)
			if res.Valid {
				t.Fatal("forbidden import accepted")
			}
			if res.Kind != KindSecurity {
				t.Errorf("Kind = %v, want KindSecurity", res.Kind)
			}
			if !strings.Contains(res.Error, tt.substr) {
				t.Errorf("error %q does not mention %q", res.Error, tt.substr)
			}
		})
	}
}

func TestValidateRejectsForbiddenBuiltins(t *testing.T) {
	v := New(DefaultPolicy())

	scripts := []struct {
		name string
		code string
	}{
		{"eval", "eval('1+1')"},
		{"exec", "exec('x = 1')"},
		{"compile", "compile('x', 'f', 'exec')"},
		{"open", "f = open('/etc/passwd')"},
		{"input", "x = input()"},
		{"getattr", "getattr(obj, 'secret')"},
		{"setattr", "setattr(obj, 'a', 1)"},
		{"dunder import", "__import__('os')"},
	}

	for _, tt := range scripts {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.code)
			if res.Valid {
				t.Fatal("forbidden builtin accepted")
			}
			if res.Kind != KindSecurity {
				t.Errorf("Kind = %v, want KindSecurity", res.Kind)
			}
		})
	}
}

func TestValidateDenyPatternLayer(t *testing.T) {
	v := New(DefaultPolicy())

	// Constructs the structural walk does not special-case but the raw
	// text scan must catch.
	scripts := []struct {
		name string
		code string
	}{
		{"dunder subclasses", "x = ().__class__.__bases__[0].__subclasses__()"},
		{"importlib string", "m = 'importlib'\nprint(m)"},
		{"ctypes mention", "lib = 'ctypes'"},
	}

	for _, tt := range scripts {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.code)
			if res.Valid {
				t.Fatal("dangerous pattern accepted")
			}
			if res.Kind != KindSecurity {
				t.Errorf("Kind = %v, want KindSecurity", res.Kind)
			}
		})
	}
}

func TestValidateSyntaxErrorAfterFailedRepair(t *testing.T) {
	v := New(DefaultPolicy())

	res := v.Validate("def f(:\n    return ((1")
	if res.Valid {
		t.Fatal("unparseable script accepted")
	}
	if res.Kind != KindSyntax {
		t.Errorf("Kind = %v, want KindSyntax", res.Kind)
	}
}

func TestValidateRepairsFlatBlock(t *testing.T) {
	v := New(DefaultPolicy())

	res := v.Validate("for i in range(3):\nprint(i)")
	if !res.Valid {
		t.Fatalf("repairable script rejected: %s", res.Error)
	}
	if !res.Repaired {
		t.Error("Repaired flag not set")
	}
	if _, err := parseScript(res.Code); err != nil {
		t.Errorf("repaired code does not parse: %v", err)
	}
}

func TestValidateCustomPolicy(t *testing.T) {
	// Alternate allow-list: only math.
	p := NewPolicy([]string{"math"}, []string{"eval"}, nil)
	v := New(p)

	if res := v.Validate("import math"); !res.Valid {
		t.Errorf("math rejected under custom policy: %s", res.Error)
	}
	if res := v.Validate("import pandas"); res.Valid {
		t.Error("pandas accepted under math-only policy")
	}
}
