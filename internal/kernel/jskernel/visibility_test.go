package jskernel

import "testing"

func TestLastLineVisible(t *testing.T) {
	cases := []struct {
		lines []string
		want  bool
	}{
		{nil, false},
		{[]string{""}, false},
		{[]string{"   "}, false},
		{[]string{"// comment"}, false},
		{[]string{"/* block */"}, false},
		{[]string{"var x = 1"}, false},
		{[]string{"let x = 1"}, false},
		{[]string{"const x = 1"}, false},
		{[]string{"function f() {}"}, false},
		{[]string{"class C {}"}, false},
		{[]string{"x = 1"}, false},
		{[]string{"x += 1"}, false},
		{[]string{"x **= 2"}, false},
		{[]string{"x ??= 1"}, false},
		{[]string{"x++"}, false},
		{[]string{"obj.field = 1"}, false},
		{[]string{"arr[0] = 1"}, false},
		{[]string{"x"}, true},
		{[]string{"x + 1"}, true},
		{[]string{"x == 1"}, true},
		{[]string{"x === 1"}, true},
		{[]string{"x <= 2"}, true},
		{[]string{"f(x)"}, true},
		{[]string{"x => x + 1"}, true},
		{[]string{"[1, 2, 3]"}, true},
		// Only the trailing line matters.
		{[]string{"let a = 1", "a * 2"}, true},
		{[]string{"a * 2", "let b = 1"}, false},
	}

	for _, tc := range cases {
		if got := lastLineVisible(tc.lines); got != tc.want {
			t.Errorf("lastLineVisible(%q) = %v, want %v", tc.lines, got, tc.want)
		}
	}
}
