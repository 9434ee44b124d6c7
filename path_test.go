package advfs

import "testing"

func TestSplitPath(t *testing.T) {
	cases := []struct {
		path    string
		want    []string
		wantErr error
	}{
		{"/", []string{}, nil},
		{"/a", []string{"a"}, nil},
		{"/a/b/c", []string{"a", "b", "c"}, nil},
		{"/a//b", nil, ErrInvalidPath},
		{"relative", nil, ErrInvalidPath},
		{"/./a", nil, ErrInvalidPath},
		{"/../a", nil, ErrInvalidPath},
	}

	for _, c := range cases {
		got, err := splitPath(c.path)
		if err != c.wantErr {
			t.Errorf("splitPath(%q) error = %v, want %v", c.path, err, c.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if len(got) != len(c.want) {
			t.Errorf("splitPath(%q) = %v, want %v", c.path, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("splitPath(%q) = %v, want %v", c.path, got, c.want)
				break
			}
		}
	}
}

func TestSplitPathRejectsOverlongComponent(t *testing.T) {
	long := make([]byte, maxNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := splitPath("/" + string(long))
	if err != ErrNameTooLong {
		t.Fatalf("splitPath with overlong component: got %v, want ErrNameTooLong", err)
	}
}
