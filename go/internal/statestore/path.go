package statestore

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// SplitPath splits a slash separated path. The empty path is the root.
func SplitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// JoinPath joins segments into a path.
func JoinPath(segs ...string) string {
	return strings.Join(segs, "/")
}

// overlaps reports whether a write at b can change the subtree at a.
func overlaps(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func getAt(node any, segs []string) (any, bool) {
	for _, s := range segs {
		switch n := node.(type) {
		case map[string]any:
			child, ok := n[s]
			if !ok {
				return nil, false
			}
			node = child
		case []any:
			i, err := strconv.Atoi(s)
			if err != nil || i < 0 || i >= len(n) {
				return nil, false
			}
			node = n[i]
		default:
			return nil, false
		}
	}
	if node == nil {
		return nil, false
	}
	return node, true
}

// setAt returns a copy of node with value placed at segs. Maps and slices on
// the path are copied so earlier snapshots stay immutable. A nil value
// deletes the key.
func setAt(node any, segs []string, value any) any {
	if len(segs) == 0 {
		return value
	}
	head, rest := segs[0], segs[1:]

	if arr, ok := node.([]any); ok {
		if i, err := strconv.Atoi(head); err == nil && i >= 0 && i < len(arr) {
			cp := make([]any, len(arr))
			copy(cp, arr)
			cp[i] = setAt(arr[i], rest, value)
			return cp
		}
		// Writing a non-index key into an array turns it into a map.
		m := make(map[string]any, len(arr))
		for i, v := range arr {
			m[strconv.Itoa(i)] = v
		}
		node = m
	}

	src, _ := node.(map[string]any)
	cp := make(map[string]any, len(src)+1)
	for k, v := range src {
		cp[k] = v
	}
	child := setAt(src[head], rest, value)
	if child == nil {
		delete(cp, head)
	} else {
		cp[head] = child
	}
	if len(cp) == 0 {
		return nil
	}
	return cp
}

func toNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
