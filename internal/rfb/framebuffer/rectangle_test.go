package framebuffer

import "testing"

func TestIntersectCommutative(t *testing.T) {
	a := Rectangle{X: 0, Y: 0, Width: 10, Height: 10}
	b := Rectangle{X: 5, Y: 5, Width: 10, Height: 10}
	if a.Intersect(b) != b.Intersect(a) {
		t.Fatalf("Intersect not commutative: %+v vs %+v", a.Intersect(b), b.Intersect(a))
	}
}

func TestIntersectAssociative(t *testing.T) {
	a := Rectangle{X: 0, Y: 0, Width: 10, Height: 10}
	b := Rectangle{X: 5, Y: 5, Width: 10, Height: 10}
	c := Rectangle{X: 2, Y: 2, Width: 6, Height: 20}
	left := a.Intersect(b).Intersect(c)
	right := a.Intersect(b.Intersect(c))
	if left != right {
		t.Fatalf("Intersect not associative: %+v vs %+v", left, right)
	}
}

func TestIntersectWithEmptyIsEmpty(t *testing.T) {
	a := Rectangle{X: 0, Y: 0, Width: 10, Height: 10}
	if got := a.Intersect(Rectangle{}); !got.IsEmpty() {
		t.Fatalf("Intersect(A, empty) = %+v, want empty", got)
	}
}

func TestUnionContainsBothOperands(t *testing.T) {
	a := Rectangle{X: 0, Y: 0, Width: 5, Height: 5}
	b := Rectangle{X: 10, Y: 10, Width: 5, Height: 5}
	u := a.Union(b)
	if u.Intersect(a) != a {
		t.Fatalf("Union does not contain a: union=%+v", u)
	}
	if u.Intersect(b) != b {
		t.Fatalf("Union does not contain b: union=%+v", u)
	}
}

func TestNegativeDimensionsAreInvalid(t *testing.T) {
	r := Rectangle{Width: -5, Height: 10}
	if !r.IsEmpty() {
		t.Fatal("a rectangle with negative width should be treated as empty")
	}
	if r.Area() != 0 {
		t.Fatalf("Area of invalid rectangle = %d, want 0", r.Area())
	}
}
