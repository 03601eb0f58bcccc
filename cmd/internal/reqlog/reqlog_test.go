package reqlog

import (
	"context"
	"testing"
)

func TestSetWithoutFieldsIsNoop(t *testing.T) {
	SessionName(context.Background(), "s-abc")
	if From(context.Background()) != nil {
		t.Fatalf("expected nil fields")
	}
	var f *Fields
	if len(f.Args()) != 0 {
		t.Fatalf("nil fields should have no args")
	}
}

func TestSetReplacesByKey(t *testing.T) {
	ctx, f := With(context.Background())
	SessionName(ctx, "s-one")
	Set(ctx, "user", "u1")
	SessionName(ctx, "s-two")

	attrs := f.Attrs()
	if len(attrs) != 2 {
		t.Fatalf("attrs = %d, want 2", len(attrs))
	}
	if attrs[0].Key != "session" || attrs[0].Value.String() != "s-two" {
		t.Fatalf("unexpected session attr: %v", attrs[0])
	}
	if len(f.Args()) != 2 {
		t.Fatalf("args = %d", len(f.Args()))
	}
}
