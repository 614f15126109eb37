package categories

import (
	"context"
	"testing"

	"github.com/openshelf/library-service/internal/app/domain/category"
	"github.com/openshelf/library-service/internal/app/storage/memory"
	"github.com/openshelf/library-service/internal/errors"
)

func TestAddAndList(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	for _, name := range []string{"scifi", "classics"} {
		if _, err := svc.Add(ctx, category.Category{Name: name}); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}

	cats, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(cats))
	}
	if cats[0].Name != "classics" || cats[1].Name != "scifi" {
		t.Fatalf("expected name ordering, got %+v", cats)
	}
}

func TestAddValidation(t *testing.T) {
	svc := New(memory.New(), nil)

	if _, err := svc.Add(context.Background(), category.Category{Name: "  "}); !errors.IsCode(err, errors.CodeBadRequest) {
		t.Fatalf("expected BadRequest for blank name, got %v", err)
	}
}

func TestAddDuplicateName(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	if _, err := svc.Add(ctx, category.Category{Name: "scifi"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Add(ctx, category.Category{Name: "scifi"}); !errors.IsCode(err, errors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUpdateRename(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	c, err := svc.Add(ctx, category.Category{Name: "scifi"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	c.Name = "science fiction"
	updated, err := svc.Update(ctx, c)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "science fiction" {
		t.Fatalf("expected renamed category, got %s", updated.Name)
	}
}

func TestDeleteUnknown(t *testing.T) {
	svc := New(memory.New(), nil)

	if err := svc.Delete(context.Background(), "missing"); !errors.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
