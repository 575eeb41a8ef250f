//go:build !integration

package seed

import (
	"context"
	"errors"
	"testing"
	"time"

	"course-booking-engine/internal/infra/db/memory"
)

func TestSeed(t *testing.T) {
	s := memory.New()
	r := Repos{Users: s.Users(), Plans: s.Plans(), Products: s.Products(), Sessions: s.Sessions(), Memberships: s.Memberships()}
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	res, err := Seed(ctx, r, now, time.UTC)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if res.Plans != 4 || res.Sessions != 7 {
		t.Fatalf("unexpected result %+v", res)
	}

	m, err := s.Memberships().FindActiveByUser(ctx, nil, MemberID)
	if err != nil {
		t.Fatalf("member membership: %v", err)
	}
	if m.Usage.RemainingCredits != 10 || m.EndDate.Format("2006-01-02") != "2024-05-31" {
		t.Errorf("unexpected membership %+v", m)
	}
	if _, err := s.Sessions().FindByID(ctx, nil, "s-20240302"); err != nil {
		t.Errorf("first session: %v", err)
	}

	if _, err := Seed(ctx, r, now, time.UTC); !errors.Is(err, ErrAlreadySeeded) {
		t.Fatalf("second run: expected ErrAlreadySeeded, got %v", err)
	}
}
