package preseed

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/preservd-dev/preservd/internal/capability"
)

func TestGuard_EnsureEmpty(t *testing.T) {
	tests := []struct {
		name      string
		occupancy capability.Occupancy
		wantErr   bool
	}{
		{
			name:      "both readings under threshold",
			occupancy: capability.Occupancy{LogicalBytes: 1 << 20, UsedBytes: 2 << 20},
			wantErr:   false,
		},
		{
			name:      "exactly at thresholds",
			occupancy: capability.Occupancy{LogicalBytes: 4 << 20, UsedBytes: 8 << 20},
			wantErr:   false,
		},
		{
			name:      "logical size over threshold",
			occupancy: capability.Occupancy{LogicalBytes: 5 << 20, UsedBytes: 1 << 20},
			wantErr:   true,
		},
		{
			name:      "used space over threshold",
			occupancy: capability.Occupancy{LogicalBytes: 1 << 20, UsedBytes: 9 << 20},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snaps := newFakeSnapshotter()
			snaps.occupancy = tt.occupancy
			snaps.datasets["tank/svc"] = true

			guard := NewGuard(snaps, 4<<20, 8<<20, zerolog.Nop())

			err := guard.EnsureEmpty(context.Background(), "tank/svc")
			if tt.wantErr {
				if !errors.Is(err, ErrNotEmpty) {
					t.Errorf("err = %v, want ErrNotEmpty", err)
				}
			} else if err != nil {
				t.Errorf("EnsureEmpty failed: %v", err)
			}
		})
	}
}

func TestGuard_HasData(t *testing.T) {
	snaps := newFakeSnapshotter()
	snaps.datasets["tank/svc"] = true
	guard := NewGuard(snaps, 4<<20, 8<<20, zerolog.Nop())

	snaps.occupancy = capability.Occupancy{LogicalBytes: 100 << 20, UsedBytes: 100 << 20}
	hasData, err := guard.HasData(context.Background(), "tank/svc")
	if err != nil {
		t.Fatal(err)
	}
	if !hasData {
		t.Error("HasData = false for occupied dataset")
	}

	snaps.occupancy = capability.Occupancy{}
	hasData, err = guard.HasData(context.Background(), "tank/svc")
	if err != nil {
		t.Fatal(err)
	}
	if hasData {
		t.Error("HasData = true for empty dataset")
	}
}

func TestGuard_OccupancyError(t *testing.T) {
	snaps := newFakeSnapshotter()
	snaps.occupancyErr = errors.New("zfs get failed")
	guard := NewGuard(snaps, 4<<20, 8<<20, zerolog.Nop())

	if err := guard.EnsureEmpty(context.Background(), "tank/svc"); err == nil {
		t.Error("expected error when occupancy is unreadable, got nil")
	}
}
