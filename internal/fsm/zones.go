package fsm

import (
	"context"
	"fmt"

	"github.com/udisondev/otpedge/internal/dbiface"
	"github.com/udisondev/otpedge/internal/dcschema"
)

// SetAvatarZonesFSM records that avatarID has visited hood and now
// defaults to zone, as separate single-field update calls (spec.md §4.7):
// setHoodsVisited only when hood is not yet in it, then setLastHood and
// setDefaultZone.
func SetAvatarZonesFSM(ctx context.Context, db *dbiface.Client, schema *dcschema.Schema, avatarID, hood, zone uint32) error {
	toon, err := toonClass(schema)
	if err != nil {
		return err
	}

	_, fields, err := db.GetAll(ctx, avatarID)
	if err != nil {
		return fmt.Errorf("fsm: SetAvatarZonesFSM: querying avatar %d: %w", avatarID, err)
	}
	values, err := dbiface.Unpack(toon, fields)
	if err != nil {
		return fmt.Errorf("fsm: SetAvatarZonesFSM: unpacking avatar %d: %w", avatarID, err)
	}
	visited, _ := values["setHoodsVisited"].([]uint32)

	missing := true
	for _, h := range visited {
		if h == hood {
			missing = false
			break
		}
	}
	if missing {
		visited = append(visited, hood)
		if err := setAvatarField(ctx, db, toon, avatarID, "setHoodsVisited", visited); err != nil {
			return err
		}
	}

	if err := setAvatarField(ctx, db, toon, avatarID, "setLastHood", hood); err != nil {
		return err
	}
	return setAvatarField(ctx, db, toon, avatarID, "setDefaultZone", zone)
}

func setAvatarField(ctx context.Context, db *dbiface.Client, toon *dcschema.Class, avatarID uint32, field string, value any) error {
	names, fields, err := dbiface.Pack(toon, map[string]any{field: value})
	if err != nil {
		return fmt.Errorf("fsm: packing %s: %w", field, err)
	}
	if err := db.SetFields(avatarID, "DistributedToon", names, fields); err != nil {
		return fmt.Errorf("fsm: updating avatar %d field %s: %w", avatarID, field, err)
	}
	return nil
}
