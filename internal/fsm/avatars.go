package fsm

import (
	"context"
	"fmt"
	"strings"

	"github.com/udisondev/otpedge/internal/dbiface"
	"github.com/udisondev/otpedge/internal/dcschema"
)

// ClientAvatarData is one entry in a GET_AVATARS_RESP (spec.md §4.7).
type ClientAvatarData struct {
	DoID      uint32
	NameList  [4]string
	DNA       []byte
	Pos       uint32
	NameIndex uint32
}

func accountClass(schema *dcschema.Schema) (*dcschema.Class, error) {
	c, ok := schema.Class("Account")
	if !ok {
		return nil, fmt.Errorf("fsm: schema has no Account class")
	}
	return c, nil
}

func toonClass(schema *dcschema.Schema) (*dcschema.Class, error) {
	c, ok := schema.Class("DistributedToon")
	if !ok {
		return nil, fmt.Errorf("fsm: schema has no DistributedToon class")
	}
	return c, nil
}

func avatarSet(ctx context.Context, db *dbiface.Client, schema *dcschema.Schema, accountID uint32) ([dcschema.NumAvatarSlots]uint32, error) {
	var out [dcschema.NumAvatarSlots]uint32
	class, err := accountClass(schema)
	if err != nil {
		return out, err
	}
	_, fields, err := db.GetAll(ctx, accountID)
	if err != nil {
		return out, fmt.Errorf("fsm: querying account %d: %w", accountID, err)
	}
	values, err := dbiface.Unpack(class, fields)
	if err != nil {
		return out, fmt.Errorf("fsm: unpacking account %d: %w", accountID, err)
	}
	set, ok := values["ACCOUNT_AV_SET"].([]uint32)
	if !ok || len(set) != dcschema.NumAvatarSlots {
		return out, fmt.Errorf("fsm: account %d has malformed ACCOUNT_AV_SET", accountID)
	}
	copy(out[:], set)
	return out, nil
}

func setAccountAvatarSet(ctx context.Context, db *dbiface.Client, schema *dcschema.Schema, accountID uint32, set [dcschema.NumAvatarSlots]uint32) error {
	class, err := accountClass(schema)
	if err != nil {
		return err
	}
	names, fields, err := dbiface.Pack(class, map[string]any{"ACCOUNT_AV_SET": set[:]})
	if err != nil {
		return fmt.Errorf("fsm: packing ACCOUNT_AV_SET: %w", err)
	}
	if err := db.SetFields(accountID, "Account", names, fields); err != nil {
		return fmt.Errorf("fsm: updating account %d avatar set: %w", accountID, err)
	}
	return nil
}

// RetrieveAvatarsFSM queries Account then every non-zero avatar slot,
// assembling the client-facing avatar summaries (spec.md §4.7).
func RetrieveAvatarsFSM(ctx context.Context, db *dbiface.Client, schema *dcschema.Schema, accountID uint32) ([]ClientAvatarData, error) {
	set, err := avatarSet(ctx, db, schema, accountID)
	if err != nil {
		return nil, err
	}
	toon, err := toonClass(schema)
	if err != nil {
		return nil, err
	}

	var out []ClientAvatarData
	for slot, avID := range set {
		if avID == 0 {
			continue
		}
		_, fields, err := db.GetAll(ctx, avID)
		if err != nil {
			return nil, fmt.Errorf("fsm: querying avatar %d: %w", avID, err)
		}
		values, err := dbiface.Unpack(toon, fields)
		if err != nil {
			return nil, fmt.Errorf("fsm: unpacking avatar %d: %w", avID, err)
		}
		name, _ := values["setName"].(string)
		dna, _ := values["setDNAString"].([]byte)
		out = append(out, ClientAvatarData{
			DoID:      avID,
			NameList:  [4]string{name, "", "", ""},
			DNA:       dna,
			Pos:       uint32(slot),
			NameIndex: 0,
		})
	}
	return out, nil
}

// CreateAvatarFSM creates a DistributedToon with the default name "Toon"
// and records its id in the account's avatar set at slot (spec.md §4.7).
func CreateAvatarFSM(ctx context.Context, db *dbiface.Client, schema *dcschema.Schema, accountID uint32, dna []byte, slot int) (uint32, error) {
	if slot < 0 || slot >= dcschema.NumAvatarSlots {
		return 0, fmt.Errorf("fsm: CreateAvatarFSM: slot %d out of range", slot)
	}
	toon, err := toonClass(schema)
	if err != nil {
		return 0, err
	}
	names, fields, err := dbiface.Pack(toon, map[string]any{
		"setName":          "Toon",
		"setDNAString":     dna,
		"setPosition":      []byte{},
		"setFriendsList":   []uint32{},
		"setWishNameState": "",
		"setHoodsVisited":  []uint32{},
		"setLastHood":      uint32(0),
		"setDefaultZone":   uint32(0),
	})
	if err != nil {
		return 0, fmt.Errorf("fsm: CreateAvatarFSM: packing default avatar: %w", err)
	}

	avatarID, err := db.CreateObject(ctx, "DistributedToon", names, fields)
	if err != nil {
		return 0, fmt.Errorf("fsm: CreateAvatarFSM: creating avatar: %w", err)
	}

	set, err := avatarSet(ctx, db, schema, accountID)
	if err != nil {
		return 0, err
	}
	set[slot] = avatarID
	if err := setAccountAvatarSet(ctx, db, schema, accountID, set); err != nil {
		return 0, err
	}
	return avatarID, nil
}

// DeleteAvatarFSM clears avatarID's slot in the account's avatar set and
// returns the refreshed set (spec.md §4.7).
func DeleteAvatarFSM(ctx context.Context, db *dbiface.Client, schema *dcschema.Schema, accountID, avatarID uint32) ([dcschema.NumAvatarSlots]uint32, error) {
	set, err := avatarSet(ctx, db, schema, accountID)
	if err != nil {
		return set, err
	}
	for i, id := range set {
		if id == avatarID {
			set[i] = 0
		}
	}
	if err := setAccountAvatarSet(ctx, db, schema, accountID, set); err != nil {
		return set, err
	}
	return set, nil
}

// SetNameFSM sets a literal, already-approved avatar name (spec.md §4.7).
func SetNameFSM(ctx context.Context, db *dbiface.Client, schema *dcschema.Schema, avatarID uint32, name string) error {
	toon, err := toonClass(schema)
	if err != nil {
		return err
	}
	names, fields, err := dbiface.Pack(toon, map[string]any{"setName": name})
	if err != nil {
		return fmt.Errorf("fsm: SetNameFSM: packing name: %w", err)
	}
	if err := db.SetFields(avatarID, "DistributedToon", names, fields); err != nil {
		return fmt.Errorf("fsm: SetNameFSM: updating avatar %d: %w", avatarID, err)
	}
	return nil
}

// NamePart is one of the four indexed parts a name pattern assembles
// (spec.md §4.7): a dictionary word plus whether to capitalize it.
type NamePart struct {
	Text       string
	Capitalize bool
}

func capitalize(s string, do bool) string {
	if !do || s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// AssembleName builds the avatar name string from four dictionary parts:
// parts 1-2 join with a space, parts 3-4 concatenate without one, and the
// two halves join with a space (spec.md §4.7).
func AssembleName(parts [4]NamePart) string {
	first := strings.TrimSpace(capitalize(parts[0].Text, parts[0].Capitalize) + " " + capitalize(parts[1].Text, parts[1].Capitalize))
	last := capitalize(parts[2].Text, parts[2].Capitalize) + capitalize(parts[3].Text, parts[3].Capitalize)
	return strings.TrimSpace(first + " " + last)
}

// SetNamePatternFSM assembles a name from dictionary parts (already
// resolved by the out-of-scope name-dictionary collaborator) and writes
// it to the avatar (spec.md §4.7).
func SetNamePatternFSM(ctx context.Context, db *dbiface.Client, schema *dcschema.Schema, avatarID uint32, parts [4]NamePart) (string, error) {
	name := AssembleName(parts)
	if err := SetNameFSM(ctx, db, schema, avatarID, name); err != nil {
		return "", err
	}
	return name, nil
}

// GetAvatarDetailsFSM queries an avatar and returns its fields sorted by
// DC index, ready for GET_AVATAR_DETAILS_RESP (spec.md §4.7).
func GetAvatarDetailsFSM(ctx context.Context, db *dbiface.Client, schema *dcschema.Schema, avatarID uint32) ([]string, dbiface.Fields, error) {
	toon, err := toonClass(schema)
	if err != nil {
		return nil, nil, err
	}
	_, fields, err := db.GetAll(ctx, avatarID)
	if err != nil {
		return nil, nil, fmt.Errorf("fsm: GetAvatarDetailsFSM: querying avatar %d: %w", avatarID, err)
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sorted, err := toon.SortFieldNamesByIndex(names)
	if err != nil {
		return nil, nil, fmt.Errorf("fsm: GetAvatarDetailsFSM: sorting fields: %w", err)
	}
	return sorted, fields, nil
}
