package fsm

import (
	"context"
	"fmt"

	"github.com/udisondev/otpedge/internal/dbiface"
	"github.com/udisondev/otpedge/internal/dcschema"
	"github.com/udisondev/otpedge/internal/kvstore"
)

// AccountResult is what LoadAccountFSM hands to its completion callback:
// the resolved account id and whether a new Account record was created.
type AccountResult struct {
	AccountID uint32
	Created   bool
}

// LoadAccountFSM resolves a play token to an account, creating a fresh
// Account record with default fields on first sight of the token
// (spec.md §4.7). now is the creation timestamp (epoch seconds); callers
// pass it in since FSMs must not call time.Now themselves to stay
// deterministic under test.
func LoadAccountFSM(ctx context.Context, db *dbiface.Client, kv *kvstore.Store, schema *dcschema.Schema, playToken string, now uint32) (AccountResult, error) {
	if accountID, found, err := kv.Lookup(playToken); err != nil {
		return AccountResult{}, fmt.Errorf("fsm: LoadAccountFSM: looking up play token: %w", err)
	} else if found {
		return AccountResult{AccountID: accountID, Created: false}, nil
	}

	class, ok := schema.Class("Account")
	if !ok {
		return AccountResult{}, fmt.Errorf("fsm: LoadAccountFSM: schema has no Account class")
	}

	names, fields, err := dbiface.Pack(class, map[string]any{
		"ACCOUNT_AV_SET": make([]uint32, dcschema.NumAvatarSlots),
		"BLAST_NAME":     playToken,
		"CREATED":        now,
	})
	if err != nil {
		return AccountResult{}, fmt.Errorf("fsm: LoadAccountFSM: packing default fields: %w", err)
	}

	accountID, err := db.CreateObject(ctx, "Account", names, fields)
	if err != nil {
		return AccountResult{}, fmt.Errorf("fsm: LoadAccountFSM: creating account: %w", err)
	}

	if err := kv.Store(playToken, accountID); err != nil {
		return AccountResult{}, fmt.Errorf("fsm: LoadAccountFSM: persisting play token: %w", err)
	}

	return AccountResult{AccountID: accountID, Created: true}, nil
}
