package clientagent

import (
	"context"
	"fmt"
	"time"

	"github.com/udisondev/otpedge/internal/clientwire"
	"github.com/udisondev/otpedge/internal/fsm"
	"github.com/udisondev/otpedge/internal/otpchannel"
)

// Token types accepted at login (spec.md §6 "token_type (must be BLUE=3
// or DISL_TOKEN=4)").
const (
	tokenTypeBlue      uint8 = 3
	tokenTypeDislToken uint8 = 4
)

// validTokenType reports whether tt is one of the token types this CA
// accepts (spec.md §6 "validates ... token_type").
func validTokenType(tt uint8) bool {
	return tt == tokenTypeBlue || tt == tokenTypeDislToken
}

func (s *Session) handleLogin2(ctx context.Context, body []byte) error {
	req, err := clientwire.DecodeLogin2Request(body)
	if err != nil {
		return s.sendDisconnect(clientwire.DisconnectTruncatedDatagram, "malformed LOGIN_2")
	}
	accountID, ok, err := s.runLoginGate(ctx, req.ServerVersion, req.HashVal, req.TokenType, req.PlayToken)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	resp := clientwire.Login2Resp{
		ReturnCode:          0,
		Message:             "All Ok",
		PlayToken:           req.PlayToken,
		AccountNameApproved: 1,
		EpochSeconds:         uint32(time.Now().Unix()),
		Usec:                 0,
		OpenChat:             1,
		AccountDays:          0,
	}
	_ = accountID
	return s.writeClientFrame(clientwire.MsgLogin2Resp, clientwire.EncodeLogin2Resp(resp))
}

func (s *Session) handleLoginToontown(ctx context.Context, body []byte) error {
	req, err := clientwire.DecodeLogin2Request(body)
	if err != nil {
		return s.sendDisconnect(clientwire.DisconnectTruncatedDatagram, "malformed LOGIN_TOONTOWN")
	}
	accountID, ok, err := s.runLoginGate(ctx, req.ServerVersion, req.HashVal, req.TokenType, req.PlayToken)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	resp := clientwire.LoginToontownResp{
		ReturnCode:           0,
		Message:              "All Ok",
		AccountNumber:        accountID,
		AccountName:          "",
		AccessLevel:          0,
		WhitelistChatEnabled: 1,
		IsPaid:               1,
		AccountDaysLeft:      0,
		OpenChatEnabled:      1,
		EpochSeconds:         uint32(time.Now().Unix()),
		Usec:                 0,
		AccountNameApproved:  1,
	}
	return s.writeClientFrame(clientwire.MsgLoginToontownResp, clientwire.EncodeLoginToontownResp(resp))
}

// runLoginGate validates the version/hash/token-type gate (spec.md §6),
// disconnecting the session itself on failure, then resolves the play
// token to an account via LoadAccountFSM and advances the session to
// Authenticated-no-avatar. ok is false iff the session was disconnected.
func (s *Session) runLoginGate(ctx context.Context, version string, hashVal uint32, tokenType uint8, playToken string) (accountID uint32, ok bool, err error) {
	if s.getPhase() != phasePreAuth {
		return 0, false, s.sendDisconnect(clientwire.DisconnectAlreadyLoggedIn, "already logged in")
	}
	cfg := s.agent.cfg
	if version != cfg.Version {
		return 0, false, s.sendDisconnect(clientwire.DisconnectBadVersion, "bad client version")
	}
	if cfg.EnforceHash && hashVal != cfg.HashVal {
		return 0, false, s.sendDisconnect(clientwire.DisconnectBadDCHash, "bad DC hash")
	}
	if !validTokenType(tokenType) {
		return 0, false, s.sendDisconnect(clientwire.DisconnectInvalidPlayTokenType, "invalid play token type")
	}

	result, err := fsm.Run(s.agent.ops, s.channel, "LoadAccount", func() (fsm.AccountResult, error) {
		return fsm.LoadAccountFSM(ctx, s.agent.db, s.agent.kv, s.agent.schema, playToken, uint32(time.Now().Unix()))
	})
	if err != nil {
		return 0, false, fmt.Errorf("clientagent: LoadAccountFSM: %w", err)
	}

	accountChannel := otpchannel.AccountChannel(result.AccountID)
	if err := s.link.SetChannel(accountChannel); err != nil {
		return 0, false, fmt.Errorf("clientagent: subscribing account channel: %w", err)
	}

	s.mu.Lock()
	s.phase = phaseAuthenticated
	s.accountID = result.AccountID
	s.senderChannel = accountChannel
	s.mu.Unlock()

	if s.agent.metrics != nil {
		s.agent.metrics.AuthenticatedGauge.Inc()
	}
	return result.AccountID, true, nil
}
