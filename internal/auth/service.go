package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	"SolOracle-Chain/internal/config"
	loggerpkg "SolOracle-Chain/pkg/logger"
)

// Service 使用静态令牌校验 API 请求。
type Service struct {
	mode    Mode
	entries []tokenEntry
	audit   *slog.Logger
}

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// NewService 根据配置构建认证服务。模式为空时视为禁用。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: loggerpkg.Audit()}
	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}

	seen := make(map[[sha256.Size]byte]string, len(cfg.Tokens))
	for i, tok := range cfg.Tokens {
		value := strings.TrimSpace(tok.Token)
		if value == "" {
			return nil, fmt.Errorf("auth token %d (%s) is empty", i, tok.Name)
		}
		digest := sha256.Sum256([]byte(value))
		if prev, ok := seen[digest]; ok {
			return nil, fmt.Errorf("auth token %q duplicates %q", tok.Name, prev)
		}
		seen[digest] = tok.Name
		subject := &Subject{
			Name:        tok.Name,
			Permissions: append([]string(nil), tok.Permissions...),
			Disabled:    tok.Disabled,
		}
		subject.normalise()
		svc.entries = append(svc.entries, tokenEntry{digest: digest, subject: subject})
	}
	if len(svc.entries) == 0 {
		return nil, fmt.Errorf("auth mode %q requires at least one token", mode)
	}
	return svc, nil
}

// NewServiceFromConfig 将守护进程配置转换为认证服务。
func NewServiceFromConfig(cfg config.AuthConfig) (*Service, error) {
	tokens := make([]Token, 0, len(cfg.Tokens))
	for _, tok := range cfg.Tokens {
		tokens = append(tokens, Token{
			Name:        tok.Name,
			Token:       tok.Token,
			Permissions: tok.Permissions,
			Disabled:    tok.Disabled,
		})
	}
	return NewService(Config{Mode: Mode(cfg.Mode), Tokens: tokens})
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 解析 Authorization 头并返回对应主体。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return nil, ErrMissingToken
	}
	scheme, token, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, ErrInvalidToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var match *Subject
	for _, entry := range s.entries {
		if subtle.ConstantTimeCompare(entry.digest[:], digest[:]) == 1 {
			match = entry.subject
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	if match.Disabled {
		return nil, ErrSubjectRevoked
	}
	return match, nil
}
