package api

import (
	"context"
	"fmt"
)

// Principal 已鉴权主体（注入到 context）
type Principal struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles,omitempty"`
}

// HasRole 判断主体是否携带指定角色
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type principalContextKey struct{}

// WithPrincipal 注入 Principal 到 context
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFrom 从 context 提取 Principal
func PrincipalFrom(ctx context.Context) (*Principal, error) {
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || principal == nil {
		return nil, fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// MustPrincipalFrom 从 context 提取 Principal，panic if missing（仅用于已鉴权路由）
func MustPrincipalFrom(ctx context.Context) *Principal {
	principal, err := PrincipalFrom(ctx)
	if err != nil {
		panic("principal missing from context: middleware not applied?")
	}
	return principal
}
