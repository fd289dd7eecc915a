package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"
)

const (
	RoleQueryReader = "query_reader"
	RoleTableAdmin  = "table_admin"
)

// Identity is the authenticated tenant principal of a request.
type Identity struct {
	TenantID string
	Roles    []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator holds configured keys indexed by their sha256 digest,
// so the plaintext keys are not kept in memory after startup.
type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses a comma-separated list of
// key:tenant:role|role entries. An empty spec yields a validator that accepts
// nothing.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	for i, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, identity, err := parseKeyEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("static key entry %d: %w", i+1, err)
		}
		digest := HashKey(key)
		if _, exists := validator.keys[digest]; exists {
			return nil, fmt.Errorf("static key entry %d: key is already assigned (tenant %q)", i+1, identity.TenantID)
		}
		validator.keys[digest] = identity
	}
	return validator, nil
}

func parseKeyEntry(entry string) (string, Identity, error) {
	key, rest, hasTenant := strings.Cut(entry, ":")
	tenant, roleList, hasRoles := strings.Cut(rest, ":")
	if !hasTenant || !hasRoles || strings.Contains(roleList, ":") {
		return "", Identity{}, fmt.Errorf("want key:tenant:role|role")
	}
	key, tenant = strings.TrimSpace(key), strings.TrimSpace(tenant)
	if key == "" || tenant == "" {
		return "", Identity{}, fmt.Errorf("key and tenant must not be empty")
	}

	seen := map[string]bool{}
	var roles []string
	for _, role := range strings.Split(roleList, "|") {
		role = strings.TrimSpace(role)
		if role != "" && !seen[role] {
			seen[role] = true
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", Identity{}, fmt.Errorf("tenant %q needs at least one role", tenant)
	}
	sort.Strings(roles)
	return key, Identity{TenantID: tenant, Roles: roles}, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	if apiKey == "" {
		return Identity{}, false
	}
	identity, ok := v.keys[HashKey(apiKey)]
	return identity, ok
}

func HashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
