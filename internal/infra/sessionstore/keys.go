package sessionstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyOpts describes the inputs used to derive a session key and its
// owning user context id.
type KeyOpts struct {
	Agent          string
	Source         string // "hud" | "voice" | any dm-style channel name
	SessionKeyHint string
	MainKey        string
	Sender         string
	ExplicitUserID string
}

// ResolveSessionKey derives the deterministic, user-isolated session key
// per §4.3's composition rules.
func ResolveSessionKey(opts KeyOpts, uctx string) string {
	if hint := strings.TrimSpace(opts.SessionKeyHint); hint != "" {
		return strings.ToLower(hint)
	}

	switch opts.Source {
	case "hud":
		if uctx != "" {
			return fmt.Sprintf("agent:%s:hud:user:%s:%s", opts.Agent, uctx, opts.MainKey)
		}
		return fmt.Sprintf("agent:%s:hud:%s", opts.Agent, opts.MainKey)
	case "voice":
		sender := opts.Sender
		if sender == "" {
			sender = "local-mic"
		}
		return fmt.Sprintf("agent:%s:voice:dm:%s", opts.Agent, sender)
	default:
		sender := opts.Sender
		if sender == "" {
			sender = "anonymous"
		}
		return fmt.Sprintf("agent:%s:%s:dm:%s", opts.Agent, opts.Source, sender)
	}
}

// ResolveUserContextID derives the owning tenant id for a session per
// §4.3: explicit id, then hud-user sender prefix, then voice sender
// fallback, then a parse from an already-known session key, and finally
// a deterministic hashed fallback so isolation holds even without an
// explicit identity.
func ResolveUserContextID(opts KeyOpts, existingSessionKey string) string {
	if opts.ExplicitUserID != "" {
		return "hud-user:" + opts.ExplicitUserID
	}
	if opts.Source == "hud" && opts.Sender != "" {
		return "hud-user:" + opts.Sender
	}
	if opts.Source == "voice" && opts.Sender != "" {
		return "voice-user:" + opts.Sender
	}
	if existingSessionKey != "" {
		if uctx, ok := parseUserContextFromKey(existingSessionKey); ok {
			return uctx
		}
	}
	seed := opts.SessionKeyHint
	if seed == "" {
		seed = opts.Source + "|" + opts.MainKey + "|" + opts.Sender
	}
	return opts.Source + "-" + hashFallback(seed)
}

func parseUserContextFromKey(key string) (string, bool) {
	const marker = ":hud:user:"
	idx := strings.Index(key, marker)
	if idx < 0 {
		return "", false
	}
	rest := key[idx+len(marker):]
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}

func hashFallback(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:16]
}
