package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// MembershipPolicy holds operator-tunable membership rules.
type MembershipPolicy struct {
	AssignableRoles []string `mapstructure:"assignableRoles"`
	DefaultPageSize int      `mapstructure:"defaultPageSize"`
	MaxPageSize     int      `mapstructure:"maxPageSize"`
}

// DefaultMembershipPolicy returns the built-in policy used when no
// policy file is mounted.
func DefaultMembershipPolicy() MembershipPolicy {
	return MembershipPolicy{
		AssignableRoles: []string{"admin", "member"},
		DefaultPageSize: 25,
		MaxPageSize:     250,
	}
}

// MembershipPolicyHolder exposes the current policy with hot reload.
type MembershipPolicyHolder struct {
	current atomic.Value // holds MembershipPolicy
}

// NewMembershipPolicyHolder loads policy.yml and watches it for changes.
func NewMembershipPolicyHolder() (*MembershipPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tenantry/config") // Volume-mounted config
	v.AddConfigPath("/etc/tenantry")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("TENANTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultMembershipPolicy()
		v.SetDefault("membership.assignableRoles", defaults.AssignableRoles)
		v.SetDefault("membership.defaultPageSize", defaults.DefaultPageSize)
		v.SetDefault("membership.maxPageSize", defaults.MaxPageSize)
	}

	var policy MembershipPolicy
	if err := v.UnmarshalKey("membership", &policy); err != nil {
		return nil, err
	}
	if err := validateMembershipPolicy(policy); err != nil {
		return nil, err
	}

	holder := &MembershipPolicyHolder{}
	holder.current.Store(policy)

	if v.ConfigFileUsed() == "" {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated MembershipPolicy
		if err := v.UnmarshalKey("membership", &updated); err != nil {
			log.Printf("[membership-policy] reload failed: %v", err)
			return
		}
		if err := validateMembershipPolicy(updated); err != nil {
			log.Printf("[membership-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[membership-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// StaticMembershipPolicyHolder wraps a fixed policy with no file watch.
func StaticMembershipPolicyHolder(policy MembershipPolicy) *MembershipPolicyHolder {
	holder := &MembershipPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

// Get returns the policy currently in effect.
func (h *MembershipPolicyHolder) Get() MembershipPolicy {
	return h.current.Load().(MembershipPolicy)
}

func validateMembershipPolicy(policy MembershipPolicy) error {
	if len(policy.AssignableRoles) == 0 {
		return errors.New("membership.assignableRoles cannot be empty")
	}
	if policy.DefaultPageSize <= 0 || policy.MaxPageSize <= 0 {
		return errors.New("membership page sizes must be positive")
	}
	if policy.DefaultPageSize > policy.MaxPageSize {
		return errors.New("membership.defaultPageSize cannot exceed maxPageSize")
	}
	return nil
}
