package config

import (
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BookingPolicy is operator-tunable booking behaviour, loaded from
// booking.yml and hot-reloaded on change.
type BookingPolicy struct {
	// Minutes after an event's start time during which booking and
	// attendance are still open.
	AttendanceWindowMinutes int    `mapstructure:"attendanceWindowMinutes"`
	Currency                string `mapstructure:"currency"`

	// When true the booking engine uses the sequential write strategy
	// instead of a multi-document transaction. Only for stores without
	// transaction support; the guarantee is weaker.
	SequentialFallback bool `mapstructure:"sequentialFallback"`

	WebhookRatePerSecond float64 `mapstructure:"webhookRatePerSecond"`
	WebhookBurst         int     `mapstructure:"webhookBurst"`
	BookingRatePerSecond float64 `mapstructure:"bookingRatePerSecond"`
	BookingBurst         int     `mapstructure:"bookingBurst"`
}

func DefaultBookingPolicy() BookingPolicy {
	return BookingPolicy{
		AttendanceWindowMinutes: 60,
		Currency:                "EUR",
		SequentialFallback:      false,
		WebhookRatePerSecond:    20,
		WebhookBurst:            40,
		BookingRatePerSecond:    5,
		BookingBurst:            10,
	}
}

func (p BookingPolicy) AttendanceWindow() time.Duration {
	if p.AttendanceWindowMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(p.AttendanceWindowMinutes) * time.Minute
}

// BookingPolicyHolder provides lock-free reads of the current policy.
type BookingPolicyHolder struct {
	current atomic.Value // holds BookingPolicy
}

func NewBookingPolicyHolder() (*BookingPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("booking")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/fstop")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FSTOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &BookingPolicyHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultBookingPolicy())
		return holder, nil
	}

	policy, err := unmarshalPolicy(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(policy)

	v.OnConfigChange(func(in fsnotify.Event) {
		reloaded, err := unmarshalPolicy(v)
		if err != nil {
			log.Printf("booking policy reload failed, keeping previous: %v", err)
			return
		}
		holder.current.Store(reloaded)
	})
	v.WatchConfig()

	return holder, nil
}

func (h *BookingPolicyHolder) Get() BookingPolicy {
	if v, ok := h.current.Load().(BookingPolicy); ok {
		return v
	}
	return DefaultBookingPolicy()
}

// Set replaces the current policy. Intended for tests.
func (h *BookingPolicyHolder) Set(p BookingPolicy) {
	h.current.Store(p)
}

func unmarshalPolicy(v *viper.Viper) (BookingPolicy, error) {
	policy := DefaultBookingPolicy()
	if err := v.UnmarshalKey("booking", &policy); err != nil {
		return BookingPolicy{}, err
	}
	if policy.AttendanceWindowMinutes <= 0 {
		policy.AttendanceWindowMinutes = 60
	}
	if policy.Currency == "" {
		policy.Currency = "EUR"
	}
	return policy, nil
}
