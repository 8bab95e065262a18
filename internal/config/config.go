// Package config loads the site configuration: gateway credentials, callback base URL,
// table names and runtime knobs. The resulting Site value is passed explicitly to every
// component that needs it.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Response modes for a successfully handled notification.
const (
	ModeWebhook  = "webhook"
	ModeRedirect = "redirect"
)

// Site is the per-site configuration value.
type Site struct {
	Name              string `mapstructure:"name" validate:"required"`
	EcommerceURL      string `mapstructure:"ecommerce_url" validate:"required,url"`
	OrderNumberPrefix string `mapstructure:"order_number_prefix" validate:"required"`
	Currency          string `mapstructure:"currency" validate:"required,len=3"`
	ResponseMode      string `mapstructure:"response_mode" validate:"oneof=webhook redirect"`
	HTTPAddr          string `mapstructure:"http_addr"`
	LogLevel          string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	QueueURL          string `mapstructure:"queue_url"`
	MetricsNamespace  string `mapstructure:"metrics_namespace"`

	Khipu  Khipu  `mapstructure:"khipu"`
	Tables Tables `mapstructure:"tables"`
}

// Khipu holds the gateway credentials.
type Khipu struct {
	BaseURL              string        `mapstructure:"base_url" validate:"required,url"`
	ReceiverID           string        `mapstructure:"receiver_id" validate:"required"`
	Secret               string        `mapstructure:"secret" validate:"required"`
	ResponsibleUserEmail string        `mapstructure:"responsible_user_email" validate:"required,email"`
	Timeout              time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// Tables names every DynamoDB table and index the service touches.
type Tables struct {
	Baskets        string        `mapstructure:"baskets" validate:"required"`
	Counters       string        `mapstructure:"counters" validate:"required"`
	Responses      string        `mapstructure:"responses" validate:"required"`
	ResponsesIndex string        `mapstructure:"responses_index" validate:"required"`
	Orders         string        `mapstructure:"orders" validate:"required"`
	Idempotency    string        `mapstructure:"idempotency" validate:"required"`
	Outbox         string        `mapstructure:"outbox" validate:"required"`
	OutboxIndex    string        `mapstructure:"outbox_index" validate:"required"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

var defaults = map[string]any{
	"name":                         "default",
	"ecommerce_url":                "http://localhost:8080",
	"order_number_prefix":          "EDX",
	"currency":                     "CLP",
	"response_mode":                ModeWebhook,
	"http_addr":                    ":8080",
	"log_level":                    "info",
	"queue_url":                    "",
	"metrics_namespace":            "Storefront/Payments",
	"khipu.base_url":               "https://khipu.com/api/2.0/",
	"khipu.receiver_id":            "",
	"khipu.secret":                 "",
	"khipu.responsible_user_email": "",
	"khipu.timeout":                "30s",
	"tables.baskets":               "baskets",
	"tables.counters":              "counters",
	"tables.responses":             "processor_responses",
	"tables.responses_index":       "processor_transaction-index",
	"tables.orders":                "orders",
	"tables.idempotency":           "notification_ledger",
	"tables.outbox":                "outbox",
	"tables.outbox_index":          "undelivered-index",
	"tables.idempotency_ttl":       "720h",
}

// Load reads defaults, the optional YAML file at path and STOREFRONT_* environment
// overrides (STOREFRONT_KHIPU_SECRET, STOREFRONT_TABLES_ORDERS, ...), then validates.
func Load(path string) (Site, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Site{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var site Site
	if err := v.Unmarshal(&site); err != nil {
		return Site{}, fmt.Errorf("decode config: %w", err)
	}
	if err := site.Validate(); err != nil {
		return Site{}, err
	}
	return site, nil
}

// Validate checks required fields and formats.
func (s Site) Validate() error {
	if err := validatorv10.New().Struct(s); err != nil {
		var ve validatorv10.ValidationErrors
		if errors.As(err, &ve) {
			fields := make([]string, 0, len(ve))
			for _, fe := range ve {
				fields = append(fields, fe.Namespace()+":"+fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ReceiptURL is where the buyer lands after paying for orderNumber.
func (s Site) ReceiptURL(orderNumber string) string {
	u := s.join("checkout", "receipt") + "/"
	return u + "?" + url.Values{"order_number": {orderNumber}}.Encode()
}

// CancelURL is where the buyer lands after abandoning the gateway page.
func (s Site) CancelURL() string {
	return s.join("checkout", "cancel-checkout") + "/"
}

// CallbackURL joins path onto the public ecommerce URL.
func (s Site) CallbackURL(path string) string {
	return s.join(strings.Split(strings.Trim(path, "/"), "/")...) + "/"
}

func (s Site) join(elem ...string) string {
	u, err := url.JoinPath(s.EcommerceURL, elem...)
	if err != nil {
		return strings.TrimRight(s.EcommerceURL, "/") + "/" + strings.Join(elem, "/")
	}
	return u
}
