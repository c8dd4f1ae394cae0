package numbering

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultKindNamePrefix names the kinds NumberingAncestor and
	// NumberingItem.
	DefaultKindNamePrefix = "Numbering"

	// DefaultInitialID is where NextID starts a new series.
	DefaultInitialID int64 = 1

	DefaultRetryBudget    = 5 * time.Second
	DefaultInitialBackoff = 50 * time.Millisecond
	DefaultMaxBackoff     = time.Second
)

// Options configures an Allocator. The zero value is valid.
type Options struct {
	// KindNamePrefix prefixes the store kinds: <prefix>Ancestor holds
	// series counters and <prefix>Item holds issuance records.
	KindNamePrefix string `validate:"required,alphanum,max=64"`

	// RetryBudget bounds the total time of one allocation, waits included.
	RetryBudget time.Duration `validate:"gt=0"`

	// InitialBackoff is the first wait after a failed attempt.
	InitialBackoff time.Duration `validate:"gt=0"`

	// MaxBackoff caps a single wait.
	MaxBackoff time.Duration `validate:"gt=0,gtefield=InitialBackoff"`

	// Limiter serializes attempts. Allocators that share a Limiter run
	// their attempts one at a time together. Nil gives the Allocator its own.
	Limiter *Limiter `validate:"-"`

	// Logger receives allocation logs. Nil uses slog.Default().
	Logger *slog.Logger `validate:"-"`

	// Metrics records allocation metrics. Nil disables them.
	Metrics *Metrics `validate:"-"`

	// Clock stamps counter documents. Nil uses time.Now.
	Clock func() time.Time `validate:"-"`
}

var optionsValidator = validator.New(validator.WithRequiredStructEnabled())

// withDefaults fills zero fields.
func (o Options) withDefaults() Options {
	if o.KindNamePrefix == "" {
		o.KindNamePrefix = DefaultKindNamePrefix
	}
	if o.RetryBudget == 0 {
		o.RetryBudget = DefaultRetryBudget
	}
	if o.InitialBackoff == 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = DefaultMaxBackoff
		if o.InitialBackoff > o.MaxBackoff {
			o.MaxBackoff = o.InitialBackoff
		}
	}
	if o.Limiter == nil {
		o.Limiter = NewLimiter()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

func (o Options) validate() error {
	if err := optionsValidator.Struct(o); err != nil {
		var msgs []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
			}
		} else {
			msgs = append(msgs, err.Error())
		}
		return &Error{Code: ErrCodeConfiguration, Message: "invalid options: " + strings.Join(msgs, "; "), Err: err}
	}
	return nil
}
