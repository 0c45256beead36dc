// Package quota is the admission gate: it decides, before any job row
// exists, whether an upload fits the caller's plan. Rejections have no side
// effects.
package quota

import (
	"context"
	"fmt"

	"github.com/voxhub/asr-gateway/internal/audio"
	"github.com/voxhub/asr-gateway/internal/identity"
	"github.com/voxhub/asr-gateway/internal/plan"
	"github.com/voxhub/asr-gateway/internal/usage"
)

const (
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeMonthlyLimitExceeded = "MONTHLY_LIMIT_EXCEEDED"
)

type Decision struct {
	Allowed bool
	Code    string
	Message string

	// DurationSec is the probed duration, nil when extraction failed.
	// Unknown duration participates in no quota check.
	DurationSec *float64
	Meta        *audio.Meta
}

func allow(meta *audio.Meta, duration *float64) Decision {
	return Decision{Allowed: true, DurationSec: duration, Meta: meta}
}

func reject(code, message string) Decision {
	return Decision{Code: code, Message: message}
}

type Guard struct {
	ledger *usage.Store
}

func NewGuard(ledger *usage.Store) *Guard {
	return &Guard{ledger: ledger}
}

// Admit runs the checks cheapest first: declared size, then the duration
// probe, then the monthly aggregate (only when the duration is known and
// the plan is metered). The aggregate read is unlocked; two concurrent
// uploads near the boundary may both pass — accepted tradeoff.
func (g *Guard) Admit(ctx context.Context, ident identity.Identity, p *plan.Plan, declaredSize int64, audioBytes []byte) (Decision, error) {
	if p.MaxFileSizeMB != nil {
		maxBytes := int64(*p.MaxFileSizeMB) * 1024 * 1024
		if declaredSize > 0 && declaredSize > maxBytes {
			return reject(CodeFileTooLarge, "File exceeds the maximum size for your plan."), nil
		}
	}

	var (
		duration *float64
		meta     *audio.Meta
	)
	if m, err := audio.Probe(audioBytes); err == nil {
		d := m.DurationSec
		duration = &d
		meta = &m
	}

	if duration != nil && p.MonthlySecondsLimit != nil {
		used, err := g.ledger.MonthlySeconds(ctx, ident)
		if err != nil {
			return Decision{}, fmt.Errorf("quota: monthly aggregate: %w", err)
		}
		if used+*duration > float64(*p.MonthlySecondsLimit) {
			return reject(CodeMonthlyLimitExceeded, "Monthly seconds limit reached for your plan."), nil
		}
	}

	return allow(meta, duration), nil
}
