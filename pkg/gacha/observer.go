package gacha

import "github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"

// Outcome labels reported to an Observer.
const (
	OutcomeSuccess         = "success"
	OutcomeDuplicate       = "duplicate"
	OutcomeReplayed        = "replayed"
	OutcomeInsufficient    = "insufficient"
	OutcomeRateLimited     = "rate_limited"
	OutcomePoolUnavailable = "pool_unavailable"
	OutcomeRejected        = "rejected"
	OutcomeError           = "error"
)

// Observer receives one callback per finished operation, typically to feed metrics.
type Observer interface {
	EarnObserved(reason ledger.Reason, scopeKind string, outcome string)
	DrawObserved(pool string, scopeKind string, outcome string, rarity string)
}

type noopObserver struct{}

func (noopObserver) EarnObserved(ledger.Reason, string, string) {}

func (noopObserver) DrawObserved(string, string, string, string) {}

func scopeKind(scope ledger.AccountScope) string {
	if scope.IsCircle() {
		return "circle"
	}
	return "personal"
}
