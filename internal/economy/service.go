package economy

import (
	"context"
	"fmt"
	"math"

	"github.com/limbopet/worldcore/internal/facts"
	"github.com/limbopet/worldcore/internal/ledger"
	"github.com/limbopet/worldcore/internal/platform/postgres"
	"github.com/limbopet/worldcore/internal/worldclock"
	"github.com/limbopet/worldcore/pkg/logger"
)

// basePrizePool is the unscaled daily mint to the world treasury.
const basePrizePool = 500

// Service runs the economy sub-tick.
type Service struct {
	ledger *ledger.Service
	log    *logger.Logger
}

// New creates the economy service.
func New(ledgerSvc *ledger.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("economy")
	}
	return &Service{ledger: ledgerSvc, log: log}
}

// SubTick advances the economy for one world day. It first evaluates the
// cycle, then mints the daily prize pool to the world treasury, scaled by the
// cycle's revenue multiplier. The mint is guarded per day: re-running the
// same day is a no-op.
func (s *Service) SubTick(ctx context.Context, client postgres.Client, day string) error {
	result, err := UpdateCycle(ctx, client, day)
	if err != nil {
		return err
	}
	if result.Changed {
		s.log.WithFields(map[string]interface{}{
			"day":  day,
			"from": result.Previous.State,
			"to":   result.Cycle.State,
		}).Info("economy cycle shifted")
	}

	amount := int64(math.Ceil(basePrizePool * result.Cycle.RevenueMultiplier))
	guard, err := facts.WithOnceGuard(ctx, client, worldclock.WorldSubject, factNamespace, facts.DayToken(day), func() error {
		_, err := s.ledger.TransferTx(ctx, client, ledger.TransferInput{
			To:            worldclock.WorldSubject,
			Amount:        amount,
			Type:          ledger.TypeRevenue,
			Memo:          fmt.Sprintf("daily prize pool (day:%s)", day),
			ReferenceType: "economy",
		})
		return err
	})
	if err != nil {
		return err
	}
	if guard.Applied {
		s.log.WithField("day", day).WithField("amount", amount).Info("daily prize pool minted")
	}
	return nil
}
