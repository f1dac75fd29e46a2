// Package servicetest assembles the referral services on an in-memory store
// for cross-component tests.
package servicetest

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	attributiondomain "github.com/smallbiznis/referrals/internal/attribution/domain"
	attributionrepo "github.com/smallbiznis/referrals/internal/attribution/repository"
	attributionservice "github.com/smallbiznis/referrals/internal/attribution/service"
	auditdomain "github.com/smallbiznis/referrals/internal/audit/domain"
	auditrepo "github.com/smallbiznis/referrals/internal/audit/repository"
	auditservice "github.com/smallbiznis/referrals/internal/audit/service"
	"github.com/smallbiznis/referrals/internal/clock"
	commissiondomain "github.com/smallbiznis/referrals/internal/commission/domain"
	commissionrepo "github.com/smallbiznis/referrals/internal/commission/repository"
	commissionservice "github.com/smallbiznis/referrals/internal/commission/service"
	"github.com/smallbiznis/referrals/internal/config"
	conversiondomain "github.com/smallbiznis/referrals/internal/conversion/domain"
	conversionrepo "github.com/smallbiznis/referrals/internal/conversion/repository"
	conversionservice "github.com/smallbiznis/referrals/internal/conversion/service"
	"github.com/smallbiznis/referrals/internal/events"
	partnerdomain "github.com/smallbiznis/referrals/internal/partner/domain"
	partnerrepo "github.com/smallbiznis/referrals/internal/partner/repository"
	partnerservice "github.com/smallbiznis/referrals/internal/partner/service"
	payoutdomain "github.com/smallbiznis/referrals/internal/payout/domain"
	payoutrepo "github.com/smallbiznis/referrals/internal/payout/repository"
	payoutservice "github.com/smallbiznis/referrals/internal/payout/service"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	coderepo "github.com/smallbiznis/referrals/internal/referralcode/repository"
	codeservice "github.com/smallbiznis/referrals/internal/referralcode/service"
	"github.com/smallbiznis/referrals/internal/storetest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Stack struct {
	DB      *gorm.DB
	Clock   *clock.FakeClock
	Node    *snowflake.Node
	Program *config.ProgramConfigHolder
	Outbox  *events.Outbox

	PartnerRepo partnerdomain.Repository

	Audit        auditdomain.Service
	Partners     partnerdomain.Service
	Codes        codedomain.Service
	Attributions attributiondomain.Service
	Conversions  conversiondomain.Service
	Commissions  commissiondomain.Service
	Payouts      payoutdomain.Service
}

// New wires every service against a fresh store using program settings.
func New(t *testing.T, program config.ProgramConfig) *Stack {
	t.Helper()
	db := storetest.Open(t)
	clk := storetest.Clock()
	node := storetest.Node(t)
	log := zap.NewNop()
	holder := config.NewStaticProgramConfigHolder(program)
	outbox := events.NewOutbox(node, clk)

	partners := partnerrepo.Provide()
	attributions := attributionrepo.Provide()
	commissions := commissionrepo.Provide()

	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	codes := codeservice.New(codeservice.Params{
		DB: db, Log: log, Clock: clk, Repo: coderepo.Provide(), Partners: partners, Program: holder, Audit: audit,
	})

	return &Stack{
		DB:          db,
		Clock:       clk,
		Node:        node,
		Program:     holder,
		Outbox:      outbox,
		PartnerRepo: partners,
		Audit:       audit,
		Codes:       codes,
		Partners: partnerservice.New(partnerservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: partners, Program: holder, Outbox: outbox, Audit: audit,
		}),
		Attributions: attributionservice.New(attributionservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: attributions, Codes: codes, Partners: partners, Outbox: outbox,
		}),
		Conversions: conversionservice.New(conversionservice.Params{
			DB: db, Log: log, Clock: clk, Repo: conversionrepo.Provide(), Attributions: attributions, Partners: partners, Outbox: outbox,
		}),
		Commissions: commissionservice.New(commissionservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: commissions, Attributions: attributions,
			Partners: partners, Program: holder, Outbox: outbox,
		}),
		Payouts: payoutservice.New(payoutservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: payoutrepo.Provide(), Commissions: commissions,
			Config: config.Config{Payout: config.PayoutConfig{LockTTL: time.Minute}},
			Partners: partners, Program: holder, Outbox: outbox, Audit: audit,
		}),
	}
}
